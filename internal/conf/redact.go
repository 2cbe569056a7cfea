package conf

import "net/url"

const redacted = "[REDACTED]"

// Redacted returns a copy of the settings with credentials masked, safe for
// printing or logging.
func (s *Settings) Redacted() *Settings {
	c := *s
	c.WebServer.AllowedOrigins = append([]string(nil), s.WebServer.AllowedOrigins...)

	if c.Upstream.MQTT.Password != "" {
		c.Upstream.MQTT.Password = redacted
	}
	if c.Output.MySQL.Password != "" {
		c.Output.MySQL.Password = redacted
	}
	if c.Sentry.DSN != "" {
		c.Sentry.DSN = redactURL(c.Sentry.DSN)
	}
	c.Upstream.Websocket.URL = redactURL(c.Upstream.Websocket.URL)
	c.Upstream.MQTT.Broker = redactURL(c.Upstream.MQTT.Broker)
	return &c
}

// redactURL masks userinfo and the query string of a URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery != "" {
		u.RawQuery = redacted
	}
	return u.String()
}
