// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tphakala/birdnet-relay/internal/clock"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateMainSettings,
		validateUpstreamSettings,
		validateOutputSettings,
		validateWebServerSettings,
		validateQuerySettings,
		validateTelemetrySettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateMainSettings(settings *Settings) []string {
	var errs []string
	if _, err := clock.LoadLocation(settings.Main.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("main.timezone: unknown time zone %q", settings.Main.Timezone))
	}
	if tz := settings.Logging.Timezone; tz != "" && tz != settings.Main.Timezone {
		if _, err := clock.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Sprintf("logging.timezone: unknown time zone %q", tz))
		}
	}
	return errs
}

func validateUpstreamSettings(settings *Settings) []string {
	var errs []string
	up := &settings.Upstream

	switch up.Transport {
	case TransportMQTT:
		if up.MQTT.Broker == "" {
			errs = append(errs, "upstream.mqtt.broker must be set when transport is mqtt")
		} else if u, err := url.Parse(up.MQTT.Broker); err != nil || u.Host == "" {
			errs = append(errs, fmt.Sprintf("upstream.mqtt.broker %q is not a valid broker URL", up.MQTT.Broker))
		}
		if up.MQTT.Topic == "" || strings.ContainsAny(up.MQTT.Topic, "+#") {
			errs = append(errs, "upstream.mqtt.topic must be a non-empty topic without wildcards")
		}
		if up.MQTT.QoS > 2 {
			errs = append(errs, "upstream.mqtt.qos must be 0, 1 or 2")
		}
	case TransportWebsocket:
		u, err := url.Parse(up.Websocket.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("upstream.websocket.url %q must be a ws:// or wss:// URL", up.Websocket.URL))
		}
		if up.Websocket.PongWait > 0 && up.Websocket.PingInterval >= up.Websocket.PongWait {
			errs = append(errs, "upstream.websocket.pinginterval must be shorter than pongwait")
		}
	default:
		errs = append(errs, fmt.Sprintf("upstream.transport must be %q or %q, got %q", TransportMQTT, TransportWebsocket, up.Transport))
	}

	if up.QueueSize < 1 {
		errs = append(errs, "upstream.queuesize must be at least 1")
	}
	if up.Reconnect.InitialDelay <= 0 {
		errs = append(errs, "upstream.reconnect.initialdelay must be positive")
	}
	if up.Reconnect.MaxDelay < up.Reconnect.InitialDelay {
		errs = append(errs, "upstream.reconnect.maxdelay must not be less than initialdelay")
	}
	return errs
}

func validateOutputSettings(settings *Settings) []string {
	var errs []string
	out := &settings.Output

	switch {
	case out.SQLite.Enabled && out.MySQL.Enabled:
		errs = append(errs, "only one of output.sqlite and output.mysql can be enabled")
	case !out.SQLite.Enabled && !out.MySQL.Enabled:
		errs = append(errs, "one of output.sqlite or output.mysql must be enabled")
	}

	if out.SQLite.Enabled && out.SQLite.Path == "" {
		errs = append(errs, "output.sqlite.path must be set")
	}
	if out.MySQL.Enabled {
		if out.MySQL.Host == "" || out.MySQL.Database == "" {
			errs = append(errs, "output.mysql.host and output.mysql.database must be set")
		}
		if err := validatePort(out.MySQL.Port); err != nil {
			errs = append(errs, "output.mysql.port: "+err.Error())
		}
	}
	return errs
}

func validateWebServerSettings(settings *Settings) []string {
	var errs []string
	ws := &settings.WebServer

	if ws.Enabled {
		if err := validatePort(ws.Port); err != nil {
			errs = append(errs, "webserver.port: "+err.Error())
		}
	}
	if ws.SendTimeout <= 0 {
		errs = append(errs, "webserver.sendtimeout must be positive")
	}
	if ws.SubscriberBuffer < 1 {
		errs = append(errs, "webserver.subscriberbuffer must be at least 1")
	}
	if ws.RateLimit.Enabled && (ws.RateLimit.Rate <= 0 || ws.RateLimit.Burst < 1) {
		errs = append(errs, "webserver.ratelimit.rate must be positive and burst at least 1")
	}
	return errs
}

func validateQuerySettings(settings *Settings) []string {
	var errs []string
	q := &settings.Query

	if q.MaxLimit < 1 {
		errs = append(errs, "query.maxlimit must be at least 1")
	}
	if q.DefaultLimit < 1 || q.DefaultLimit > q.MaxLimit {
		errs = append(errs, fmt.Sprintf("query.defaultlimit must be between 1 and query.maxlimit (%d)", q.MaxLimit))
	}
	if q.StatsCacheTTL < 0 {
		errs = append(errs, "query.statscachettl must not be negative")
	}
	return errs
}

func validateTelemetrySettings(settings *Settings) []string {
	var errs []string
	if settings.Telemetry.Enabled && settings.Telemetry.Listen == "" {
		errs = append(errs, "telemetry.listen must be set when telemetry is enabled")
	}
	if settings.Sentry.Enabled && settings.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn must be set when sentry is enabled")
	}
	return errs
}

func validatePort(port string) error {
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}
