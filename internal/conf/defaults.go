// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "birdnet-relay")
	viper.SetDefault("main.timezone", "Local")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/birdnet-relay.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("upstream.transport", TransportMQTT)
	viper.SetDefault("upstream.queuesize", 256)
	viper.SetDefault("upstream.reconnect.initialdelay", time.Second)
	viper.SetDefault("upstream.reconnect.maxdelay", 5*time.Minute)

	viper.SetDefault("upstream.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("upstream.mqtt.clientid", "")
	viper.SetDefault("upstream.mqtt.username", "")
	viper.SetDefault("upstream.mqtt.password", "")
	viper.SetDefault("upstream.mqtt.topic", "birdnet")
	viper.SetDefault("upstream.mqtt.qos", 1)

	viper.SetDefault("upstream.websocket.url", "ws://localhost:5000/events")
	viper.SetDefault("upstream.websocket.handshaketimeout", 10*time.Second)
	viper.SetDefault("upstream.websocket.pongwait", 60*time.Second)
	viper.SetDefault("upstream.websocket.pinginterval", 54*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "birdnet-relay.db")

	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "birdnet")
	viper.SetDefault("output.mysql.password", "secret")
	viper.SetDefault("output.mysql.database", "birdnet")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.sendtimeout", 3*time.Second)
	viper.SetDefault("webserver.subscriberbuffer", 256)
	viper.SetDefault("webserver.ratelimit.enabled", true)
	viper.SetDefault("webserver.ratelimit.rate", 20.0)
	viper.SetDefault("webserver.ratelimit.burst", 40)
	viper.SetDefault("webserver.ratelimit.expiresin", 3*time.Minute)
	viper.SetDefault("webserver.allowedorigins", []string{})

	viper.SetDefault("query.defaultlimit", 50)
	viper.SetDefault("query.maxlimit", 1000)
	viper.SetDefault("query.statscachettl", 2*time.Second)

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
