package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
)

const (
	mqttConnectTimeout    = 30 * time.Second
	mqttSubscribeTimeout  = 10 * time.Second
	mqttDisconnectQuiesce = 250
)

// MQTTSource subscribes to <topic>/+ and treats the last topic segment as
// the event name.
type MQTTSource struct {
	settings  *conf.MQTTSettings
	reconnect *conf.ReconnectSettings
	clientID  string
	metrics   *metrics.IngestMetrics

	// newClient is replaced in tests.
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

// NewMQTTSource creates an MQTT source. An empty client id is derived from name.
func NewMQTTSource(settings *conf.MQTTSettings, reconnect *conf.ReconnectSettings, name string, m *metrics.IngestMetrics) *MQTTSource {
	clientID := settings.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	}
	return &MQTTSource{
		settings:  settings,
		reconnect: reconnect,
		clientID:  clientID,
		metrics:   m,
		newClient: mqtt.NewClient,
	}
}

// Name implements Source.
func (s *MQTTSource) Name() string {
	return conf.TransportMQTT
}

// SubscriptionTopic is the wildcard filter covering every event name.
func (s *MQTTSource) SubscriptionTopic() string {
	return strings.TrimSuffix(s.settings.Topic, "/") + "/+"
}

// Run implements Source.
func (s *MQTTSource) Run(ctx context.Context, h Handler) error {
	backoff := NewBackoff(s.reconnect.InitialDelay, s.reconnect.MaxDelay)
	log := GetLogger().With(logger.String("transport", s.Name()), logger.String("broker", s.settings.Broker))

	for {
		lost := make(chan error, 1)
		client, err := s.connect(ctx, h, lost)
		if err == nil {
			backoff.Reset()
			log.Info("connected to upstream", logger.String("topic", s.SubscriptionTopic()))
			h.HandleStatus(ctx, true, nil)

			select {
			case <-ctx.Done():
				client.Disconnect(mqttDisconnectQuiesce)
				return nil
			case err = <-lost:
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		err = connectionError(s.Name(), err)
		if s.metrics != nil {
			s.metrics.IncrementErrors(s.Name())
		}
		h.HandleStatus(ctx, false, err)

		delay := backoff.Next()
		log.Warn("upstream connection failed, retrying",
			logger.Error(err),
			logger.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if s.metrics != nil {
			s.metrics.IncrementReconnectAttempts(s.Name())
		}
	}
}

// connect dials the broker and subscribes. Connection loss is reported on lost.
func (s *MQTTSource) connect(ctx context.Context, h Handler, lost chan<- error) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.settings.Broker)
	opts.SetClientID(s.clientID)
	opts.SetUsername(s.settings.Username)
	opts.SetPassword(s.settings.Password)
	opts.SetCleanSession(true)
	// Reconnection is driven by Run so the backoff stays observable.
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetOrderMatters(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})

	client := s.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("connection to %s timed out", s.settings.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connection error: %w", err)
	}

	topic := s.SubscriptionTopic()
	// Non-frame events block here when the pipeline is full, holding paho's
	// router; unacknowledged QoS 1 messages stay with the broker meanwhile.
	token = client.Subscribe(topic, s.settings.QoS, func(_ mqtt.Client, m mqtt.Message) {
		h.HandleMessage(ctx, Message{
			Name:    eventName(m.Topic()),
			Payload: m.Payload(),
			Arrival: time.Now(),
		})
	})
	if !token.WaitTimeout(mqttSubscribeTimeout) {
		client.Disconnect(mqttDisconnectQuiesce)
		return nil, fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(mqttDisconnectQuiesce)
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return client, nil
}

// eventName returns the last segment of an MQTT topic.
func eventName(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
