package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/errors"
)

type statusEvent struct {
	connected bool
	err       error
}

// channelHandler forwards everything a source reports onto channels.
type channelHandler struct {
	messages chan Message
	statuses chan statusEvent
}

func newChannelHandler() *channelHandler {
	return &channelHandler{
		messages: make(chan Message, 16),
		statuses: make(chan statusEvent, 16),
	}
}

func (h *channelHandler) HandleMessage(_ context.Context, msg Message) {
	h.messages <- msg
}

func (h *channelHandler) HandleStatus(_ context.Context, connected bool, err error) {
	h.statuses <- statusEvent{connected, err}
}

func (h *channelHandler) nextStatus(t *testing.T) statusEvent {
	t.Helper()
	select {
	case s := <-h.statuses:
		return s
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no status reported")
		return statusEvent{}
	}
}

func (h *channelHandler) nextMessage(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-h.messages:
		return m
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no message delivered")
		return Message{}
	}
}

var fastReconnect = conf.ReconnectSettings{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond}

// fakeToken is an already completed paho token.
type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

// fakeClient records what the source does with a paho client.
type fakeClient struct {
	mqtt.Client
	opts       *mqtt.ClientOptions
	connectErr error

	mu           sync.Mutex
	topic        string
	callback     mqtt.MessageHandler
	disconnected atomic.Bool
}

func (c *fakeClient) Connect() mqtt.Token { return fakeToken{err: c.connectErr} }

func (c *fakeClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
	c.callback = callback
	return fakeToken{}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected.Store(true) }

func (c *fakeClient) deliver(topic, payload string) {
	c.mu.Lock()
	callback := c.callback
	c.mu.Unlock()
	callback(c, fakeMessage{topic: topic, payload: []byte(payload)})
}

func TestMQTTSourceReconnectsAndDelivers(t *testing.T) {
	t.Parallel()

	settings := conf.MQTTSettings{Broker: "tcp://broker:1883", Topic: "birdnet/", QoS: 1}
	source := NewMQTTSource(&settings, &fastReconnect, "relay", nil)
	assert.Equal(t, "birdnet/+", source.SubscriptionTopic())

	clients := make(chan *fakeClient, 4)
	var attempts atomic.Int32
	source.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		c := &fakeClient{opts: opts}
		if attempts.Add(1) == 1 {
			c.connectErr = errors.NewStd("connection refused")
		}
		clients <- c
		return c
	}

	h := newChannelHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, h) }()

	first := h.nextStatus(t)
	assert.False(t, first.connected)
	assert.True(t, errors.IsCategory(first.err, errors.CategoryUpstream))

	<-clients // the failed client
	client := <-clients
	assert.True(t, h.nextStatus(t).connected)
	assert.Equal(t, "birdnet/+", client.topic)
	assert.False(t, client.opts.AutoReconnect)

	client.deliver("birdnet/deteksi", `{"jumlah":2}`)
	got := h.nextMessage(t)
	assert.Equal(t, "deteksi", got.Name)
	assert.JSONEq(t, `{"jumlah":2}`, string(got.Payload))

	client.opts.OnConnectionLost(client, errors.NewStd("EOF"))
	assert.False(t, h.nextStatus(t).connected)

	third := <-clients
	assert.True(t, h.nextStatus(t).connected)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "source did not stop")
	}
	assert.True(t, third.disconnected.Load())
}

func TestMQTTSourceDerivesClientID(t *testing.T) {
	t.Parallel()

	source := NewMQTTSource(&conf.MQTTSettings{Topic: "birdnet"}, &fastReconnect, "relay", nil)
	assert.True(t, strings.HasPrefix(source.clientID, "relay-"))

	named := NewMQTTSource(&conf.MQTTSettings{ClientID: "fixed"}, &fastReconnect, "relay", nil)
	assert.Equal(t, "fixed", named.clientID)
}

func TestWebsocketSourceReadsAndReconnects(t *testing.T) {
	t.Parallel()

	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connections.Add(1)
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"deteksi","data":{"jumlah":1}}`))
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"log","data":{"jumlah":2,"waktu":"10:00:00"}}`))
			return // drop the connection
		}
		// keep the second connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	settings := conf.WebsocketSettings{
		URL:              "ws" + strings.TrimPrefix(server.URL, "http"),
		HandshakeTimeout: time.Second,
	}
	source := NewWebsocketSource(&settings, &fastReconnect, nil)
	assert.Equal(t, conf.TransportWebsocket, source.Name())

	h := newChannelHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, h) }()

	assert.True(t, h.nextStatus(t).connected)
	assert.Equal(t, "deteksi", h.nextMessage(t).Name)
	assert.Equal(t, "log", h.nextMessage(t).Name)

	lost := h.nextStatus(t)
	assert.False(t, lost.connected)
	require.Error(t, lost.err)

	assert.True(t, h.nextStatus(t).connected)
	assert.Equal(t, int32(2), connections.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "source did not stop")
	}
}

func TestWebsocketSourceDetectsSilentProducer(t *testing.T) {
	t.Parallel()

	var connections atomic.Int32
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		connections.Add(1)
		// never read, so pings go unanswered, like a half-open link
		<-release
	}))
	defer server.Close()
	defer close(release)

	settings := conf.WebsocketSettings{
		URL:              "ws" + strings.TrimPrefix(server.URL, "http"),
		HandshakeTimeout: time.Second,
		PongWait:         150 * time.Millisecond,
		PingInterval:     50 * time.Millisecond,
	}
	source := NewWebsocketSource(&settings, &fastReconnect, nil)

	h := newChannelHandler()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- source.Run(ctx, h) }()

	assert.True(t, h.nextStatus(t).connected)
	lost := h.nextStatus(t)
	assert.False(t, lost.connected)
	require.Error(t, lost.err)
	assert.True(t, h.nextStatus(t).connected, "reconnects after the timeout")
	assert.GreaterOrEqual(t, connections.Load(), int32(2))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "source did not stop")
	}
}

func TestWebsocketSourceKeepaliveDefaults(t *testing.T) {
	t.Parallel()

	source := NewWebsocketSource(&conf.WebsocketSettings{}, &fastReconnect, nil)
	assert.Equal(t, 60*time.Second, source.pongWait)
	assert.Equal(t, 54*time.Second, source.pingInterval)

	source = NewWebsocketSource(&conf.WebsocketSettings{PongWait: time.Second, PingInterval: 2 * time.Second}, &fastReconnect, nil)
	assert.Equal(t, 900*time.Millisecond, source.pingInterval)
}

func TestNewSourceSelectsTransport(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Upstream.Transport = conf.TransportMQTT
	src, err := NewSource(settings, nil)
	require.NoError(t, err)
	assert.IsType(t, &MQTTSource{}, src)

	settings.Upstream.Transport = conf.TransportWebsocket
	src, err = NewSource(settings, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebsocketSource{}, src)

	settings.Upstream.Transport = "carrier-pigeon"
	_, err = NewSource(settings, nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
