package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/datastore"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
	"github.com/tphakala/birdnet-relay/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type broadcast struct {
	msgType protocol.MessageType
	payload any
}

// recordingHub captures everything the ingestor pushes.
type recordingHub struct {
	mu        sync.Mutex
	live      []broadcast
	refreshes []string
	statuses  []protocol.UpstreamStatus
	notify    chan struct{}
}

func newRecordingHub() *recordingHub {
	return &recordingHub{notify: make(chan struct{}, 64)}
}

func (r *recordingHub) BroadcastLive(_ context.Context, msgType protocol.MessageType, payload any) error {
	r.mu.Lock()
	r.live = append(r.live, broadcast{msgType, payload})
	r.mu.Unlock()
	r.signal()
	return nil
}

func (r *recordingHub) BroadcastRefresh(_ context.Context, date string) error {
	r.mu.Lock()
	r.refreshes = append(r.refreshes, date)
	r.mu.Unlock()
	r.signal()
	return nil
}

func (r *recordingHub) BroadcastStatus(_ context.Context, status protocol.UpstreamStatus) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
	r.signal()
	return nil
}

func (r *recordingHub) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recordingHub) liveTypes() []protocol.MessageType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]protocol.MessageType, len(r.live))
	for i, b := range r.live {
		types[i] = b.msgType
	}
	return types
}

// scriptedSource replays messages, then blocks until cancelled.
type scriptedSource struct {
	messages []Message
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Run(ctx context.Context, h Handler) error {
	h.HandleStatus(ctx, true, nil)
	for _, msg := range s.messages {
		h.HandleMessage(ctx, msg)
	}
	<-ctx.Done()
	return nil
}

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "relay.db")
	store, err := datastore.New(settings)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func msg(name, payload string) Message {
	return Message{Name: name, Payload: []byte(payload), Arrival: arrival}
}

func TestPipelineDispatchesEachKind(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	hub := newRecordingHub()
	ing := New(&scriptedSource{}, store, hub, testClock(), 16, nil)
	ctx := context.Background()

	_, ok := ing.LiveCount()
	assert.False(t, ok)

	ing.process(ctx, msg("frame", `"aGVsbG8="`))
	ing.process(ctx, msg("frame", ``))
	ing.process(ctx, msg("deteksi", `{"jumlah":2}`))
	ing.process(ctx, msg("log", `{"jumlah":3,"lama_terdeteksi":4,"waktu":"10:00:00"}`))

	assert.Equal(t, []protocol.MessageType{
		protocol.TypeFrameUpdate,
		protocol.TypeLiveCountUpdate,
		protocol.TypeDetectionLogged,
	}, hub.liveTypes())
	assert.Equal(t, []string{"2024-05-01"}, hub.refreshes)

	live, ok := ing.LiveCount()
	require.True(t, ok)
	assert.Equal(t, 2, live.Count)

	frame, ok := hub.live[0].payload.(protocol.FrameUpdate)
	require.True(t, ok)
	assert.Equal(t, uint64(1), frame.Seq)

	logged, ok := hub.live[2].payload.(protocol.DetectionLogged)
	require.True(t, ok)
	assert.NotZero(t, logged.Event.ID)
	assert.Equal(t, 3, logged.Event.Count)
	assert.InDelta(t, 4.0, logged.Event.DurationSeconds, 1e-9)

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, datastore.Totals{Detections: 1, Birds: 3}, totals)
}

func TestInvalidDetectionIsDroppedWithoutAppend(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	hub := newRecordingHub()
	registry := prometheus.NewRegistry()
	m, err := metrics.NewIngestMetrics(registry)
	require.NoError(t, err)

	ing := New(&scriptedSource{}, store, hub, testClock(), 16, m)
	ctx := context.Background()

	ing.process(ctx, msg("detectionLogged", `{"count":-1,"occurredAt":"2024-05-01T10:00:00Z"}`))
	ing.process(ctx, msg("mystery", `{}`))

	assert.Empty(t, hub.liveTypes())
	assert.Zero(t, store.Revision())

	families, err := registry.Gather()
	require.NoError(t, err)
	var failures float64
	for _, f := range families {
		if f.GetName() == "ingest_validation_failures_total" {
			for _, metric := range f.GetMetric() {
				failures += metric.GetCounter().GetValue()
			}
		}
	}
	assert.InDelta(t, 2, failures, 0)
}

func TestStoreFailureDropsDetection(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Close())
	hub := newRecordingHub()
	ing := New(&scriptedSource{}, store, hub, testClock(), 16, nil)

	ing.process(context.Background(), msg("log", `{"jumlah":1,"waktu":"10:00:00"}`))

	assert.Empty(t, hub.liveTypes())
	assert.Empty(t, hub.refreshes)
}

func TestDetectionAfterMidnightUsesNewDate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	hub := newRecordingHub()
	ing := New(&scriptedSource{}, store, hub, testClock(), 16, nil)
	ctx := context.Background()

	ing.process(ctx, msg("detectionLogged", `{"count":1,"occurredAt":"2024-05-01T23:59:59Z"}`))
	ing.process(ctx, msg("detectionLogged", `{"count":1,"occurredAt":"2024-05-02T00:00:01Z"}`))

	assert.Equal(t, []string{"2024-05-01", "2024-05-02"}, hub.refreshes)

	day1, err := store.DailyTotals(ctx, "2024-05-01")
	require.NoError(t, err)
	day2, err := store.DailyTotals(ctx, "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, int64(1), day1.Detections)
	assert.Equal(t, int64(1), day2.Detections)
}

func TestRunDeliversInOrderAndStops(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	hub := newRecordingHub()
	source := &scriptedSource{messages: []Message{
		msg("liveCount", `{"count":1}`),
		msg("liveCount", `{"count":2}`),
		msg("detectionLogged", `{"count":5,"occurredAt":"2024-05-01T10:00:00Z"}`),
	}}
	ing := New(source, store, hub, testClock(), 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.refreshes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "ingestor did not stop")
	}

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Len(t, hub.statuses, 1)
	assert.True(t, hub.statuses[0].Connected)
	require.Len(t, hub.live, 3)
	first, _ := hub.live[0].payload.(protocol.LiveCountUpdate)
	second, _ := hub.live[1].payload.(protocol.LiveCountUpdate)
	assert.Equal(t, 1, first.Count)
	assert.Equal(t, 2, second.Count)
}

func TestFramesDroppedWhenQueueFull(t *testing.T) {
	t.Parallel()

	hub := newRecordingHub()
	ing := New(&scriptedSource{}, nil, hub, testClock(), 1, nil)
	ctx := context.Background()

	ing.HandleMessage(ctx, msg("frame", `"YQ=="`))
	ing.HandleMessage(ctx, msg("frame", `"Yg=="`))
	assert.Len(t, ing.queue, 1)

	// a detection waits for room instead of being dropped
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	ing.HandleMessage(cctx, msg("log", `{"jumlah":1,"waktu":"10:00:00"}`))
	assert.Len(t, ing.queue, 1)
}

func TestHandleStatusCarriesLastError(t *testing.T) {
	t.Parallel()

	hub := newRecordingHub()
	ing := New(&scriptedSource{}, nil, hub, testClock(), 1, nil)
	ing.HandleStatus(context.Background(), false, errors.NewStd("connection refused"))

	require.Len(t, hub.statuses, 1)
	assert.False(t, hub.statuses[0].Connected)
	assert.Equal(t, "connection refused", hub.statuses[0].LastError)
	assert.True(t, hub.statuses[0].Since.Equal(arrival))
}
