package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	types    []EventType
	received []Event
	notify   chan struct{}
	fail     error
}

func newRecordingHandler(types ...EventType) *recordingHandler {
	return &recordingHandler{types: types, notify: make(chan struct{}, 16)}
}

func (h *recordingHandler) Handle(_ context.Context, event Event) error {
	h.mu.Lock()
	h.received = append(h.received, event)
	h.mu.Unlock()
	h.notify <- struct{}{}
	return h.fail
}

func (h *recordingHandler) EventTypes() []EventType {
	return h.types
}

func (h *recordingHandler) events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.received))
	copy(out, h.received)
	return out
}

func waitForEvent(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not receive event")
	}
}

func TestPublishDeliversToSubscribedHandler(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 10)
	handler := newRecordingHandler(EventAnomalyDetected)
	bus.Subscribe(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(Event{Type: EventAnomalyDetected, Source: "test", Data: "payload"}))
	waitForEvent(t, handler)

	received := handler.events()
	require.Len(t, received, 1)
	assert.Equal(t, "payload", received[0].Data)
	assert.NotEmpty(t, received[0].ID, "missing IDs are filled in")
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestPublishSkipsUnsubscribedTypes(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 10)
	anomalyHandler := newRecordingHandler(EventAnomalyDetected)
	analysisHandler := newRecordingHandler(EventTrafficAnalysis)
	bus.Subscribe(anomalyHandler)
	bus.Subscribe(analysisHandler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	require.NoError(t, bus.Publish(Event{Type: EventTrafficAnalysis}))
	waitForEvent(t, analysisHandler)

	assert.Empty(t, anomalyHandler.events())
	assert.Len(t, analysisHandler.events(), 1)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	// No Start call, so nothing drains the buffer.
	bus := NewBus(zerolog.Nop(), 1)

	require.NoError(t, bus.Publish(Event{Type: EventAnomalyDetected}))
	assert.ErrorIs(t, bus.Publish(Event{Type: EventAnomalyDetected}), ErrBufferFull)
}

func TestHandlerErrorIsCounted(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 10)
	handler := newRecordingHandler(EventAnomalyDetected)
	handler.fail = context.DeadlineExceeded
	bus.Subscribe(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)

	require.NoError(t, bus.Publish(Event{Type: EventAnomalyDetected}))
	waitForEvent(t, handler)
	bus.Stop()

	metrics := bus.GetMetrics()
	assert.Equal(t, int64(1), metrics.Published)
	assert.Equal(t, int64(1), metrics.HandlerErrors)
	assert.Equal(t, int64(1), metrics.ByType[string(EventAnomalyDetected)])
}

func TestStopIsIdempotent(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 10)
	bus.Start(context.Background())
	bus.Stop()
	bus.Stop()
}
