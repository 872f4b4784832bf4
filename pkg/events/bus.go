package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType names a pipeline event stream.
type EventType string

const (
	// EventTrafficAnalysis carries the periodic analysis report: window
	// statistics plus any anomalies raised during the cycle.
	EventTrafficAnalysis EventType = "traffic-analysis"
	// EventAnomalyDetected carries a single accepted anomaly.
	EventAnomalyDetected EventType = "anomaly"
	// EventCaptureStateChange fires when the capture session starts,
	// stops, or restarts.
	EventCaptureStateChange EventType = "capture-state"
)

// ErrBufferFull is returned when the bus cannot accept more events.
var ErrBufferFull = fmt.Errorf("event bus buffer is full")

// Event is a single message on the bus.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Handler consumes events of the types it declares.
type Handler interface {
	Handle(ctx context.Context, event Event) error
	EventTypes() []EventType
}

// Metrics tracks bus throughput.
type Metrics struct {
	Published     int64            `json:"published"`
	Processed     int64            `json:"processed"`
	ByType        map[string]int64 `json:"by_type"`
	HandlerErrors int64            `json:"handler_errors"`
}

// Bus distributes pipeline events to subscribed handlers. Publishing
// never blocks; a full buffer drops the event so detection and capture
// are never held up by a slow consumer.
type Bus struct {
	handlers map[EventType][]Handler
	buffer   chan Event
	logger   zerolog.Logger
	mu       sync.RWMutex
	metrics  Metrics
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewBus creates an event bus with the given buffer size.
func NewBus(logger zerolog.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	return &Bus{
		handlers: make(map[EventType][]Handler),
		buffer:   make(chan Event, bufferSize),
		logger:   logger.With().Str("component", "event_bus").Logger(),
		stop:     make(chan struct{}),
		metrics: Metrics{
			ByType: make(map[string]int64),
		},
	}
}

// Subscribe registers a handler for the event types it declares.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, eventType := range handler.EventTypes() {
		b.handlers[eventType] = append(b.handlers[eventType], handler)
		b.logger.Info().
			Str("event_type", string(eventType)).
			Msg("Handler subscribed to event type")
	}
}

// Publish enqueues an event for distribution. A full buffer drops the
// event and returns ErrBufferFull.
func (b *Bus) Publish(event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.buffer <- event:
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.ByType[string(event.Type)]++
		b.mu.Unlock()
		return nil
	default:
		b.logger.Error().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Event bus buffer full, dropping event")
		return ErrBufferFull
	}
}

// Start begins draining the buffer and fanning events out to handlers.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case event := <-b.buffer:
				b.process(ctx, event)
			case <-ctx.Done():
				return
			case <-b.stop:
				return
			}
		}
	}()
}

// Stop shuts down the distribution loop.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stop)
	b.wg.Wait()
	b.logger.Info().Msg("Event bus stopped")
}

// process fans one event out to its handlers concurrently.
func (b *Bus) process(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	var wg sync.WaitGroup
	var errorCount int64
	var errMu sync.Mutex

	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errMu.Lock()
				errorCount++
				errMu.Unlock()
				b.logger.Error().
					Err(err).
					Str("event_id", event.ID).
					Str("event_type", string(event.Type)).
					Msg("Handler error processing event")
			}
		}(handler)
	}
	wg.Wait()

	b.mu.Lock()
	b.metrics.Processed++
	b.metrics.HandlerErrors += errorCount
	b.mu.Unlock()
}

// GetMetrics returns a copy of the current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := Metrics{
		Published:     b.metrics.Published,
		Processed:     b.metrics.Processed,
		HandlerErrors: b.metrics.HandlerErrors,
		ByType:        make(map[string]int64, len(b.metrics.ByType)),
	}
	for k, v := range b.metrics.ByType {
		out.ByType[k] = v
	}
	return out
}
