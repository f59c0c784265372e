package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Recorder persists audit events. The pipeline depends only on this append
// capability, not on any particular storage engine.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// DefaultQueueSize bounds the in-flight event queue when the caller does not
// configure one.
const DefaultQueueSize = 1024

// recordTimeout bounds a single persistence attempt so a stuck store cannot
// pin the worker forever.
const recordTimeout = 10 * time.Second

// Pipeline delivers audit events to a Recorder without ever blocking the
// request path. Emit enqueues and returns immediately; a single worker
// drains the bounded queue in the background. When the queue is full the
// event is dropped and the drop is logged — audit delivery is best-effort,
// not durable, and a persistence failure never alters a response already
// sent to the caller.
type Pipeline struct {
	events   chan *Event
	recorder Recorder
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline and starts its worker. queueSize <= 0 uses
// DefaultQueueSize.
func NewPipeline(recorder Recorder, logger zerolog.Logger, queueSize int) *Pipeline {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	p := &Pipeline{
		events:   make(chan *Event, queueSize),
		recorder: recorder,
		logger:   logger,
	}

	p.wg.Add(1)
	go p.run()
	return p
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for event := range p.events {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		err := p.recorder.Record(ctx, event)
		cancel()

		if err != nil {
			p.logger.Error().
				Err(err).
				Str("correlation_id", event.CorrelationID).
				Str("phase", string(event.Phase)).
				Str("action", string(event.Action)).
				Msg("audit event persistence failed")
		}
	}
}

// Emit schedules an event for persistence and returns immediately. It stamps
// the event ID and creation time if unset. Events emitted after Close, or
// while the queue is full, are dropped with a log entry.
func (p *Pipeline) Emit(event *Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn().
			Str("correlation_id", event.CorrelationID).
			Msg("audit event dropped: pipeline closed")
		return
	}

	select {
	case p.events <- event:
	default:
		p.logger.Warn().
			Str("correlation_id", event.CorrelationID).
			Str("action", string(event.Action)).
			Msg("audit event dropped: queue full")
	}
}

// Close stops accepting events and waits for the queue to drain, or for ctx
// to expire.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
