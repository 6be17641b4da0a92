package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Amsterdam/haal-centraal-proxy/pkg/requestcontext"
)

var droppedEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hc_proxy_audit_events_dropped_total",
	Help: "Audit events dropped because the recorder buffer was full",
})

// Recorder accepts events from the pipeline without ever blocking it. Events
// go into a buffered inbox drained by a Worker; when the inbox is full the
// event is dropped, counted, and logged — the separate reliability channel
// the pipeline itself must not depend on.
type Recorder struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewRecorder builds a recorder with the given buffer size.
func NewRecorder(bufferSize int, logger *slog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Recorder{
		inbox:  make(chan Event, bufferSize),
		logger: logger,
	}
}

// Record enqueues an audit event, filling in identity, timestamp and
// correlation ID when absent. It never blocks and never returns an error.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	select {
	case r.inbox <- event:
	default:
		droppedEvents.Inc()
		if r.logger != nil {
			r.logger.ErrorContext(ctx, "audit event dropped, buffer full",
				"dataset", event.Dataset,
				"outcome", event.Outcome,
				"request_id", event.RequestID,
			)
		}
	}
}

// Inbox exposes the receive side for the worker.
func (r *Recorder) Inbox() <-chan Event { return r.inbox }

// Worker consumes audit events from the recorder's inbox and persists them.
// Store failures are logged and counted but never stop the worker: one broken
// append must not silence the rest of the trail.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger

	persistFailures prometheus.Counter
}

var persistFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hc_proxy_audit_persist_failures_total",
	Help: "Audit events that could not be persisted to the store",
})

// NewWorker builds a worker draining inbox into store.
func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{
		store:           store,
		inbox:           inbox,
		logger:          logger,
		persistFailures: persistFailures,
	}
}

// Run consumes events until ctx is canceled, then drains whatever is still
// buffered before returning.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case event := <-w.inbox:
			w.append(ctx, event)
		}
	}
}

func (w *Worker) drain() {
	// Bounded by the buffer size; use a fresh context since the run context
	// is already canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event := <-w.inbox:
			w.append(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) append(ctx context.Context, event Event) {
	if err := w.store.Append(ctx, event); err != nil {
		w.persistFailures.Inc()
		if w.logger != nil {
			w.logger.ErrorContext(ctx, "audit persist failed",
				"event_id", event.ID,
				"dataset", event.Dataset,
				"error", err,
			)
		}
	}
}
