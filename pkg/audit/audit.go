// Package audit implements a buffered, non-blocking audit-event writer on
// top of pkg/store/postgres.AuditStore.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	pgstore "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/store/postgres"
)

const (
	defaultQueueSize    = 1024
	defaultFlushSize    = 50
	defaultFlushPeriod  = 2 * time.Second
)

// Writer buffers audit events in memory and flushes them in batches on a
// ticker or when the buffer fills, so a slow or momentarily unavailable
// Postgres never blocks the request path that emits events.
type Writer struct {
	store   *pgstore.AuditStore
	log     *logrus.Logger
	events  chan pgstore.AuditEvent
	done    chan struct{}
	stopped chan struct{}
}

// NewWriter builds a Writer and starts its background flush loop. Stop
// must be called to drain the queue and terminate the loop cleanly.
func NewWriter(store *pgstore.AuditStore, log *logrus.Logger) *Writer {
	w := &Writer{
		store:   store,
		log:     log,
		events:  make(chan pgstore.AuditEvent, defaultQueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Record enqueues an event for the next flush. It never blocks on I/O; if
// the in-memory queue is full the event is dropped and logged, trading
// completeness for the caregiver-facing turn's latency budget.
func (w *Writer) Record(sessionID, kind string, detail map[string]interface{}) {
	event := pgstore.AuditEvent{SessionID: sessionID, Kind: kind, Detail: detail, At: time.Now()}
	select {
	case w.events <- event:
	default:
		w.log.WithField("kind", kind).Warn("audit queue full, dropping event")
	}
}

// Stop drains any remaining buffered events and stops the flush loop.
func (w *Writer) Stop(ctx context.Context) {
	close(w.done)
	<-w.stopped
	w.flushRemaining(ctx)
}

func (w *Writer) run() {
	defer close(w.stopped)
	ticker := time.NewTicker(defaultFlushPeriod)
	defer ticker.Stop()

	batch := make([]pgstore.AuditEvent, 0, defaultFlushSize)
	for {
		select {
		case event := <-w.events:
			batch = append(batch, event)
			if len(batch) >= defaultFlushSize {
				batch = w.flush(batch)
			}
		case <-ticker.C:
			batch = w.flush(batch)
		case <-w.done:
			w.flush(batch)
			return
		}
	}
}

func (w *Writer) flush(batch []pgstore.AuditEvent) []pgstore.AuditEvent {
	if len(batch) == 0 {
		return batch
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.AppendBatch(ctx, batch); err != nil {
		w.log.WithError(err).Warn("audit flush failed")
	}
	return batch[:0]
}

func (w *Writer) flushRemaining(ctx context.Context) {
	batch := make([]pgstore.AuditEvent, 0, defaultFlushSize)
drain:
	for {
		select {
		case event := <-w.events:
			batch = append(batch, event)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return
	}
	if err := w.store.AppendBatch(ctx, batch); err != nil {
		w.log.WithError(err).Warn("audit final flush failed")
	}
}
