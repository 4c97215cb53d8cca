package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gantry-project/gantry/internal/metrics"
)

const (
	defaultBufferSize = 256
	writeTimeout      = 5 * time.Second
	drainTimeout      = 10 * time.Second
)

// Writer decouples event producers from the sink. Emit never blocks: when
// the buffer is full the event is dropped and counted rather than applying
// backpressure to the session.
type Writer struct {
	sink    Sink
	logger  *zap.Logger
	queue   chan *Event
	dropped atomic.Uint64

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriter starts the background writer over the given sink.
func NewWriter(sink Sink, bufferSize int, logger *zap.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	w := &Writer{
		sink:   sink,
		logger: logger,
		queue:  make(chan *Event, bufferSize),
		stopCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Emit queues an event for persistence, filling in the id and timestamp
// when the caller left them zero.
func (w *Writer) Emit(e *Event) {
	if e == nil {
		return
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	select {
	case w.queue <- e:
		metrics.AuditEventsEmitted.WithLabelValues(e.EventType, e.Severity).Inc()
	default:
		w.dropped.Add(1)
		metrics.AuditEventsDropped.Inc()
		w.logger.Warn("Audit buffer full, event dropped",
			zap.String("event_type", e.EventType),
			zap.Uint64("dropped_total", w.dropped.Load()),
		)
	}
}

// Dropped reports how many events were shed since the writer started.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-w.stopCh:
			w.drain()
			return
		}
	}
}

func (w *Writer) write(e *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := w.sink.Write(ctx, e); err != nil {
		w.logger.Error("Audit write failed",
			zap.String("event_type", e.EventType),
			zap.String("subject", e.Subject),
			zap.Error(err),
		)
	}
}

// drain flushes buffered events during shutdown.
func (w *Writer) drain() {
	deadline := time.After(drainTimeout)
	for {
		select {
		case e := <-w.queue:
			w.write(e)
		case <-deadline:
			w.logger.Warn("Timeout draining audit queue",
				zap.Int("remaining", len(w.queue)))
			return
		default:
			return
		}
	}
}

// Close flushes the buffer and closes the sink.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		if dropped := w.dropped.Load(); dropped > 0 {
			w.logger.Warn("Audit writer closing with dropped events",
				zap.Uint64("dropped_total", dropped))
		}
		err = w.sink.Close()
	})
	return err
}
