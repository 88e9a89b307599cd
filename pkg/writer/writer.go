package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/clashwithnaro/pushbot/pkg/logger"
	"github.com/clashwithnaro/pushbot/pkg/metrics"
	"github.com/clashwithnaro/pushbot/pkg/store"

	"go.uber.org/zap"
)

// EventSink persists a batch of trophy changes in one write.
type EventSink interface {
	InsertTrophyEvents(ctx context.Context, changes []store.TrophyChange) (int64, error)
}

// Config tunes the batch writer
type Config struct {
	// WarnThreshold is the buffer size above which failed flushes warn.
	WarnThreshold int
}

// BatchWriter accumulates trophy changes and writes them in bulk.
type BatchWriter struct {
	buffer *Buffer
	sink   EventSink
	logger *logger.Logger
	cfg    Config
}

// NewBatchWriter creates a new BatchWriter instance
func NewBatchWriter(sink EventSink, cfg Config, l *logger.Logger) *BatchWriter {
	return &BatchWriter{
		buffer: NewBuffer(),
		sink:   sink,
		logger: l,
		cfg:    cfg,
	}
}

// RecordChange appends a record. It never performs I/O.
func (w *BatchWriter) RecordChange(r Record) {
	size := w.buffer.Add(r)
	metrics.BatchBufferSize.Set(float64(size))
}

// Pending returns the number of buffered records
func (w *BatchWriter) Pending() int {
	return w.buffer.Size()
}

// Flush writes everything buffered so far with a single bulk insert. An empty
// buffer costs nothing. On failure the batch goes back into the buffer and is
// retried on the next call.
func (w *BatchWriter) Flush(ctx context.Context) error {
	batch := w.buffer.Swap()
	if len(batch) == 0 {
		return nil
	}

	changes := make([]store.TrophyChange, len(batch))
	for i, r := range batch {
		changes[i] = r.Change
	}

	start := time.Now()
	inserted, err := w.sink.InsertTrophyEvents(ctx, changes)
	metrics.BatchFlushLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		size := w.buffer.Restore(batch)
		metrics.BatchFlushErrorsTotal.Inc()
		metrics.BatchBufferSize.Set(float64(size))
		if w.cfg.WarnThreshold > 0 && size > w.cfg.WarnThreshold {
			w.logger.Warn("trophy event buffer keeps growing while writes fail",
				zap.Int("buffered", size), zap.Int("threshold", w.cfg.WarnThreshold))
		}
		return fmt.Errorf("flush %d trophy events: %w", len(batch), err)
	}

	metrics.BatchFlushedRecordsTotal.Add(float64(len(batch)))
	metrics.BatchBufferSize.Set(float64(w.buffer.Size()))
	w.logger.Info("flushed trophy events", zap.Int("count", len(batch)), zap.Int64("new", inserted))

	// The events are durable now; let the feed forget them.
	for _, r := range batch {
		if r.Ack == nil {
			continue
		}
		if err := r.Ack(ctx); err != nil {
			w.logger.Warn("failed to acknowledge notification",
				zap.String("notification_id", r.Change.NotificationID.String()), zap.Error(err))
		}
	}
	return nil
}
