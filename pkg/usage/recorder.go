package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/telemetry/metrics"
)

// Recorder writes usage records asynchronously. Record never blocks the
// caller: when the queue is full the record is dropped and counted.
//
// A nil *Recorder is valid and discards everything, which is how usage
// recording is disabled.
type Recorder struct {
	storage Storage
	config  config.RecorderConfig
	metrics *metrics.Collector
	logger  *slog.Logger

	records chan *Record
	done    chan struct{}
	wg      sync.WaitGroup

	// mu guards closed so no record is enqueued after the worker drained.
	mu     sync.RWMutex
	closed bool
}

// NewRecorder creates a recorder draining into storage and starts its worker.
func NewRecorder(storage Storage, cfg config.RecorderConfig, m *metrics.Collector) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = config.DefaultRecorderBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultRecorderWriteTimeout
	}

	r := &Recorder{
		storage: storage,
		config:  cfg,
		metrics: m,
		logger:  slog.Default().With("component", "usage.recorder"),
		records: make(chan *Record, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("usage recorder initialized",
		"buffer_size", cfg.BufferSize,
		"write_timeout", cfg.WriteTimeout,
	)
	return r
}

// Record enqueues rec for writing. ID and Timestamp are filled in when
// empty. It reports whether the record was accepted.
func (r *Recorder) Record(rec *Record) bool {
	if r == nil || rec == nil {
		return false
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.drop(rec, "recorder closed")
		return false
	}

	select {
	case r.records <- rec:
		return true
	default:
		r.drop(rec, "queue full")
		return false
	}
}

// Pending returns the number of queued records.
func (r *Recorder) Pending() int {
	if r == nil {
		return 0
	}
	return len(r.records)
}

// Close stops accepting records, drains the queue and waits for the worker.
// It is safe to call more than once.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	r.mu.Unlock()

	r.logger.Info("shutting down usage recorder", "pending_count", len(r.records))
	r.wg.Wait()
	r.logger.Info("usage recorder shut down complete")
	return nil
}

func (r *Recorder) drop(rec *Record, reason string) {
	r.metrics.RecordUsageDropped()
	r.logger.Warn("dropping usage record",
		"reason", reason,
		"request_id", rec.RequestID,
		"queue_capacity", cap(r.records),
	)
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.records:
			r.write(rec)

		case <-r.done:
			for {
				select {
				case rec := <-r.records:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, rec); err != nil {
		r.metrics.RecordUsageWriteError()
		r.logger.Error("failed to store usage record",
			"record_id", rec.ID,
			"request_id", rec.RequestID,
			"error", err,
		)
		return
	}
	r.metrics.RecordUsageWritten(1)

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("slow usage write",
			"record_id", rec.ID,
			"duration_ms", d.Milliseconds(),
		)
	}
}
