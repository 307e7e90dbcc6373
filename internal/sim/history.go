package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"partsim/internal/market"
)

// Recorder buffers point-in-time snapshots of mutated items and
// flushes them as one bulk insert at the end of the tick. History is
// best-effort audit: a failed flush is logged and never rolls back the
// state mutation it describes.
type Recorder struct {
	store Store
	log   *slog.Logger

	mu  sync.Mutex
	buf []market.Snapshot
}

func NewRecorder(st Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: st, log: logger}
}

func (r *Recorder) Record(it market.Item, now time.Time) {
	r.mu.Lock()
	r.buf = append(r.buf, it.Snapshot(now))
	r.mu.Unlock()
}

// Flush writes and clears the buffer. The buffer is cleared even when
// the insert fails; stale audit rows are not worth retrying against a
// struggling store.
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := r.store.InsertHistory(ctx, batch); err != nil {
		r.log.Error("history flush failed", "rows", len(batch), "err", err)
	}
}

// Buffered returns the number of snapshots awaiting flush.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
