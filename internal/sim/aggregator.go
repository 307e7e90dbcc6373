package sim

import (
	"sort"
	"sync"
	"time"

	"partsim/internal/market"
	"partsim/internal/metrics"
)

// FeedDeltaEvent is the broadcast event name for coalesced batches.
const FeedDeltaEvent = "productsDelta"

// Emitter is the broadcast collaborator. The aggregator only ever
// emits confirmed post-mutation state.
type Emitter interface {
	Emit(event string, payload any)
}

// Aggregator coalesces per-item deltas and flushes them as one batch
// after a debounce window. Multiple mutations of the same item within
// the window collapse to the final state. The debounce timer is owned
// by the aggregator: armed on the first record after a flush, stopped
// on Close.
type Aggregator struct {
	window time.Duration
	sink   Emitter

	mu      sync.Mutex
	pending map[string]market.Delta
	timer   *time.Timer
	closed  bool
}

func NewAggregator(window time.Duration, sink Emitter) *Aggregator {
	return &Aggregator{
		window:  window,
		sink:    sink,
		pending: make(map[string]market.Delta),
	}
}

// Record buffers the item's latest state, overwriting any earlier
// delta for the same id, and arms the debounce timer if idle.
func (a *Aggregator) Record(it market.Item) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending[it.ID] = it.Delta()
	if a.timer == nil {
		a.timer = time.AfterFunc(a.window, a.flushExpired)
	}
}

func (a *Aggregator) flushExpired() {
	a.mu.Lock()
	a.timer = nil
	batch := a.drainLocked()
	a.mu.Unlock()
	a.emit(batch)
}

// Flush emits whatever is pending right now, cancelling the armed
// timer. Used on shutdown and after run-once ticks.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	batch := a.drainLocked()
	a.mu.Unlock()
	a.emit(batch)
}

// Close flushes pending deltas and rejects further records.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	batch := a.drainLocked()
	a.mu.Unlock()
	a.emit(batch)
}

func (a *Aggregator) drainLocked() []market.Delta {
	if len(a.pending) == 0 {
		return nil
	}
	batch := make([]market.Delta, 0, len(a.pending))
	for _, delta := range a.pending {
		batch = append(batch, delta)
	}
	a.pending = make(map[string]market.Delta)
	sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })
	return batch
}

func (a *Aggregator) emit(batch []market.Delta) {
	if len(batch) == 0 {
		return
	}
	metrics.FeedFlushes.Inc()
	a.sink.Emit(FeedDeltaEvent, batch)
}
