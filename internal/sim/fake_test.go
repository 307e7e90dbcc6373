package sim

import (
	"context"
	"sort"
	"sync"
	"time"

	"partsim/internal/market"
	"partsim/internal/store"
)

// fakeStore mirrors the guard semantics of the real store against an
// in-memory map. Sampling is deterministic (lowest id first) so tests
// can pin outcomes.
type fakeStore struct {
	mu      sync.Mutex
	items   map[string]*market.Item
	events  []market.Event
	ended   map[string]time.Time
	history []market.Snapshot

	// fail forces the named method to return the given error.
	fail map[string]error

	ceiling int64
}

func newFakeStore(items ...market.Item) *fakeStore {
	f := &fakeStore{
		items:   make(map[string]*market.Item),
		ended:   make(map[string]time.Time),
		fail:    make(map[string]error),
		ceiling: market.DefaultPriceCeiling,
	}
	for _, it := range items {
		copied := it
		f.items[it.ID] = &copied
	}
	return f
}

func (f *fakeStore) item(id string) market.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeStore) sortedIDs() []string {
	ids := make([]string, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeStore) TryPurchase(_ context.Context, itemID string, now time.Time) (market.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["TryPurchase"]; err != nil {
		return market.Item{}, err
	}
	it, ok := f.items[itemID]
	if !ok || it.Stock <= 0 {
		return market.Item{}, store.ErrNotApplicable
	}
	it.Stock--
	it.SalesCount++
	sold := now
	it.LastSoldAt = &sold
	return *it, nil
}

func (f *fakeStore) CommitPrice(_ context.Context, itemID string, price int64) (market.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["CommitPrice"]; err != nil {
		return market.Item{}, err
	}
	it, ok := f.items[itemID]
	if !ok {
		return market.Item{}, store.ErrNotFound
	}
	it.Price = price
	return *it, nil
}

func (f *fakeStore) SampleBoosted(_ context.Context, ids []string) (market.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for _, id := range sorted {
		if it, ok := f.items[id]; ok && it.Stock > 0 {
			return *it, nil
		}
	}
	return market.Item{}, store.ErrNotFound
}

func (f *fakeStore) SampleInStock(_ context.Context) (market.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.sortedIDs() {
		if it := f.items[id]; it.Stock > 0 {
			return *it, nil
		}
	}
	return market.Item{}, store.ErrNotFound
}

func (f *fakeStore) SampleAny(_ context.Context) (market.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.sortedIDs() {
		return *f.items[id], nil
	}
	return market.Item{}, store.ErrNotFound
}

func (f *fakeStore) SampleZeroStock(_ context.Context, limit int) ([]market.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["SampleZeroStock"]; err != nil {
		return nil, err
	}
	var out []market.Item
	for _, id := range f.sortedIDs() {
		if it := f.items[id]; it.Stock == 0 {
			out = append(out, *it)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyColdDecay(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["ApplyColdDecay"]; err != nil {
		return 0, err
	}
	var n int64
	for _, it := range f.items {
		if it.LastSoldAt != nil && !it.LastSoldAt.After(cutoff) {
			it.Price = market.DecayedPrice(it.Price, it.PriceFloor)
			it.LastSoldAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Restock(_ context.Context, orders []market.RestockOrder) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["Restock"]; err != nil {
		return 0, err
	}
	var n int64
	for _, o := range orders {
		if it, ok := f.items[o.ItemID]; ok && it.Stock == 0 {
			it.Stock = o.Amount
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ApplyPriceEvent(_ context.Context, stamp string, magnitude float64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["ApplyPriceEvent"]; err != nil {
		return 0, err
	}
	var n int64
	for _, it := range f.items {
		if it.LastEventStamp != nil && *it.LastEventStamp == stamp {
			continue
		}
		it.Price = market.EventPrice(it.Price, magnitude, it.PriceFloor, f.ceiling)
		s := stamp
		it.LastEventStamp = &s
		n++
	}
	return n, nil
}

func (f *fakeStore) ClearEventStamp(_ context.Context, stamp string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["ClearEventStamp"]; err != nil {
		return 0, err
	}
	var n int64
	for _, it := range f.items {
		if it.LastEventStamp != nil && *it.LastEventStamp == stamp {
			it.LastEventStamp = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, ev market.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["InsertEvent"]; err != nil {
		return err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) MarkEventEnded(_ context.Context, stamp string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["MarkEventEnded"]; err != nil {
		return err
	}
	f.ended[stamp] = endedAt
	return nil
}

func (f *fakeStore) InsertHistory(_ context.Context, snaps []market.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["InsertHistory"]; err != nil {
		return err
	}
	f.history = append(f.history, snaps...)
	return nil
}

// captureEmitter records feed emissions for assertions.
type captureEmitter struct {
	mu      sync.Mutex
	events  []string
	batches [][]market.Delta
}

func (c *captureEmitter) Emit(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	if batch, ok := payload.([]market.Delta); ok {
		c.batches = append(c.batches, batch)
	}
}

func (c *captureEmitter) flushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *captureEmitter) lastBatch() []market.Delta {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil
	}
	return c.batches[len(c.batches)-1]
}
