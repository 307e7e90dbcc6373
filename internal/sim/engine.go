// Package sim is the tick engine: on a fixed cadence it simulates
// purchases, decays cold prices, restocks depleted inventory, drives
// the market event state machine, and emits a coalesced change feed.
package sim

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"partsim/internal/market"
	"partsim/internal/metrics"
	"partsim/internal/store"
)

// Options are the per-tick knobs, supplied from configuration.
type Options struct {
	PurchasesPerTick int
	ColdThreshold    time.Duration
	RestockBatchSize int
	RestockChance    float64
	RestockMin       int64
	RestockMax       int64
	BoostBias        float64
}

type Engine struct {
	store    Store
	director *Director
	agg      *Aggregator
	recorder *Recorder
	bounds   *market.Bounds
	opts     Options
	log      *slog.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewEngine(st Store, director *Director, agg *Aggregator, recorder *Recorder,
	bounds *market.Bounds, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		director: director,
		agg:      agg,
		recorder: recorder,
		bounds:   bounds,
		opts:     opts,
		log:      logger,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunTick executes one full tick in fixed order: purchases, cold
// decay, restock (unless restricted), event application, event spawn,
// event expiry, history flush. A failure in any step is logged at the
// step boundary and the tick moves on; one bad tick never stops the
// next.
func (e *Engine) RunTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("tick panicked", "panic", r)
		}
	}()

	start := time.Now()
	now := start.UTC()

	e.step("purchases", func() error { return e.runPurchases(ctx, now) })
	e.step("cold_decay", func() error { return e.runColdDecay(ctx, now) })
	e.step("restock", func() error { return e.runRestock(ctx) })
	e.step("apply_events", func() error { return e.director.ApplyActive(ctx) })
	e.step("spawn_event", func() error {
		ev, err := e.director.MaybeSpawn(ctx, now)
		if ev != nil {
			e.log.Info("event spawned", "event", ev.Name, "effect", ev.Effect.String())
		}
		return err
	})
	e.step("expire_events", func() error { return e.director.ExpireFinished(ctx, now) })
	e.recorder.Flush(ctx)
	// Delta flush is debounced inside the aggregator; nothing to do here.

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func (e *Engine) step(name string, fn func() error) {
	if err := fn(); err != nil {
		metrics.StepFailures.WithLabelValues(name).Inc()
		e.log.Error("tick step failed", "step", name, "err", err)
	}
}

// runPurchases makes the configured number of purchase attempts.
// Candidates are sampled uniformly over in-stock items, biased toward
// boosted ones; a guard failure (someone else took the last unit) is a
// normal signal to move on, not an error.
func (e *Engine) runPurchases(ctx context.Context, now time.Time) error {
	boosted := e.director.BoostedItemIDs()
	for i := 0; i < e.opts.PurchasesPerTick; i++ {
		candidate, ok, err := e.pickCandidate(ctx, boosted)
		if err != nil {
			return err
		}
		if !ok {
			return nil // nothing anywhere has stock
		}

		item, err := e.store.TryPurchase(ctx, candidate.ID, now)
		if errors.Is(err, store.ErrNotApplicable) {
			metrics.PurchaseConflicts.Inc()
			continue
		}
		if err != nil {
			return err
		}

		item = e.escalatePrice(ctx, item)
		e.recorder.Record(item, now)
		e.agg.Record(item)
		metrics.PurchasesTotal.Inc()
	}
	return nil
}

func (e *Engine) pickCandidate(ctx context.Context, boosted []string) (market.Item, bool, error) {
	if len(boosted) > 0 && e.chance(e.opts.BoostBias) {
		it, err := e.store.SampleBoosted(ctx, boosted)
		if err == nil {
			return it, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return market.Item{}, false, err
		}
		// boosted items all sold out; fall through to the open pool
	}
	it, err := e.store.SampleInStock(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return market.Item{}, false, nil
	}
	if err != nil {
		return market.Item{}, false, err
	}
	return it, true, nil
}

// escalatePrice applies the selling-fast rule: every 5th cumulative
// sale bumps price 10%, clamped to [floor, category ceiling]. The
// clamp also repairs any price that drifted below the floor. Only a
// changed price is committed.
func (e *Engine) escalatePrice(ctx context.Context, item market.Item) market.Item {
	next := item.Price
	if item.SalesCount%5 == 0 {
		next = market.EscalatedPrice(item.Price)
	}
	next = market.Clamp(next, item.PriceFloor, e.bounds.Ceiling(item.Category))
	if next == item.Price {
		return item
	}
	updated, err := e.store.CommitPrice(ctx, item.ID, next)
	if err != nil {
		e.log.Error("price commit failed", "item", item.ID, "err", err)
		return item
	}
	return updated
}

// runColdDecay drops prices for items that have not sold within the
// staleness window, one batch round trip.
func (e *Engine) runColdDecay(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-e.opts.ColdThreshold)
	n, err := e.store.ApplyColdDecay(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.ColdDecays.Add(float64(n))
		e.log.Debug("cold decay applied", "items", n)
	}
	return nil
}

// runRestock probabilistically replenishes a bounded random sample of
// zero-stock items, skipped entirely while a supply-restriction event
// is active.
func (e *Engine) runRestock(ctx context.Context) error {
	if e.director.StockRestricted() {
		return nil
	}
	candidates, err := e.store.SampleZeroStock(ctx, e.opts.RestockBatchSize)
	if err != nil {
		return err
	}
	orders := make([]market.RestockOrder, 0, len(candidates))
	for _, it := range candidates {
		if !e.chance(e.opts.RestockChance) {
			continue
		}
		amount := e.randRange(e.opts.RestockMin, e.opts.RestockMax)
		if ceiling := e.bounds.RestockCeiling(it.Category); amount > ceiling {
			amount = ceiling
		}
		orders = append(orders, market.RestockOrder{ItemID: it.ID, Amount: amount})
	}
	if len(orders) == 0 {
		return nil
	}
	n, err := e.store.Restock(ctx, orders)
	if n > 0 {
		metrics.Restocks.Add(float64(n))
		e.log.Debug("restocked", "items", n)
	}
	return err
}

func (e *Engine) chance(p float64) bool {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64() < p
}

func (e *Engine) randRange(min, max int64) int64 {
	if max <= min {
		return min
	}
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return min + e.rand.Int63n(max-min+1)
}

// Runner drives the engine on a fixed interval. Ticks never overlap:
// the loop waits for each RunTick to return before the next ticker
// fire is consumed, and missed fires are dropped by the ticker.
type Runner struct {
	engine *Engine
	every  time.Duration
	log    *slog.Logger
}

func NewRunner(engine *Engine, every time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: engine, every: every, log: logger}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	r.log.Info("tick runner started", "every", r.every.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("tick runner stopped")
			return
		case <-ticker.C:
			r.engine.RunTick(ctx)
		}
	}
}
