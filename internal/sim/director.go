package sim

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"partsim/internal/market"
	"partsim/internal/metrics"
	"partsim/internal/store"
)

// eventKinds are the defined market events. Magnitude only matters for
// the pricing effects.
var eventKinds = []struct {
	name        string
	scope       market.Scope
	effect      market.Effect
	magnitude   float64
	description string
}{
	{"Flash Sale", market.ScopeGlobal, market.EffectPriceDrop, 0.8,
		"A sudden discount across all items. Prices drop by 20%."},
	{"Price Surge", market.ScopeGlobal, market.EffectPriceIncrease, 1.2,
		"Market demand is high. Prices increase by 20%."},
	{"Supply Chain Disruption", market.ScopeGlobal, market.EffectRestrictStock, 1,
		"Restocking is temporarily halted due to logistics issues."},
	{"Hype Wave", market.ScopeProduct, market.EffectBoostDemand, 1,
		"Sudden hype around one item. It will sell much faster."},
}

// Director owns the active market event list and drives each instance
// through spawn, apply and expire. The list is mutated only from the
// tick goroutine; the mutex exists for concurrent readers (the HTTP
// surface and the purchase/restock steps).
type Director struct {
	store Store
	log   *slog.Logger

	spawnChance float64
	duration    time.Duration

	randMu sync.Mutex
	rand   *rand.Rand

	mu     sync.Mutex
	active []market.Event
}

func NewDirector(st Store, spawnChance float64, duration time.Duration, logger *slog.Logger) *Director {
	if logger == nil {
		logger = slog.Default()
	}
	return &Director{
		store:       st,
		log:         logger,
		spawnChance: spawnChance,
		duration:    duration,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Active returns a copy of the currently active events.
func (d *Director) Active() []market.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]market.Event, len(d.active))
	copy(out, d.active)
	return out
}

// BoostedItemIDs lists the targets of active demand-boost events.
func (d *Director) BoostedItemIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, ev := range d.active {
		if ev.Effect == market.EffectBoostDemand && ev.TargetItemID != nil {
			ids = append(ids, *ev.TargetItemID)
		}
	}
	return ids
}

// StockRestricted reports whether restocking is suppressed this tick.
func (d *Director) StockRestricted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range d.active {
		if ev.Effect == market.EffectRestrictStock {
			return true
		}
	}
	return false
}

func (d *Director) nameActive(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ev := range d.active {
		if ev.Name == name {
			return true
		}
	}
	return false
}

func (d *Director) chance(p float64) bool {
	d.randMu.Lock()
	defer d.randMu.Unlock()
	return d.rand.Float64() < p
}

func (d *Director) pickKind() int {
	d.randMu.Lock()
	defer d.randMu.Unlock()
	return d.rand.Intn(len(eventKinds))
}

// MaybeSpawn rolls the per-tick spawn chance and, on success, starts
// one new event instance unless one of the same name is already
// active. The event becomes active immediately; the audit insert is
// best-effort and never blocks activation.
func (d *Director) MaybeSpawn(ctx context.Context, now time.Time) (*market.Event, error) {
	if !d.chance(d.spawnChance) {
		return nil, nil
	}
	kind := eventKinds[d.pickKind()]
	if d.nameActive(kind.name) {
		return nil, nil
	}

	ev := market.Event{
		ID:          uuid.NewString(),
		Name:        kind.name,
		Scope:       kind.scope,
		Effect:      kind.effect,
		Magnitude:   kind.magnitude,
		StartedAt:   now,
		DurationMs:  d.duration.Milliseconds(),
		Description: kind.description,
	}
	if kind.scope == market.ScopeProduct {
		target, err := d.store.SampleAny(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil // empty catalog, nothing to hype
		}
		if err != nil {
			return nil, err
		}
		ev.TargetItemID = &target.ID
		ev.Description = "Sudden hype around " + target.Name + ". It will sell much faster."
	}

	d.mu.Lock()
	d.active = append(d.active, ev)
	d.mu.Unlock()

	metrics.EventsSpawned.WithLabelValues(ev.Name).Inc()
	if err := d.store.InsertEvent(ctx, ev); err != nil {
		// The in-memory list stays authoritative; the audit row is lost.
		d.log.Error("event persist failed", "event", ev.Name, "err", err)
	}
	return &ev, nil
}

// ApplyActive runs the stamp-guarded batch update for every active
// pricing event. Simultaneous pricing events apply in ascending
// StartedAt order (stamp as tie-break), which is the insertion order
// since at most one event spawns per tick.
func (d *Director) ApplyActive(ctx context.Context) error {
	pricing := make([]market.Event, 0, 2)
	for _, ev := range d.Active() {
		if ev.Effect.Pricing() {
			pricing = append(pricing, ev)
		}
	}
	sort.Slice(pricing, func(i, j int) bool {
		if !pricing[i].StartedAt.Equal(pricing[j].StartedAt) {
			return pricing[i].StartedAt.Before(pricing[j].StartedAt)
		}
		return pricing[i].Stamp() < pricing[j].Stamp()
	})

	var errs []error
	for _, ev := range pricing {
		touched, err := d.store.ApplyPriceEvent(ctx, ev.Stamp(), ev.Magnitude)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if touched > 0 {
			metrics.EventItemsTouched.Add(float64(touched))
			d.log.Info("pricing event applied", "event", ev.Name, "items", touched)
		}
	}
	return errors.Join(errs...)
}

// ExpireFinished ends every active event older than its duration:
// persists endedAt (best-effort), clears the stamps, and removes it
// from the active set. If the stamp clear fails the event stays active
// so the next tick retries the cleanup.
func (d *Director) ExpireFinished(ctx context.Context, now time.Time) error {
	var errs []error
	var remaining []market.Event
	for _, ev := range d.Active() {
		if !ev.Expired(now) {
			remaining = append(remaining, ev)
			continue
		}
		stamp := ev.Stamp()
		if err := d.store.MarkEventEnded(ctx, stamp, now); err != nil {
			d.log.Error("event end persist failed", "event", ev.Name, "err", err)
		}
		if _, err := d.store.ClearEventStamp(ctx, stamp); err != nil {
			errs = append(errs, err)
			remaining = append(remaining, ev)
			continue
		}
		metrics.EventsExpired.Inc()
		d.log.Info("event expired", "event", ev.Name, "age", now.Sub(ev.StartedAt).String())
	}

	d.mu.Lock()
	d.active = remaining
	d.mu.Unlock()
	return errors.Join(errs...)
}
