package market

import (
	"fmt"
	"time"
)

// Item is one marketplace inventory row. The engine only ever mutates
// Price, Stock, SalesCount, LastSoldAt and LastEventStamp; rows are
// created by the catalog importer.
type Item struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Category       string     `json:"category"`
	Price          int64      `json:"price"`
	Stock          int64      `json:"stock"`
	SalesCount     int64      `json:"sales_count"`
	LastSoldAt     *time.Time `json:"last_sold_at"`
	LastEventStamp *string    `json:"last_event_stamp,omitempty"`
	PriceFloor     int64      `json:"price_floor"`
}

// Delta is the coalesced per-item change record emitted on the feed:
// final state only, no intermediate values.
type Delta struct {
	ID         string     `json:"id"`
	Price      int64      `json:"price"`
	Stock      int64      `json:"stock"`
	SalesCount int64      `json:"sales_count"`
	LastSoldAt *time.Time `json:"last_sold_at"`
}

func (i Item) Delta() Delta {
	return Delta{
		ID:         i.ID,
		Price:      i.Price,
		Stock:      i.Stock,
		SalesCount: i.SalesCount,
		LastSoldAt: i.LastSoldAt,
	}
}

// Snapshot is one append-only audit row recorded for every mutating
// operation.
type Snapshot struct {
	ItemID     string    `json:"item_id"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	Stock      int64     `json:"stock"`
	SalesCount int64     `json:"sales_count"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (i Item) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		ItemID:     i.ID,
		Name:       i.Name,
		Price:      i.Price,
		Stock:      i.Stock,
		SalesCount: i.SalesCount,
		RecordedAt: now,
	}
}

// RestockOrder is one conditional stock replenishment, applied only
// while the item is still at zero stock.
type RestockOrder struct {
	ItemID string
	Amount int64
}

// Scope says whether an event affects the whole catalog or one item.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProduct Scope = "product"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeGlobal, ScopeProduct:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
	}
}

// Effect is the tagged discriminator for event behavior. Pricing
// effects carry a magnitude; RestrictStock and BoostDemand are standing
// conditions read by the restock and purchase steps.
type Effect int

const (
	EffectPriceDrop Effect = iota
	EffectPriceIncrease
	EffectRestrictStock
	EffectBoostDemand
)

func (e Effect) String() string {
	switch e {
	case EffectPriceDrop:
		return "priceDrop"
	case EffectPriceIncrease:
		return "priceIncrease"
	case EffectRestrictStock:
		return "restrictStock"
	case EffectBoostDemand:
		return "boostDemand"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Pricing reports whether the effect mutates item prices directly.
func (e Effect) Pricing() bool {
	return e == EffectPriceDrop || e == EffectPriceIncrease
}

func ParseEffect(s string) (Effect, error) {
	switch s {
	case "priceDrop":
		return EffectPriceDrop, nil
	case "priceIncrease":
		return EffectPriceIncrease, nil
	case "restrictStock":
		return EffectRestrictStock, nil
	case "boostDemand":
		return EffectBoostDemand, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEffect, s)
	}
}

func (e Effect) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.String() + `"`), nil
}

// Event is one market event instance. The in-memory active list owned
// by the director is authoritative; persisted rows are audit only.
type Event struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Scope        Scope      `json:"scope"`
	Effect       Effect     `json:"effect"`
	Magnitude    float64    `json:"magnitude"`
	TargetItemID *string    `json:"target_item_id,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	DurationMs   int64      `json:"duration_ms"`
	EndedAt      *time.Time `json:"ended_at"`
	Description  string     `json:"description"`
}

// Stamp is the idempotency token written into items touched by this
// event instance. Deterministic over (name, startedAt).
func (e Event) Stamp() string {
	return e.Name + "-" + e.StartedAt.UTC().Format(time.RFC3339Nano)
}

func (e Event) Expired(now time.Time) bool {
	return now.Sub(e.StartedAt) > time.Duration(e.DurationMs)*time.Millisecond
}
