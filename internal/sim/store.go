package sim

import (
	"context"
	"time"

	"partsim/internal/market"
)

// Store is the data-store surface the tick engine consumes. The
// production implementation is internal/store; tests use an in-memory
// fake with the same guard semantics. Guard failures surface as
// store.ErrNotApplicable, empty samples as store.ErrNotFound.
type Store interface {
	TryPurchase(ctx context.Context, itemID string, now time.Time) (market.Item, error)
	CommitPrice(ctx context.Context, itemID string, price int64) (market.Item, error)

	SampleBoosted(ctx context.Context, ids []string) (market.Item, error)
	SampleInStock(ctx context.Context) (market.Item, error)
	SampleAny(ctx context.Context) (market.Item, error)
	SampleZeroStock(ctx context.Context, limit int) ([]market.Item, error)

	ApplyColdDecay(ctx context.Context, cutoff time.Time) (int64, error)
	Restock(ctx context.Context, orders []market.RestockOrder) (int64, error)

	ApplyPriceEvent(ctx context.Context, stamp string, magnitude float64) (int64, error)
	ClearEventStamp(ctx context.Context, stamp string) (int64, error)
	InsertEvent(ctx context.Context, ev market.Event) error
	MarkEventEnded(ctx context.Context, stamp string, endedAt time.Time) error

	InsertHistory(ctx context.Context, snaps []market.Snapshot) error
}
