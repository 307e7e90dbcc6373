// Package store implements the data-store primitives the tick engine
// relies on: conditional single-row updates, batch pipeline updates,
// random sampling, and unordered bulk writes. Every mutation is atomic
// per row at the database, never read-modify-write in the client.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"partsim/internal/market"
)

var (
	// ErrNotApplicable means a conditional update's guard did not hold
	// (for example the item was already out of stock). A lost race, not
	// a failure.
	ErrNotApplicable = errors.New("store: guard failed, not applicable")

	// ErrNotFound means no row matched at all.
	ErrNotFound = errors.New("store: not found")
)

const itemColumns = `id, name, category, price, stock, sales_count, last_sold_at, last_event_stamp, price_floor`

type Store struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger}
}

func scanItem(row pgx.Row) (market.Item, error) {
	var it market.Item
	err := row.Scan(&it.ID, &it.Name, &it.Category, &it.Price, &it.Stock,
		&it.SalesCount, &it.LastSoldAt, &it.LastEventStamp, &it.PriceFloor)
	return it, err
}

// TryPurchase performs the stock decrement, sale-count increment and
// last-sold timestamp write as one conditional update guarded by
// stock > 0. Returns ErrNotApplicable when another actor already
// drained the stock.
func (s *Store) TryPurchase(ctx context.Context, itemID string, now time.Time) (market.Item, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE items
		SET stock = stock - 1,
		    sales_count = sales_count + 1,
		    last_sold_at = $2,
		    updated_at = now()
		WHERE id = $1 AND stock > 0
		RETURNING `+itemColumns, itemID, now)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Item{}, ErrNotApplicable
	}
	if err != nil {
		return market.Item{}, fmt.Errorf("try purchase %s: %w", itemID, err)
	}
	return it, nil
}

// CommitPrice writes just the price field, used by the escalation step
// after clamping.
func (s *Store) CommitPrice(ctx context.Context, itemID string, price int64) (market.Item, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE items
		SET price = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+itemColumns, itemID, price)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Item{}, ErrNotFound
	}
	if err != nil {
		return market.Item{}, fmt.Errorf("commit price %s: %w", itemID, err)
	}
	return it, nil
}

// ApplyColdDecay drops the price of every item whose last sale is older
// than the cutoff by 10% (never below its floor) and nulls last_sold_at
// so the same cold period decays exactly once. One round trip.
func (s *Store) ApplyColdDecay(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE items
		SET price = GREATEST(price_floor, ROUND(price * 0.9)::bigint),
		    last_sold_at = NULL,
		    updated_at = now()
		WHERE last_sold_at IS NOT NULL AND last_sold_at <= $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("apply cold decay: %w", err)
	}
	return cmd.RowsAffected(), nil
}

// SampleBoosted returns one uniformly random in-stock item among ids.
func (s *Store) SampleBoosted(ctx context.Context, ids []string) (market.Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE stock > 0 AND id = ANY($1)
		ORDER BY random()
		LIMIT 1
	`, ids)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Item{}, ErrNotFound
	}
	if err != nil {
		return market.Item{}, fmt.Errorf("sample boosted: %w", err)
	}
	return it, nil
}

// SampleInStock returns one uniformly random item with stock > 0.
// Zero-stock items are excluded from the candidate pool, not filtered
// after sampling.
func (s *Store) SampleInStock(ctx context.Context) (market.Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE stock > 0
		ORDER BY random()
		LIMIT 1
	`)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Item{}, ErrNotFound
	}
	if err != nil {
		return market.Item{}, fmt.Errorf("sample in stock: %w", err)
	}
	return it, nil
}

// SampleAny returns one uniformly random item across the whole catalog.
func (s *Store) SampleAny(ctx context.Context) (market.Item, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM items
		ORDER BY random()
		LIMIT 1
	`)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Item{}, ErrNotFound
	}
	if err != nil {
		return market.Item{}, fmt.Errorf("sample any: %w", err)
	}
	return it, nil
}

// SampleZeroStock returns up to limit uniformly random zero-stock items.
func (s *Store) SampleZeroStock(ctx context.Context, limit int) ([]market.Item, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE stock = 0
		ORDER BY random()
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sample zero stock: %w", err)
	}
	defer rows.Close()
	var out []market.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Restock applies the given orders as one unordered batch. Each order
// is guarded by stock = 0 so an item that already received stock from a
// concurrent path is skipped. Returns the number actually restocked.
func (s *Store) Restock(ctx context.Context, orders []market.RestockOrder) (int64, error) {
	if len(orders) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, o := range orders {
		batch.Queue(`
			UPDATE items
			SET stock = $2, updated_at = now()
			WHERE id = $1 AND stock = 0
		`, o.ItemID, o.Amount)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	var restocked int64
	var errs []error
	for range orders {
		cmd, err := results.Exec()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		restocked += cmd.RowsAffected()
	}
	return restocked, errors.Join(errs...)
}

// ApplyPriceEvent multiplies every item's price that has not yet seen
// this event instance, clamped to [price_floor, category ceiling], and
// stamps the row. The stamp guard makes reapplication a no-op, so one
// event instance touches each item exactly once no matter how many
// ticks it stays active. One round trip.
func (s *Store) ApplyPriceEvent(ctx context.Context, stamp string, magnitude float64) (int64, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE items
		SET price = LEAST(
		        COALESCE((SELECT b.price_ceiling FROM category_bounds b WHERE b.category = items.category), $3),
		        GREATEST(price_floor, ROUND(price * $2)::bigint)),
		    last_event_stamp = $1,
		    updated_at = now()
		WHERE last_event_stamp IS DISTINCT FROM $1
	`, stamp, magnitude, market.DefaultPriceCeiling)
	if err != nil {
		return 0, fmt.Errorf("apply price event %s: %w", stamp, err)
	}
	return cmd.RowsAffected(), nil
}

// ClearEventStamp resets the idempotency stamp on every item still
// carrying it, so a future event instance applies cleanly.
func (s *Store) ClearEventStamp(ctx context.Context, stamp string) (int64, error) {
	cmd, err := s.db.Exec(ctx, `
		UPDATE items
		SET last_event_stamp = NULL, updated_at = now()
		WHERE last_event_stamp = $1
	`, stamp)
	if err != nil {
		return 0, fmt.Errorf("clear event stamp %s: %w", stamp, err)
	}
	return cmd.RowsAffected(), nil
}

// InsertEvent persists one event row for audit.
func (s *Store) InsertEvent(ctx context.Context, ev market.Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO market_events
		    (id, name, scope, effect, magnitude, target_item_id, started_at, duration_ms, ended_at, stamp, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (stamp) DO NOTHING
	`, ev.ID, ev.Name, string(ev.Scope), ev.Effect.String(), ev.Magnitude,
		ev.TargetItemID, ev.StartedAt, ev.DurationMs, ev.EndedAt, ev.Stamp(), ev.Description)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", ev.Name, err)
	}
	return nil
}

// MarkEventEnded records the end of an event instance.
func (s *Store) MarkEventEnded(ctx context.Context, stamp string, endedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE market_events
		SET ended_at = $2
		WHERE stamp = $1
	`, stamp, endedAt)
	if err != nil {
		return fmt.Errorf("mark event ended %s: %w", stamp, err)
	}
	return nil
}

// InsertHistory bulk-inserts audit snapshots, unordered. A failed row
// does not stop the rest of the batch.
func (s *Store) InsertHistory(ctx context.Context, snaps []market.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(`
			INSERT INTO item_history (item_id, name, price, stock, sales_count, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, snap.ItemID, snap.Name, snap.Price, snap.Stock, snap.SalesCount, snap.RecordedAt)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	var errs []error
	for range snaps {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// UpsertItems bulk-upserts catalog rows keyed on (name, category).
// Existing rows keep their live stock, sales and timestamps; only price
// and floor are refreshed, matching the import job's contract.
func (s *Store) UpsertItems(ctx context.Context, items []market.Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO items (id, name, category, price, stock, sales_count, last_sold_at, last_event_stamp, price_floor)
			VALUES ($1, $2, $3, $4, $5, 0, NULL, NULL, $6)
			ON CONFLICT (name, category) DO UPDATE
			SET price = EXCLUDED.price,
			    price_floor = EXCLUDED.price_floor,
			    updated_at = now()
		`, it.ID, it.Name, it.Category, it.Price, it.Stock, it.PriceFloor)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	var written int64
	var errs []error
	for range items {
		cmd, err := results.Exec()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		written += cmd.RowsAffected()
	}
	return written, errors.Join(errs...)
}

// SyncCategoryBounds upserts the configured per-category table so the
// event pipeline can resolve ceilings inside the database.
func (s *Store) SyncCategoryBounds(ctx context.Context, table map[string]market.CategoryBounds) error {
	batch := &pgx.Batch{}
	n := 0
	for category, b := range table {
		batch.Queue(`
			INSERT INTO category_bounds (category, price_floor, price_ceiling, restock_ceiling)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (category) DO UPDATE
			SET price_floor = EXCLUDED.price_floor,
			    price_ceiling = EXCLUDED.price_ceiling,
			    restock_ceiling = EXCLUDED.restock_ceiling
		`, category, b.PriceFloor, b.PriceCeiling, b.RestockCeiling)
		n++
	}
	if n == 0 {
		return nil
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()
	var errs []error
	for i := 0; i < n; i++ {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("sync category bounds: %w", err)
	}
	return nil
}
