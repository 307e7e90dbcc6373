package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"partsim/internal/market"
)

// ListItems returns catalog rows, optionally filtered by category.
// A non-positive limit returns the whole catalog.
func (s *Store) ListItems(ctx context.Context, category string, limit int) ([]market.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY name`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
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

func (s *Store) GetItem(ctx context.Context, itemID string) (market.Item, error) {
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, itemID)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return market.Item{}, ErrNotFound
	}
	if err != nil {
		return market.Item{}, fmt.Errorf("get item %s: %w", itemID, err)
	}
	return it, nil
}

// ItemHistory returns the most recent audit snapshots for one item.
func (s *Store) ItemHistory(ctx context.Context, itemID string, limit int) ([]market.Snapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT item_id, name, price, stock, sales_count, recorded_at
		FROM item_history
		WHERE item_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, itemID, limit)
	if err != nil {
		return nil, fmt.Errorf("item history %s: %w", itemID, err)
	}
	defer rows.Close()
	var out []market.Snapshot
	for rows.Next() {
		var snap market.Snapshot
		if err := rows.Scan(&snap.ItemID, &snap.Name, &snap.Price, &snap.Stock, &snap.SalesCount, &snap.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ListEvents returns the most recent event audit rows, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]market.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, scope, effect, magnitude, target_item_id, started_at, duration_ms, ended_at, description
		FROM market_events
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []market.Event
	for rows.Next() {
		var ev market.Event
		var scope, effect string
		if err := rows.Scan(&ev.ID, &ev.Name, &scope, &effect, &ev.Magnitude,
			&ev.TargetItemID, &ev.StartedAt, &ev.DurationMs, &ev.EndedAt, &ev.Description); err != nil {
			return nil, err
		}
		if ev.Scope, err = market.ParseScope(scope); err != nil {
			return nil, err
		}
		if ev.Effect, err = market.ParseEffect(effect); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
