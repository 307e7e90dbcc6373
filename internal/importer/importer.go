// Package importer loads a part-catalog JSON feed into the store.
// The feed format is one array of raw listings per file, typically
// scraped price data; junk rows are dropped rather than rejected.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"partsim/internal/market"
)

// maxPerCategory bounds how many listings of one category survive the
// import, keeping the catalog small enough for the sampler to churn.
const maxPerCategory = 1000

// rawListing is one feed row. Price is a float in the source data and
// is rounded to whole units on import.
type rawListing struct {
	Name     string   `json:"name"`
	Category string   `json:"type"`
	Price    *float64 `json:"price"`
	Stock    *int64   `json:"stock"`
}

// stockRange is the initial inventory assigned when prestocking.
type stockRange struct{ min, max int64 }

var prestockRanges = map[string]stockRange{
	"cpu":                 {2, 6},
	"video-card":          {1, 4},
	"motherboard":         {2, 8},
	"memory":              {5, 15},
	"power-supply":        {2, 8},
	"cpu-cooler":          {3, 10},
	"case":                {1, 5},
	"case-fan":            {5, 20},
	"internal-hard-drive": {2, 8},
	"solid-state-drive":   {2, 8},
}

var defaultPrestock = stockRange{2, 6}

// Upserter is the store surface the importer writes through.
type Upserter interface {
	UpsertItems(ctx context.Context, items []market.Item) (int64, error)
}

type Options struct {
	// Prestock assigns a random per-category initial stock to every
	// imported item instead of the feed's (usually absent) stock field.
	Prestock bool
}

type Importer struct {
	store  Upserter
	bounds *market.Bounds
	opts   Options
	log    *slog.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

func New(store Upserter, bounds *market.Bounds, opts Options, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		store:  store,
		bounds: bounds,
		opts:   opts,
		log:    logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Parse decodes a feed and returns the items that survive filtering:
// named rows with a usable price, at most maxPerCategory per category.
func (imp *Importer) Parse(r io.Reader) ([]market.Item, error) {
	var rows []rawListing
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode catalog feed: %w", err)
	}

	perCategory := make(map[string]int)
	items := make([]market.Item, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		if row.Name == "" || row.Category == "" || row.Price == nil {
			skipped++
			continue
		}
		price := int64(math.Round(*row.Price))
		if price <= 1 {
			skipped++
			continue
		}
		if perCategory[row.Category] >= maxPerCategory {
			skipped++
			continue
		}
		perCategory[row.Category]++

		floor := imp.bounds.Floor(row.Category)
		if price < floor {
			price = floor
		}
		item := market.Item{
			ID:         uuid.NewString(),
			Name:       row.Name,
			Category:   row.Category,
			Price:      price,
			PriceFloor: floor,
		}
		switch {
		case imp.opts.Prestock:
			item.Stock = imp.rollStock(row.Category)
		case row.Stock != nil && *row.Stock > 0:
			item.Stock = *row.Stock
		}
		items = append(items, item)
	}

	imp.log.Info("catalog feed parsed",
		"kept", len(items), "skipped", skipped, "categories", len(perCategory))
	return items, nil
}

// Run parses the feed and upserts the result. Re-running against an
// existing catalog refreshes prices and floors without resetting
// stock or sales.
func (imp *Importer) Run(ctx context.Context, r io.Reader) (int64, error) {
	items, err := imp.Parse(r)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	n, err := imp.store.UpsertItems(ctx, items)
	if err != nil {
		return n, fmt.Errorf("upsert catalog: %w", err)
	}
	imp.log.Info("catalog imported", "items", n)
	return n, nil
}

func (imp *Importer) rollStock(category string) int64 {
	rng, ok := prestockRanges[category]
	if !ok {
		rng = defaultPrestock
	}
	imp.randMu.Lock()
	defer imp.randMu.Unlock()
	if rng.max <= rng.min {
		return rng.min
	}
	return rng.min + imp.rand.Int63n(rng.max-rng.min+1)
}
