package market

import (
	"errors"
	"math"
)

// Fallback bounds for categories missing from the configured table.
const (
	DefaultPriceFloor     = int64(10)
	DefaultPriceCeiling   = int64(10_000)
	DefaultRestockCeiling = int64(50)
)

var (
	ErrUnknownEffect = errors.New("unknown event effect")
	ErrUnknownScope  = errors.New("unknown event scope")
)

// CategoryBounds holds the static per-category pricing and restock limits.
type CategoryBounds struct {
	PriceFloor     int64
	PriceCeiling   int64
	RestockCeiling int64
}

// Bounds is a pure lookup over the per-category table. Categories not in
// the table fall back to the package defaults.
type Bounds struct {
	table map[string]CategoryBounds
}

func NewBounds(table map[string]CategoryBounds) *Bounds {
	copied := make(map[string]CategoryBounds, len(table))
	for category, b := range table {
		copied[category] = b
	}
	return &Bounds{table: copied}
}

func (b *Bounds) Floor(category string) int64 {
	if c, ok := b.table[category]; ok {
		return c.PriceFloor
	}
	return DefaultPriceFloor
}

func (b *Bounds) Ceiling(category string) int64 {
	if c, ok := b.table[category]; ok {
		return c.PriceCeiling
	}
	return DefaultPriceCeiling
}

func (b *Bounds) RestockCeiling(category string) int64 {
	if c, ok := b.table[category]; ok {
		return c.RestockCeiling
	}
	return DefaultRestockCeiling
}

// Table returns a copy of the configured category table.
func (b *Bounds) Table() map[string]CategoryBounds {
	out := make(map[string]CategoryBounds, len(b.table))
	for category, c := range b.table {
		out[category] = c
	}
	return out
}

// Clamp bounds price to [floor, ceiling].
func Clamp(price, floor, ceiling int64) int64 {
	if price < floor {
		return floor
	}
	if price > ceiling {
		return ceiling
	}
	return price
}

// EscalatedPrice is the every-5th-sale bump: +10%, rounded to the
// nearest integer unit.
func EscalatedPrice(price int64) int64 {
	return int64(math.Round(float64(price) * 1.1))
}

// DecayedPrice is the cold drop applied store-side; kept here so tests
// and fakes share one definition with the SQL pipeline.
func DecayedPrice(price, floor int64) int64 {
	next := int64(math.Round(float64(price) * 0.9))
	if next < floor {
		return floor
	}
	return next
}

// EventPrice applies a pricing event multiplier with both bounds.
func EventPrice(price int64, magnitude float64, floor, ceiling int64) int64 {
	return Clamp(int64(math.Round(float64(price)*magnitude)), floor, ceiling)
}
