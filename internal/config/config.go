// Package config loads process configuration by layering compiled
// defaults, an optional YAML file, and PARTSIM_-prefixed environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"partsim/internal/market"
)

// Category configures pricing and restock limits for one item category.
type Category struct {
	Floor          int64 `koanf:"floor"`
	Ceiling        int64 `koanf:"ceiling"`
	RestockCeiling int64 `koanf:"restock_ceiling"`
}

type Config struct {
	Addr        string `koanf:"addr"`
	DatabaseURL string `koanf:"database_url"`

	TickEvery        time.Duration `koanf:"tick_every"`
	PurchasesPerTick int           `koanf:"purchases_per_tick"`
	ColdThreshold    time.Duration `koanf:"cold_threshold"`

	RestockBatchSize int     `koanf:"restock_batch_size"`
	RestockChance    float64 `koanf:"restock_chance"`
	RestockMin       int64   `koanf:"restock_min"`
	RestockMax       int64   `koanf:"restock_max"`

	DebounceWindow time.Duration `koanf:"debounce_window"`

	EventChance   float64       `koanf:"event_chance"`
	EventDuration time.Duration `koanf:"event_duration"`
	BoostBias     float64       `koanf:"boost_bias"`

	Categories map[string]Category `koanf:"categories"`
}

// Default returns the reference configuration: the tick knobs and the
// per-category price floors the simulation shipped with.
func Default() *Config {
	return &Config{
		Addr:             ":8080",
		TickEvery:        2 * time.Second,
		PurchasesPerTick: 5,
		ColdThreshold:    30 * time.Second,
		RestockBatchSize: 200,
		RestockChance:    0.10,
		RestockMin:       3,
		RestockMax:       5,
		DebounceWindow:   300 * time.Millisecond,
		EventChance:      0.05,
		EventDuration:    2 * time.Minute,
		BoostBias:        0.75,
		Categories: map[string]Category{
			"cpu":                 {Floor: 50, Ceiling: 10_000, RestockCeiling: 50},
			"video-card":          {Floor: 120, Ceiling: 10_000, RestockCeiling: 40},
			"motherboard":         {Floor: 40, Ceiling: 10_000, RestockCeiling: 50},
			"memory":              {Floor: 12, Ceiling: 10_000, RestockCeiling: 80},
			"power-supply":        {Floor: 25, Ceiling: 10_000, RestockCeiling: 50},
			"cpu-cooler":          {Floor: 10, Ceiling: 10_000, RestockCeiling: 60},
			"case":                {Floor: 20, Ceiling: 10_000, RestockCeiling: 30},
			"case-fan":            {Floor: 5, Ceiling: 10_000, RestockCeiling: 100},
			"internal-hard-drive": {Floor: 20, Ceiling: 10_000, RestockCeiling: 50},
			"solid-state-drive":   {Floor: 25, Ceiling: 10_000, RestockCeiling: 50},
		},
	}
}

// Load builds a Config by layering defaults, an optional YAML file
// named by PARTSIM_CONFIG, and PARTSIM_ environment variables
// (PARTSIM_TICK_EVERY -> tick_every, and so on).
func Load() (*Config, error) {
	cfg := *Default()

	k := koanf.New(".")
	if path := os.Getenv("PARTSIM_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	envProvider := env.Provider("PARTSIM_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "PARTSIM_"))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("database_url is required (PARTSIM_DATABASE_URL)")
	}
	if c.TickEvery <= 0 {
		return fmt.Errorf("tick_every must be positive")
	}
	if c.PurchasesPerTick < 0 {
		return fmt.Errorf("purchases_per_tick must not be negative")
	}
	if c.RestockChance < 0 || c.RestockChance > 1 {
		return fmt.Errorf("restock_chance must be in [0,1]")
	}
	if c.EventChance < 0 || c.EventChance > 1 {
		return fmt.Errorf("event_chance must be in [0,1]")
	}
	if c.BoostBias < 0 || c.BoostBias > 1 {
		return fmt.Errorf("boost_bias must be in [0,1]")
	}
	if c.RestockMin <= 0 || c.RestockMax < c.RestockMin {
		return fmt.Errorf("restock range must satisfy 0 < min <= max")
	}
	if c.DebounceWindow <= 0 {
		return fmt.Errorf("debounce_window must be positive")
	}
	return nil
}

// CategoryBounds converts the configured table into the domain lookup.
func (c *Config) CategoryBounds() map[string]market.CategoryBounds {
	out := make(map[string]market.CategoryBounds, len(c.Categories))
	for name, cat := range c.Categories {
		out[name] = market.CategoryBounds{
			PriceFloor:     cat.Floor,
			PriceCeiling:   cat.Ceiling,
			RestockCeiling: cat.RestockCeiling,
		}
	}
	return out
}
