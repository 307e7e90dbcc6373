package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"partsim/internal/api"
	"partsim/internal/config"
	"partsim/internal/db"
	"partsim/internal/feed"
	"partsim/internal/market"
	"partsim/internal/sim"
	"partsim/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	st := store.New(pool, logger)
	bounds := market.NewBounds(cfg.CategoryBounds())
	if err := st.SyncCategoryBounds(ctx, bounds.Table()); err != nil {
		logger.Error("category bounds sync failed", "err", err)
		os.Exit(1)
	}

	hub := feed.NewHub(func(ctx context.Context) (any, error) {
		items, err := st.ListItems(ctx, "", 0)
		if err != nil {
			return nil, err
		}
		return items, nil
	}, logger)

	agg := sim.NewAggregator(cfg.DebounceWindow, hub)
	defer agg.Close()
	recorder := sim.NewRecorder(st, logger)
	director := sim.NewDirector(st, cfg.EventChance, cfg.EventDuration, logger)
	engine := sim.NewEngine(st, director, agg, recorder, bounds, sim.Options{
		PurchasesPerTick: cfg.PurchasesPerTick,
		ColdThreshold:    cfg.ColdThreshold,
		RestockBatchSize: cfg.RestockBatchSize,
		RestockChance:    cfg.RestockChance,
		RestockMin:       cfg.RestockMin,
		RestockMax:       cfg.RestockMax,
		BoostBias:        cfg.BoostBias,
	}, logger)

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("PARTSIM_RUN_ONCE")), "true")
	if runOnce {
		engine.RunTick(ctx)
		agg.Flush()
		logger.Info("run-once tick completed")
		return
	}

	server := api.New(logger, st, director, hub)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	runner := sim.NewRunner(engine, cfg.TickEvery, logger)
	go runner.Run(ctx)

	logger.Info("partsim listening", "addr", cfg.Addr, "tick_every", cfg.TickEvery.String())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
