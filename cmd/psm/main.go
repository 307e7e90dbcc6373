package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	cl "partsim/internal/cli"
	"partsim/internal/config"
	"partsim/internal/db"
	"partsim/internal/importer"
	"partsim/internal/market"
	"partsim/internal/store"
)

func main() {
	apiBase := envOr("PARTSIM_API_URL", "http://localhost:8080")

	root := &cobra.Command{
		Use:          "psm",
		Short:        "Marketplace simulator client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSeedCmd(),
		newItemsCmd(&apiBase),
		newItemCmd(&apiBase),
		newEventsCmd(&apiBase),
		newWatchCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimSpace(*apiBase))
}

// seed loads a catalog feed straight into the database; it does not go
// through the API so it can run before the server does.
func newSeedCmd() *cobra.Command {
	var file string
	var prestock bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import a catalog JSON feed into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := db.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.EnsureSchema(ctx, pool); err != nil {
				return err
			}

			st := store.New(pool, nil)
			bounds := market.NewBounds(cfg.CategoryBounds())
			if err := st.SyncCategoryBounds(ctx, bounds.Table()); err != nil {
				return err
			}

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			imp := importer.New(st, bounds, importer.Options{Prestock: prestock}, nil)
			n, err := imp.Run(ctx, f)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Imported %d items from %s", n, file))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the catalog JSON feed")
	cmd.Flags().BoolVar(&prestock, "prestock", true, "assign random initial stock per category")
	return cmd
}

func newItemsCmd(apiBase *string) *cobra.Command {
	var category string
	var limit int
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List catalog items",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			items, err := newClient(apiBase).ListItems(ctx, category, limit)
			if err != nil {
				return err
			}
			printItemTable(items)
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "filter by category")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newItemCmd(apiBase *string) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "item <id>",
		Short: "Show one item, optionally with recent history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			item, err := client.GetItem(ctx, args[0])
			if err != nil {
				return err
			}
			printItem(item)
			if history > 0 {
				snaps, err := client.ItemHistory(ctx, args[0], history)
				if err != nil {
					return err
				}
				printHistory(snaps)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&history, "history", 0, "also show N recent history rows")
	return cmd
}

func newEventsCmd(apiBase *string) *cobra.Command {
	var limit int
	var active bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List market events",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := newClient(apiBase)
			var (
				events []market.Event
				err    error
			)
			if active {
				events, err = client.ActiveEvents(ctx)
			} else {
				events, err = client.ListEvents(ctx, limit)
			}
			if err != nil {
				return err
			}
			printEvents(events, active)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum rows")
	cmd.Flags().BoolVar(&active, "active", false, "only events active right now")
	return cmd
}

// watch streams the live feed until interrupted.
func newWatchCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live market updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			wsURL, err := feedURL(*apiBase)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", wsURL, err)
			}
			defer conn.Close()
			printInfo("Connected to " + wsURL + " (Ctrl-C to stop)")

			go func() {
				<-ctx.Done()
				conn.Close()
			}()

			for {
				var frame struct {
					Event string          `json:"event"`
					Data  json.RawMessage `json:"data"`
				}
				if err := conn.ReadJSON(&frame); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				printFeedFrame(frame.Event, frame.Data)
			}
		},
	}
}

func feedURL(apiBase string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws", nil
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws", nil
	}
	return "", fmt.Errorf("api base %q must start with http:// or https://", apiBase)
}
