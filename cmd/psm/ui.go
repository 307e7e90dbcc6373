package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"

	"partsim/internal/market"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func printItemTable(items []market.Item) {
	if len(items) == 0 {
		warn.Println("No items.")
		return
	}
	accent.Printf("%-38s %-22s %8s %6s %6s\n", "ID", "NAME", "PRICE", "STOCK", "SALES")
	for _, it := range items {
		name := it.Name
		if len(name) > 22 {
			name = name[:19] + "..."
		}
		line := fmt.Sprintf("%-38s %-22s %8d %6d %6d", it.ID, name, it.Price, it.Stock, it.SalesCount)
		if it.Stock == 0 {
			danger.Println(line)
		} else {
			neutral.Println(line)
		}
	}
	neutral.Printf("%d items\n", len(items))
}

func printItem(it market.Item) {
	accent.Println(it.Name)
	neutral.Printf("  id:        %s\n", it.ID)
	neutral.Printf("  category:  %s\n", it.Category)
	neutral.Printf("  price:     %d (floor %d)\n", it.Price, it.PriceFloor)
	neutral.Printf("  stock:     %d\n", it.Stock)
	neutral.Printf("  sales:     %d\n", it.SalesCount)
	if it.LastSoldAt != nil {
		neutral.Printf("  last sold: %s\n", it.LastSoldAt.Format(time.RFC3339))
	}
	if it.LastEventStamp != nil {
		warn.Printf("  event:     %s\n", *it.LastEventStamp)
	}
}

func printHistory(snaps []market.Snapshot) {
	if len(snaps) == 0 {
		warn.Println("No history.")
		return
	}
	accent.Printf("%-25s %8s %6s %6s\n", "RECORDED", "PRICE", "STOCK", "SALES")
	for _, s := range snaps {
		neutral.Printf("%-25s %8d %6d %6d\n",
			s.RecordedAt.Format(time.RFC3339), s.Price, s.Stock, s.SalesCount)
	}
}

func printEvents(events []market.Event, active bool) {
	if len(events) == 0 {
		if active {
			neutral.Println("No active events.")
		} else {
			neutral.Println("No events recorded.")
		}
		return
	}
	for _, ev := range events {
		header := fmt.Sprintf("%s [%s]", ev.Name, ev.Effect.String())
		if ev.EndedAt == nil && active {
			success.Println(header)
		} else {
			accent.Println(header)
		}
		neutral.Printf("  started: %s  duration: %s\n",
			ev.StartedAt.Format(time.RFC3339),
			(time.Duration(ev.DurationMs) * time.Millisecond).String())
		if ev.EndedAt != nil {
			neutral.Printf("  ended:   %s\n", ev.EndedAt.Format(time.RFC3339))
		}
		if ev.Description != "" {
			neutral.Println("  " + ev.Description)
		}
	}
}

func printFeedFrame(event string, data json.RawMessage) {
	switch event {
	case "productsSnapshot":
		var items []market.Item
		if err := json.Unmarshal(data, &items); err != nil {
			warn.Printf("bad snapshot frame: %v\n", err)
			return
		}
		accent.Printf("snapshot: %d items\n", len(items))
	case "productsDelta":
		var deltas []market.Delta
		if err := json.Unmarshal(data, &deltas); err != nil {
			warn.Printf("bad delta frame: %v\n", err)
			return
		}
		for _, d := range deltas {
			line := fmt.Sprintf("%-38s price=%d stock=%d sales=%d", d.ID, d.Price, d.Stock, d.SalesCount)
			if d.Stock == 0 {
				danger.Println(line)
			} else {
				neutral.Println(line)
			}
		}
	default:
		neutral.Printf("%s: %s\n", event, string(data))
	}
}
