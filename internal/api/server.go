// Package api exposes the read-only HTTP surface: catalog queries,
// event listings, the websocket feed, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"partsim/internal/market"
	"partsim/internal/metrics"
	"partsim/internal/store"
)

const (
	defaultListLimit  = 100
	maxListLimit      = 500
	defaultEventLimit = 10
)

// Reader is the query surface the server reads from.
type Reader interface {
	ListItems(ctx context.Context, category string, limit int) ([]market.Item, error)
	GetItem(ctx context.Context, id string) (market.Item, error)
	ItemHistory(ctx context.Context, id string, limit int) ([]market.Snapshot, error)
	ListEvents(ctx context.Context, limit int) ([]market.Event, error)
}

// EventSource reports the events active right now.
type EventSource interface {
	Active() []market.Event
}

type Server struct {
	log    *slog.Logger
	reader Reader
	events EventSource
	feed   http.Handler
	mux    *chi.Mux
}

func New(logger *slog.Logger, reader Reader, events EventSource, feed http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:    logger,
		reader: reader,
		events: events,
		feed:   feed,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Long-lived websocket connections must not sit under the request
	// timeout.
	r.Handle("/ws", s.feed)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		r.Handle("/metrics", metrics.Handler())

		r.Route("/v1", func(r chi.Router) {
			r.Get("/items", s.handleItemsList)
			r.Get("/items/{id}", s.handleItemDetail)
			r.Get("/items/{id}/history", s.handleItemHistory)
			r.Get("/events", s.handleEventsList)
			r.Get("/events/active", s.handleEventsActive)
		})
	})
}

func (s *Server) handleItemsList(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	limit := parseLimit(r, defaultListLimit)
	items, err := s.reader.ListItems(r.Context(), category, limit)
	if err != nil {
		s.log.Error("item list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "item list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (s *Server) handleItemDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.reader.GetItem(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		s.log.Error("item fetch failed", "item", id, "err", err)
		writeError(w, http.StatusInternalServerError, "item fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleItemHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseLimit(r, defaultListLimit)
	if _, err := s.reader.GetItem(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	} else if err != nil {
		s.log.Error("item fetch failed", "item", id, "err", err)
		writeError(w, http.StatusInternalServerError, "item fetch failed")
		return
	}
	snaps, err := s.reader.ItemHistory(r.Context(), id, limit)
	if err != nil {
		s.log.Error("history fetch failed", "item", id, "err", err)
		writeError(w, http.StatusInternalServerError, "history fetch failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "history": snaps})
}

func (s *Server) handleEventsList(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, defaultEventLimit)
	events, err := s.reader.ListEvents(r.Context(), limit)
	if err != nil {
		s.log.Error("event list failed", "err", err)
		writeError(w, http.StatusInternalServerError, "event list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleEventsActive(w http.ResponseWriter, r *http.Request) {
	active := s.events.Active()
	if active == nil {
		active = []market.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": active, "count": len(active)})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}
