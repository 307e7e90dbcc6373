package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"partsim/internal/market"
	"partsim/internal/store"
)

type fakeReader struct {
	items  []market.Item
	events []market.Event
	snaps  []market.Snapshot

	lastCategory string
	lastLimit    int
}

func (f *fakeReader) ListItems(_ context.Context, category string, limit int) ([]market.Item, error) {
	f.lastCategory = category
	f.lastLimit = limit
	return f.items, nil
}

func (f *fakeReader) GetItem(_ context.Context, id string) (market.Item, error) {
	for _, it := range f.items {
		if it.ID == id {
			return it, nil
		}
	}
	return market.Item{}, store.ErrNotFound
}

func (f *fakeReader) ItemHistory(_ context.Context, id string, limit int) ([]market.Snapshot, error) {
	f.lastLimit = limit
	return f.snaps, nil
}

func (f *fakeReader) ListEvents(_ context.Context, limit int) ([]market.Event, error) {
	f.lastLimit = limit
	return f.events, nil
}

type fakeEvents struct {
	active []market.Event
}

func (f *fakeEvents) Active() []market.Event { return f.active }

func testServer(reader *fakeReader, events *fakeEvents) *httptest.Server {
	srv := New(nil, reader, events, http.NotFoundHandler())
	return httptest.NewServer(srv.Handler())
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv := testServer(&fakeReader{}, &fakeEvents{})
	defer srv.Close()

	var body map[string]any
	if code := getJSON(t, srv.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if body["ok"] != true {
		t.Fatalf("body=%v", body)
	}
}

func TestItemsList(t *testing.T) {
	reader := &fakeReader{items: []market.Item{
		{ID: "a", Name: "Ryzen 5", Category: "cpu", Price: 200, Stock: 5},
	}}
	srv := testServer(reader, &fakeEvents{})
	defer srv.Close()

	var body struct {
		Items []market.Item `json:"items"`
		Count int           `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/v1/items?category=cpu&limit=25", &body); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if body.Count != 1 || len(body.Items) != 1 {
		t.Fatalf("count=%d items=%d", body.Count, len(body.Items))
	}
	if reader.lastCategory != "cpu" || reader.lastLimit != 25 {
		t.Fatalf("category=%q limit=%d", reader.lastCategory, reader.lastLimit)
	}
}

func TestItemsListLimitBounds(t *testing.T) {
	reader := &fakeReader{}
	srv := testServer(reader, &fakeEvents{})
	defer srv.Close()

	getJSON(t, srv.URL+"/v1/items?limit=99999", nil)
	if reader.lastLimit != maxListLimit {
		t.Fatalf("limit=%d want capped %d", reader.lastLimit, maxListLimit)
	}
	getJSON(t, srv.URL+"/v1/items?limit=bogus", nil)
	if reader.lastLimit != defaultListLimit {
		t.Fatalf("limit=%d want default %d", reader.lastLimit, defaultListLimit)
	}
}

func TestItemDetailNotFound(t *testing.T) {
	srv := testServer(&fakeReader{}, &fakeEvents{})
	defer srv.Close()

	var body map[string]any
	if code := getJSON(t, srv.URL+"/v1/items/nope", &body); code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", code)
	}
	if _, ok := body["error"]; !ok {
		t.Fatal("missing error message")
	}
}

func TestItemHistory(t *testing.T) {
	now := time.Now().UTC()
	reader := &fakeReader{
		items: []market.Item{{ID: "a", Name: "Ryzen 5"}},
		snaps: []market.Snapshot{{ItemID: "a", Price: 100, RecordedAt: now}},
	}
	srv := testServer(reader, &fakeEvents{})
	defer srv.Close()

	var body struct {
		ItemID  string            `json:"item_id"`
		History []market.Snapshot `json:"history"`
	}
	if code := getJSON(t, srv.URL+"/v1/items/a/history", &body); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if body.ItemID != "a" || len(body.History) != 1 {
		t.Fatalf("body=%+v", body)
	}
}

func TestEventsActive(t *testing.T) {
	events := &fakeEvents{active: []market.Event{{
		ID: "ev1", Name: "Flash Sale",
		Scope: market.ScopeGlobal, Effect: market.EffectPriceDrop, Magnitude: 0.8,
		StartedAt: time.Now(), DurationMs: 120_000,
	}}}
	srv := testServer(&fakeReader{}, events)
	defer srv.Close()

	var body struct {
		Events []json.RawMessage `json:"events"`
		Count  int               `json:"count"`
	}
	if code := getJSON(t, srv.URL+"/v1/events/active", &body); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if body.Count != 1 {
		t.Fatalf("count=%d want 1", body.Count)
	}
	var ev struct {
		Effect string `json:"effect"`
	}
	if err := json.Unmarshal(body.Events[0], &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Effect != "priceDrop" {
		t.Fatalf("effect=%q want priceDrop", ev.Effect)
	}
}

func TestEventsActiveEmptyIsArray(t *testing.T) {
	srv := testServer(&fakeReader{}, &fakeEvents{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/events/active")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Events == nil {
		t.Fatal("events must be [] not null")
	}
}

func TestEventsListDefaultLimit(t *testing.T) {
	reader := &fakeReader{}
	srv := testServer(reader, &fakeEvents{})
	defer srv.Close()

	getJSON(t, srv.URL+"/v1/events", nil)
	if reader.lastLimit != defaultEventLimit {
		t.Fatalf("limit=%d want %d", reader.lastLimit, defaultEventLimit)
	}
}
