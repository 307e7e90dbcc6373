package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"partsim/internal/market"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients=%d want %d", hub.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestSnapshotSentOnConnect(t *testing.T) {
	hub := NewHub(func(context.Context) (any, error) {
		return []market.Item{{ID: "a", Name: "Ryzen 5", Price: 200, Stock: 5}}, nil
	}, nil)

	conn := dialHub(t, hub)
	env := readEnvelope(t, conn)
	if env.Event != EventSnapshot {
		t.Fatalf("first frame event=%q want %q", env.Event, EventSnapshot)
	}
	items, ok := env.Data.([]any)
	if !ok || len(items) != 1 {
		t.Fatalf("snapshot payload wrong: %#v", env.Data)
	}
}

func TestEmitBroadcastsToAllClients(t *testing.T) {
	hub := NewHub(nil, nil)

	c1 := dialHub(t, hub)
	c2 := dialHub(t, hub)
	waitForClients(t, hub, 2)

	hub.Emit("productsDelta", []market.Delta{{ID: "a", Price: 110, Stock: 4}})

	for _, conn := range []*websocket.Conn{c1, c2} {
		env := readEnvelope(t, conn)
		if env.Event != "productsDelta" {
			t.Fatalf("event=%q want productsDelta", env.Event)
		}
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	hub := NewHub(nil, nil)

	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Emitting with no clients must not panic or block.
	hub.Emit("productsDelta", []market.Delta{{ID: "a"}})
}

func TestSnapshotErrorKeepsConnection(t *testing.T) {
	hub := NewHub(func(context.Context) (any, error) {
		return nil, context.DeadlineExceeded
	}, nil)

	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.Emit("productsDelta", []market.Delta{{ID: "a", Price: 1}})
	env := readEnvelope(t, conn)
	if env.Event != "productsDelta" {
		t.Fatalf("event=%q want productsDelta after skipped snapshot", env.Event)
	}
}
