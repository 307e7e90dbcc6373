// Package cli is the HTTP client used by the psm command.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"partsim/internal/market"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type itemsPayload struct {
	Items []market.Item `json:"items"`
	Count int           `json:"count"`
}

type eventsPayload struct {
	Events []market.Event `json:"events"`
	Count  int            `json:"count"`
}

type historyPayload struct {
	ItemID  string            `json:"item_id"`
	History []market.Snapshot `json:"history"`
}

func (c *Client) ListItems(ctx context.Context, category string, limit int) ([]market.Item, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/items"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out itemsPayload
	if err := c.jsonRequest(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) GetItem(ctx context.Context, id string) (market.Item, error) {
	var out market.Item
	err := c.jsonRequest(ctx, "/v1/items/"+url.PathEscape(id), &out)
	return out, err
}

func (c *Client) ItemHistory(ctx context.Context, id string, limit int) ([]market.Snapshot, error) {
	path := "/v1/items/" + url.PathEscape(id) + "/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out historyPayload
	if err := c.jsonRequest(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

func (c *Client) ListEvents(ctx context.Context, limit int) ([]market.Event, error) {
	path := "/v1/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out eventsPayload
	if err := c.jsonRequest(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) ActiveEvents(ctx context.Context) ([]market.Event, error) {
	var out eventsPayload
	if err := c.jsonRequest(ctx, "/v1/events/active", &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) jsonRequest(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
