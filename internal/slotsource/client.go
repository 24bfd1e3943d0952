// Package slotsource queries the upstream appointment API for open slots.
package slotsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"slotwatch/internal/center"
)

// TimestampLayout is the wire format of Slot.StartTimestamp.
const TimestampLayout = "2006-01-02T15:04"

// Slot is one open appointment as reported by the upstream API.
// Transient: produced by one query, consumed by one notification pass.
type Slot struct {
	LocationID     center.ID `json:"locationId"`
	StartTimestamp string    `json:"startTimestamp"`
}

// Start parses the slot's wire timestamp.
func (s Slot) Start() (time.Time, error) {
	return time.Parse(TimestampLayout, s.StartTimestamp)
}

type Config struct {
	// BaseURL of the scheduling API, e.g. "https://ttp.cbp.dhs.gov/schedulerapi".
	BaseURL string
	// Limit caps how many of the soonest slots one query returns.
	Limit int
	// Timeout bounds one HTTP round-trip.
	Timeout time.Duration
}

type Client struct {
	base  string
	limit int
	http  *http.Client
}

func New(cfg Config) *Client {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:  cfg.BaseURL,
		limit: limit,
		http:  &http.Client{Timeout: timeout},
	}
}

// Soonest returns up to the configured limit of the soonest open slots at
// the given location.
func (c *Client) Soonest(ctx context.Context, locationID center.ID) ([]Slot, error) {
	q := url.Values{}
	q.Set("orderBy", "soonest")
	q.Set("limit", strconv.Itoa(c.limit))
	q.Set("locationId", strconv.FormatUint(uint64(locationID), 10))
	u := c.base + "/slots?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slot query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little for the error message; the body is not trusted.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("slot query: unexpected status %d: %s", resp.StatusCode, string(b))
	}

	var slots []Slot
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	return slots, nil
}
