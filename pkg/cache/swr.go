// Package cache implements the stale-while-revalidate response cache on
// top of the SQLite key/value store. Entries stay servable past their
// fresh window so the server can answer immediately and refresh in the
// background, or fall back to stale data when every upstream fails.
package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/repackradar/repackradar/pkg/database"
)

// Cache status values reported to clients in the X-Cache-Status header.
const (
	StatusHit        = "HIT"
	StatusMiss       = "MISS"
	StatusRevalidate = "STALE-WHILE-REVALIDATE"
	StatusFallback   = "STALE-FALLBACK"
)

// State describes how an entry's age relates to the freshness windows.
type State int

const (
	// StateMiss means no entry exists at all.
	StateMiss State = iota
	// StateFresh means the entry is within the fresh window.
	StateFresh
	// StateStale means the fresh window passed but the entry is still
	// inside the stale window and may be served while revalidating.
	StateStale
	// StateExpired means even the stale window passed; the payload is
	// still returned so callers can fall back to it when a fresh fetch
	// fails outright.
	StateExpired
)

// retentionTTL keeps expired rows around as a last-resort fallback before
// SQLite drops them for good.
const retentionTTL = 7 * 24 * time.Hour

// entry wraps a cached payload with its write time. The fresh/stale
// decision is made against storedAt at read time; the row's own TTL is
// the retention window.
type entry struct {
	StoredAt time.Time       `json:"storedAt"`
	Payload  json.RawMessage `json:"payload"`
}

// SWR is a stale-while-revalidate view over one cache table.
type SWR struct {
	store    *database.Cache
	freshTTL time.Duration
	staleTTL time.Duration
}

// New creates an SWR cache. freshTTL is how long an entry is served as a
// plain hit; staleTTL bounds serve-while-revalidating, after which the
// entry is only good for failure fallback.
func New(store *database.Cache, freshTTL, staleTTL time.Duration) *SWR {
	if staleTTL < freshTTL {
		staleTTL = freshTTL
	}
	return &SWR{
		store:    store,
		freshTTL: freshTTL,
		staleTTL: staleTTL,
	}
}

// Lookup returns the cached payload for key and its freshness state. A
// StateMiss result carries a nil payload.
func (c *SWR) Lookup(key string) ([]byte, State, error) {
	raw, found, err := c.store.Get(key)
	if err != nil {
		return nil, StateMiss, fmt.Errorf("cache lookup failed: %w", err)
	}
	if !found {
		return nil, StateMiss, nil
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		// A corrupt entry is treated as a miss so it gets overwritten.
		return nil, StateMiss, nil
	}

	age := time.Since(e.StoredAt)
	switch {
	case age < c.freshTTL:
		return e.Payload, StateFresh, nil
	case age < c.staleTTL:
		return e.Payload, StateStale, nil
	default:
		return e.Payload, StateExpired, nil
	}
}

// Store writes payload under key, resetting its freshness clock.
func (c *SWR) Store(key string, payload []byte) error {
	raw, err := json.Marshal(entry{
		StoredAt: time.Now().UTC(),
		Payload:  json.RawMessage(payload),
	})
	if err != nil {
		return fmt.Errorf("cache encode failed: %w", err)
	}
	return c.store.Set(key, string(raw), retentionTTL)
}

// Delete removes the entry for key.
func (c *SWR) Delete(key string) error {
	return c.store.Delete(key)
}

// Clear drops every entry in the underlying table.
func (c *SWR) Clear() error {
	return c.store.Clear()
}
