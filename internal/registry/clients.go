// Package registry is the authoritative index of live connections, keyed by
// connection id. Connection workers hold only their id, never a back
// reference, so admin-initiated removal is always safe.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrDuplicateID signals an invariant violation: a second record with an
	// id already live in the registry. Callers treat this as fatal.
	ErrDuplicateID = errors.New("duplicate connection id")

	// ErrNotFound is returned by Detach when the id is absent or the channel
	// is not subscribed.
	ErrNotFound = errors.New("connection or subscription not found")
)

// Record is one live WebSocket connection.
type Record struct {
	ID          string
	RemoteAddr  string
	UserAgent   string
	Channels    map[string]struct{}
	ConnectedAt time.Time
	Metadata    map[string]string
}

// ClientStats is the per-connection projection served by the admin surface.
type ClientStats struct {
	ID          string            `json:"id"`
	IP          string            `json:"ip"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Channels    []string          `json:"channels"`
	ConnectedAt time.Time         `json:"connected_at"`
	Metadata    map[string]string `json:"metadata"`
}

// Registry maps connection ids to records.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	logger  zerolog.Logger
}

func New(logger zerolog.Logger) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		logger:  logger.With().Str("component", "client_registry").Logger(),
	}
}

// Register inserts the record. A duplicate id or an empty channel set is a
// programming error and is rejected; the caller aborts on it rather than
// continuing in an indeterminate state.
func (reg *Registry) Register(rec *Record) error {
	if len(rec.Channels) == 0 {
		return errors.New("record with empty channel set")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.records[rec.ID]; exists {
		return ErrDuplicateID
	}
	reg.records[rec.ID] = rec
	return nil
}

// Remove deletes the record if present. Idempotent: the worker calls this on
// teardown even when an admin detach already removed the record.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	delete(reg.records, id)
	reg.mu.Unlock()
}

// Detach removes one channel from the record's set. When the set becomes
// empty the record itself is removed, preserving the invariant that no
// registered record has an empty channel set.
func (reg *Registry) Detach(id, channel string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.records[id]
	if !ok {
		return ErrNotFound
	}
	if _, subscribed := rec.Channels[channel]; !subscribed {
		return ErrNotFound
	}
	delete(rec.Channels, channel)
	if len(rec.Channels) == 0 {
		delete(reg.records, id)
	}
	reg.logger.Info().Str("id", id).Str("channel", channel).Msg("Connection detached from channel")
	return nil
}

// Snapshot returns a projection of every record. The lock is released before
// the caller serialises.
func (reg *Registry) Snapshot() []ClientStats {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	stats := make([]ClientStats, 0, len(reg.records))
	for _, rec := range reg.records {
		channels := make([]string, 0, len(rec.Channels))
		for ch := range rec.Channels {
			channels = append(channels, ch)
		}
		metadata := make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			metadata[k] = v
		}
		stats = append(stats, ClientStats{
			ID:          rec.ID,
			IP:          rec.RemoteAddr,
			UserAgent:   rec.UserAgent,
			Channels:    channels,
			ConnectedAt: rec.ConnectedAt,
			Metadata:    metadata,
		})
	}
	return stats
}

// IDsOnChannel returns the ids of every record subscribed to channel. The
// snapshot is taken at call time and may race concurrent disconnects; the
// result is advisory.
func (reg *Registry) IDsOnChannel(channel string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	ids := make([]string, 0)
	for id, rec := range reg.records {
		if _, ok := rec.Channels[channel]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live records.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.records)
}
