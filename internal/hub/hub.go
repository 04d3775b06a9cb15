// Package hub implements the per-channel broadcast fabric: a registry of
// lazily created hubs, each fanning out to receivers over a bounded ring.
package hub

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ringCapacity is the per-receiver buffer. When a receiver falls this far
// behind, its oldest undelivered message is dropped.
const ringCapacity = 10

// Receiver is one subscriber's attachment to a hub. Ownership of the hub
// stays with the registry; the receiver only holds a drain end.
type Receiver struct {
	ch  chan string
	hub *Hub
}

// Ch is the drain end. It is closed when the receiver is detached.
func (r *Receiver) Ch() <-chan string { return r.ch }

// Close detaches the receiver from its hub. Safe to call once per receiver;
// the hub side stops sending before the channel is closed.
func (r *Receiver) Close() {
	r.hub.detach(r)
}

// Hub is the broadcast primitive backing one channel.
type Hub struct {
	mu           sync.Mutex
	receivers    map[*Receiver]struct{}
	messageCount uint64
	lastMessage  time.Time // zero until first publish
	createdAt    time.Time
}

func newHub(now time.Time) *Hub {
	return &Hub{
		receivers: make(map[*Receiver]struct{}),
		createdAt: now,
	}
}

func (h *Hub) attach() *Receiver {
	r := &Receiver{ch: make(chan string, ringCapacity), hub: h}
	h.mu.Lock()
	h.receivers[r] = struct{}{}
	h.mu.Unlock()
	return r
}

func (h *Hub) detach(r *Receiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.receivers[r]; !ok {
		return
	}
	delete(h.receivers, r)
	close(r.ch)
}

// send increments the counters and fans the payload out. Called with only the
// hub lock held; all sends are non-blocking, so no suspension happens under
// the lock. Returns receiver and drop counts.
func (h *Hub) send(payload string, now time.Time) (receivers, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messageCount++
	h.lastMessage = now

	for r := range h.receivers {
		receivers++
		select {
		case r.ch <- payload:
			continue
		default:
		}
		// Ring full: evict the oldest undelivered message, then retry. The
		// receiver may have drained concurrently, in which case the eviction
		// no-ops and the retry succeeds.
		select {
		case <-r.ch:
			dropped++
		default:
		}
		select {
		case r.ch <- payload:
		default:
			dropped++
		}
	}
	return receivers, dropped
}

func (h *Hub) snapshot() (receivers int, messages uint64, last time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.receivers), h.messageCount, h.lastMessage
}

// ChannelStats is the per-channel projection served by the admin surface.
type ChannelStats struct {
	ChannelID   string     `json:"channel_id"`
	Connections int        `json:"connections"`
	Messages    uint64     `json:"messages"`
	LastMessage *time.Time `json:"last_message"`
}

// Registry maps channel names to hubs. Hubs are created lazily on first
// subscribe or first publish and shared between concurrent creators.
type Registry struct {
	mu     sync.RWMutex
	hubs   map[string]*Hub
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		hubs:   make(map[string]*Hub),
		logger: logger.With().Str("component", "channel_registry").Logger(),
	}
}

// findOrCreate resolves the hub for name, creating it when absent. The write
// path double-checks under the exclusive lock so two concurrent first
// subscribers converge on one hub.
func (reg *Registry) findOrCreate(name string) *Hub {
	reg.mu.RLock()
	h, ok := reg.hubs[name]
	reg.mu.RUnlock()
	if ok {
		return h
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if h, ok = reg.hubs[name]; ok {
		return h
	}
	h = newHub(time.Now().UTC())
	reg.hubs[name] = h
	reg.logger.Debug().Str("channel", name).Msg("Channel created")
	return h
}

// Subscribe attaches a fresh receiver to the named channel's hub. Messages
// published before the receiver attached are not seen. Find and attach happen
// under the registry lock, so the idle sweeper can never remove the hub in
// between.
func (reg *Registry) Subscribe(name string) *Receiver {
	reg.mu.RLock()
	if h, ok := reg.hubs[name]; ok {
		r := h.attach()
		reg.mu.RUnlock()
		return r
	}
	reg.mu.RUnlock()

	reg.mu.Lock()
	defer reg.mu.Unlock()
	h, ok := reg.hubs[name]
	if !ok {
		h = newHub(time.Now().UTC())
		reg.hubs[name] = h
		reg.logger.Debug().Str("channel", name).Msg("Channel created")
	}
	return h.attach()
}

// Publish serialises one message into the named channel, creating the hub if
// needed. The publish that triggers creation counts, so a new channel's
// message count starts at 1.
func (reg *Registry) Publish(name, payload string) (receivers, dropped int) {
	return reg.findOrCreate(name).send(payload, time.Now().UTC())
}

// Stats returns a projection of every channel. Hub locks are taken one at a
// time and never held across serialisation.
func (reg *Registry) Stats() []ChannelStats {
	reg.mu.RLock()
	hubs := make(map[string]*Hub, len(reg.hubs))
	for name, h := range reg.hubs {
		hubs[name] = h
	}
	reg.mu.RUnlock()

	stats := make([]ChannelStats, 0, len(hubs))
	for name, h := range hubs {
		conns, msgs, last := h.snapshot()
		cs := ChannelStats{ChannelID: name, Connections: conns, Messages: msgs}
		if !last.IsZero() {
			t := last
			cs.LastMessage = &t
		}
		stats = append(stats, cs)
	}
	return stats
}

// Len returns the number of live channels.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.hubs)
}

// SweepIdle removes channels that have no receivers and no activity (publish
// or creation) within ttl. Removal happens under the registry write lock, so
// it cannot race a subscriber's find-and-attach. Returns the number removed.
func (reg *Registry) SweepIdle(ttl time.Duration) int {
	now := time.Now().UTC()
	reg.mu.Lock()
	defer reg.mu.Unlock()

	removed := 0
	for name, h := range reg.hubs {
		h.mu.Lock()
		idle := len(h.receivers) == 0
		lastActivity := h.lastMessage
		if lastActivity.IsZero() {
			lastActivity = h.createdAt
		}
		h.mu.Unlock()

		if idle && now.Sub(lastActivity) >= ttl {
			delete(reg.hubs, name)
			removed++
		}
	}
	if removed > 0 {
		reg.logger.Info().Int("removed", removed).Int("remaining", len(reg.hubs)).Msg("Swept idle channels")
	}
	return removed
}
