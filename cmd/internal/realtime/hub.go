package realtime

import (
	"log/slog"
	"sync"

	"voir/cmd/internal/auth/session"
)

// Hub fans session events out to the feeds of the affected principal.
// It implements session.Publisher and never blocks the publisher.
type Hub struct {
	log *slog.Logger

	mu          sync.RWMutex
	byPrincipal map[string]map[string]*Client
	count       int
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:         log,
		byPrincipal: make(map[string]map[string]*Client),
	}
}

var _ session.Publisher = (*Hub)(nil)

// Attach registers a client under its principal.
func (h *Hub) Attach(c *Client) {
	if h == nil || c == nil || c.ID == "" || c.PrincipalID == "" {
		return
	}

	h.mu.Lock()
	set := h.byPrincipal[c.PrincipalID]
	if set == nil {
		set = make(map[string]*Client)
		h.byPrincipal[c.PrincipalID] = set
	}
	if _, ok := set[c.ID]; !ok {
		set[c.ID] = c
		h.count++
	}
	h.mu.Unlock()

	h.log.Debug("realtime.feed.attach", "principal_id", c.PrincipalID, "conn_id", c.ID)
}

// Detach removes a client and signals it to stop.
func (h *Hub) Detach(c *Client) {
	if h == nil || c == nil {
		return
	}

	h.mu.Lock()
	if set := h.byPrincipal[c.PrincipalID]; set != nil {
		if _, ok := set[c.ID]; ok {
			delete(set, c.ID)
			h.count--
		}
		if len(set) == 0 {
			delete(h.byPrincipal, c.PrincipalID)
		}
	}
	h.mu.Unlock()

	// Close after removal so no publisher still holds the client.
	c.Close()
	h.log.Debug("realtime.feed.detach", "principal_id", c.PrincipalID, "conn_id", c.ID)
}

// Count returns the number of attached feeds.
func (h *Hub) Count() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Publish delivers e to every feed of e.PrincipalID.
//
// Non-terminal events are dropped for feeds whose queue is full. A terminal
// event that cannot be queued closes the feed instead, so a client never
// outlives its session unnoticed.
func (h *Hub) Publish(e session.Event) {
	if h == nil || e.PrincipalID == "" {
		return
	}

	terminal := e.Type.Terminal()
	msg := outbound{
		env:        newEnvelope(TypeSessionEvent, e, e.At),
		closeAfter: terminal,
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.byPrincipal[e.PrincipalID]))
	for _, c := range h.byPrincipal[e.PrincipalID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.offer(msg) {
			continue
		}
		if terminal {
			h.log.Info("realtime.feed.force_close", "principal_id", c.PrincipalID, "conn_id", c.ID, "event", string(e.Type))
			c.Close()
			continue
		}
		h.log.Info("realtime.feed.drop", "principal_id", c.PrincipalID, "conn_id", c.ID, "event", string(e.Type))
	}
}
