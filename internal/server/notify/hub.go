package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/e2chat/keyserver/internal/logging"
	"nhooyr.io/websocket"
)

// writeTimeout bounds how long a Publish will wait on one subscriber before
// dropping it.
const writeTimeout = 5 * time.Second

type subKey struct {
	teamID string
	npub   string
}

// Hub is a websocket fan-out Bridge keyed by (team, member). A member may
// hold several connections (several devices); each gets every event.
type Hub struct {
	logger logging.Logger

	mu   sync.Mutex
	subs map[subKey]map[*websocket.Conn]struct{}
}

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger: logger.With("module", "notify_hub"),
		subs:   make(map[subKey]map[*websocket.Conn]struct{}),
	}
}

// Add registers a connection and returns its remove function. The caller owns
// the connection lifecycle; remove only unregisters.
func (h *Hub) Add(teamID, npub string, c *websocket.Conn) func() {
	key := subKey{teamID: teamID, npub: npub}

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*websocket.Conn]struct{})
	}
	h.subs[key][c] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if conns, ok := h.subs[key]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.subs, key)
			}
		}
	}
}

// Publish sends the event to every connection of (teamID, npub). Slow or dead
// connections are closed and dropped; the event is lost for them.
func (h *Hub) Publish(teamID, npub string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error(context.Background(), "marshal event", "type", event.Type, "error", err)
		return
	}

	key := subKey{teamID: teamID, npub: npub}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subs[key]))
	for c := range h.subs[key] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Warn(context.Background(), "dropping subscriber", "npub", npub, "error", err)
			_ = c.Close(websocket.StatusPolicyViolation, "write failed")
			h.mu.Lock()
			if set, ok := h.subs[key]; ok {
				delete(set, c)
				if len(set) == 0 {
					delete(h.subs, key)
				}
			}
			h.mu.Unlock()
		}
	}
}
