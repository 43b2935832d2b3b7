// Package notify is the best-effort push bridge for workflow transitions.
// Delivery is at-most-once and unordered relative to store state; clients
// must treat events as hints and re-fetch authoritative state.
package notify

// Event types consumed by clients.
const (
	EventKeyRequestNew       = "key_request:new"
	EventKeyRequestFulfilled = "key_request:fulfilled"
)

// Event is one push notification.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Bridge pushes events to a single member of a team. Implementations must
// not block the caller on slow consumers and must never return delivery
// errors into the workflow: the store, not the bridge, is authoritative.
type Bridge interface {
	Publish(teamID, npub string, event Event)
}

// Noop discards all events. It is the default for tests and for deployments
// without a realtime channel.
type Noop struct{}

func (Noop) Publish(teamID, npub string, event Event) {}
