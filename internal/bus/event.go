package bus

import "time"

// Event kinds published by the client core. Subscribers filter by
// namespace prefix, e.g. "message." receives every message event.
const (
	KindMessageReceived   = "message.received"
	KindMessageReconciled = "message.reconciled"
	KindMessageMutated    = "message.mutated"
	KindMessageSendFailed = "message.send_failed"

	KindRosterUpdated = "roster.updated"
	KindRosterStatus  = "roster.status"

	KindCallStateChanged = "call.state_changed"
	KindCallSignal       = "call.signal"

	KindSessionConnected    = "session.connected"
	KindSessionDisconnected = "session.disconnected"

	KindFriendRequest = "friend.request"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
