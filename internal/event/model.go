package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType enumerates wire message content types.
type MessageType string

const (
	TypeText    MessageType = "TEXT"
	TypeImage   MessageType = "IMAGE"
	TypeVideo   MessageType = "VIDEO"
	TypeAudio   MessageType = "AUDIO"
	TypeFile    MessageType = "FILE"
	TypeForward MessageType = "FORWARD"
)

// Message is the canonical unit of conversation content. Inbound wire
// payloads and REST history records are normalized into this shape
// before any other component sees them.
type Message struct {
	// ID is the server-assigned identifier. Empty for optimistic
	// entries awaiting the server echo.
	ID string
	// TempKey correlates an optimistic entry with its echo. Cleared
	// once the server ID is adopted.
	TempKey string

	SenderID   string
	ReceiverID string
	GroupID    string

	Content string
	Type    MessageType

	CreatedAt time.Time

	Recalled       bool
	DeletedByUsers []string
	IsRead         bool
	IsPinned       bool
	IsEdited       bool

	// Media attachment metadata, present for IMAGE/VIDEO/AUDIO/FILE.
	FileName  string
	Thumbnail string
	PublicID  string
}

// DedupKey identifies a message for duplicate suppression: server ID,
// else the optimistic TempKey, else a composite of creation time and
// sender.
func (m *Message) DedupKey() string {
	if m.ID != "" {
		return m.ID
	}
	if m.TempKey != "" {
		return m.TempKey
	}
	return fmt.Sprintf("%d/%s", m.CreatedAt.UnixNano(), m.SenderID)
}

// ConversationID returns the conversation a message belongs to from
// the perspective of selfID: the group, or the other party of a
// direct exchange.
func (m *Message) ConversationID(selfID string) string {
	if m.GroupID != "" {
		return m.GroupID
	}
	if m.ReceiverID == selfID {
		return m.SenderID
	}
	return m.ReceiverID
}

// DeletedFor reports whether the message renders as deleted for the
// given viewer. Deletion is per-viewer; other participants still see
// the content.
func (m *Message) DeletedFor(viewerID string) bool {
	for _, id := range m.DeletedByUsers {
		if id == viewerID {
			return true
		}
	}
	return false
}

// Mutation is a lifecycle change applied to an existing message.
type Mutation struct {
	Kind Kind
	ID   string
	// Content is set for edit mutations.
	Content string
	// DeletedByUsers is set for delete mutations.
	DeletedByUsers []string
	// Recalled is set for recall mutations.
	Recalled bool
}

// StatusChange is an online/offline presence update for one user.
type StatusChange struct {
	UserID string
	Status string
}

// FriendRequest is a pending friend request notification. Type
// distinguishes a new request from an accepted/confirmed one.
type FriendRequest struct {
	RequestID string
	SenderID  string
	Name      string
	Avatar    string
	Type      string
}

// Friend request notification types on the wire. Any other value is a
// new incoming request.
const (
	// FriendAccepted tells the original sender their request went
	// through.
	FriendAccepted = "accepted"
	// FriendConfirmed echoes the local user's own acceptance back.
	FriendConfirmed = "confirmed"
)

// CallSignal carries one step of the offer/answer/ICE exchange.
type CallSignal struct {
	Type       string
	Data       json.RawMessage
	SenderID   string
	ReceiverID string
	Timestamp  time.Time
}

// Call signal types on the wire.
const (
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
	SignalCallEnd      = "call-end"
	SignalCallReject   = "call-reject"
)
