package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind identifies the inbound destination an event arrived on.
type Kind string

const (
	KindMessage       Kind = "message"
	KindDelete        Kind = "delete"
	KindRecall        Kind = "recall"
	KindPin           Kind = "pin"
	KindUnpin         Kind = "unpin"
	KindEdit          Kind = "edit"
	KindFriendRequest Kind = "friendRequest"
	KindStatus        Kind = "status"
	KindCall          Kind = "call"
	KindRead          Kind = "read"
	KindUnknown       Kind = "unknown"
)

// Inbound is the sum of normalized inbound events.
type Inbound interface {
	EventKind() Kind
}

func (Message) EventKind() Kind       { return KindMessage }
func (m Mutation) EventKind() Kind    { return m.Kind }
func (StatusChange) EventKind() Kind  { return KindStatus }
func (FriendRequest) EventKind() Kind { return KindFriendRequest }
func (CallSignal) EventKind() Kind    { return KindCall }

// Normalizer converts heterogeneous wire payloads into canonical
// events. The broker historically used different field names across
// endpoints (_id vs id, createdAt vs createAt) and transmitted some
// booleans as strings; all of that is absorbed here so downstream
// components only ever see one shape.
type Normalizer struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewNormalizer creates a normalizer. A nil logger disables warnings.
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger, now: time.Now}
}

// flexBool tolerates booleans transmitted as JSON strings. The string
// "false" is truthy in JS; that bug class is guarded against here.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = false
	case bytes.Equal(data, []byte("true")):
		*b = true
	case bytes.Equal(data, []byte("false")):
		*b = false
	default:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("boolean field: unexpected value %s", data)
		}
		*b = flexBool(strings.EqualFold(strings.TrimSpace(s), "true"))
	}
	return nil
}

type rawMessage struct {
	MongoID        string      `json:"_id"`
	ID             string      `json:"id"`
	TempKey        string      `json:"tempKey"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId"`
	GroupID        string      `json:"groupId"`
	Content        string      `json:"content"`
	Type           string      `json:"type"`
	CreatedAt      string      `json:"createdAt"`
	CreateAt       string      `json:"createAt"`
	Recalled       flexBool    `json:"recalled"`
	DeletedByUsers []string    `json:"deletedByUsers"`
	IsRead         flexBool    `json:"isRead"`
	IsPinned       flexBool    `json:"isPinned"`
	IsEdited       flexBool    `json:"isEdited"`
	FileName       string      `json:"fileName"`
	Thumbnail      string      `json:"thumbnail"`
	PublicID       string      `json:"publicId"`
}

// Message normalizes a raw message payload from the wire or a REST
// history record.
func (n *Normalizer) Message(raw []byte) (Message, error) {
	var rm rawMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}

	msgType := MessageType(rm.Type)
	if msgType == "" {
		msgType = TypeText
	}

	msg := Message{
		ID:             coalesce(rm.MongoID, rm.ID),
		TempKey:        rm.TempKey,
		SenderID:       rm.SenderID,
		ReceiverID:     rm.ReceiverID,
		GroupID:        rm.GroupID,
		Content:        rm.Content,
		Type:           msgType,
		CreatedAt:      n.instant(coalesce(rm.CreatedAt, rm.CreateAt)),
		Recalled:       bool(rm.Recalled),
		DeletedByUsers: rm.DeletedByUsers,
		IsRead:         bool(rm.IsRead),
		IsPinned:       bool(rm.IsPinned),
		IsEdited:       bool(rm.IsEdited),
		FileName:       rm.FileName,
		Thumbnail:      rm.Thumbnail,
		PublicID:       rm.PublicID,
	}
	if msg.DeletedByUsers == nil {
		msg.DeletedByUsers = []string{}
	}
	return msg, nil
}

// Mutation normalizes a delete/recall/pin/unpin/edit/read payload.
func (n *Normalizer) Mutation(kind Kind, raw []byte) (Mutation, error) {
	var rm rawMessage
	if err := json.Unmarshal(raw, &rm); err != nil {
		return Mutation{}, fmt.Errorf("decode %s: %w", kind, err)
	}
	id := coalesce(rm.MongoID, rm.ID)
	if id == "" {
		return Mutation{}, fmt.Errorf("decode %s: missing message id", kind)
	}
	return Mutation{
		Kind:           kind,
		ID:             id,
		Content:        rm.Content,
		DeletedByUsers: rm.DeletedByUsers,
		Recalled:       bool(rm.Recalled),
	}, nil
}

// StatusChange normalizes a presence payload.
func (n *Normalizer) StatusChange(raw []byte) (StatusChange, error) {
	var sc struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &sc); err != nil {
		return StatusChange{}, fmt.Errorf("decode status: %w", err)
	}
	if sc.UserID == "" {
		return StatusChange{}, fmt.Errorf("decode status: missing userId")
	}
	return StatusChange{UserID: sc.UserID, Status: strings.ToLower(sc.Status)}, nil
}

// FriendRequest normalizes a friend-request payload.
func (n *Normalizer) FriendRequest(raw []byte) (FriendRequest, error) {
	var fr struct {
		MongoID  string `json:"_id"`
		ID       string `json:"id"`
		SenderID string `json:"senderId"`
		Name     string `json:"name"`
		Avatar   string `json:"avatar"`
		Type     string `json:"type"`
	}
	if err := json.Unmarshal(raw, &fr); err != nil {
		return FriendRequest{}, fmt.Errorf("decode friend request: %w", err)
	}
	return FriendRequest{
		RequestID: coalesce(fr.MongoID, fr.ID),
		SenderID:  fr.SenderID,
		Name:      fr.Name,
		Avatar:    fr.Avatar,
		Type:      fr.Type,
	}, nil
}

// CallSignal normalizes a call signaling payload.
func (n *Normalizer) CallSignal(raw []byte) (CallSignal, error) {
	var cs struct {
		Type       string          `json:"type"`
		Data       json.RawMessage `json:"data"`
		SenderID   string          `json:"senderId"`
		ReceiverID string          `json:"receiverId"`
		Timestamp  string          `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &cs); err != nil {
		return CallSignal{}, fmt.Errorf("decode call signal: %w", err)
	}
	if cs.Type == "" {
		return CallSignal{}, fmt.Errorf("decode call signal: missing type")
	}
	return CallSignal{
		Type:       cs.Type,
		Data:       cs.Data,
		SenderID:   cs.SenderID,
		ReceiverID: cs.ReceiverID,
		Timestamp:  n.instant(cs.Timestamp),
	}, nil
}

// Normalize decodes a raw frame body from the given destination kind
// into the canonical sum type. Unrecognized kinds are logged and
// reported as an error so the caller drops the frame.
func (n *Normalizer) Normalize(kind Kind, raw []byte) (Inbound, error) {
	switch kind {
	case KindMessage:
		return n.Message(raw)
	case KindDelete, KindRecall, KindPin, KindUnpin, KindEdit, KindRead:
		return n.Mutation(kind, raw)
	case KindStatus:
		return n.StatusChange(raw)
	case KindFriendRequest:
		return n.FriendRequest(raw)
	case KindCall:
		return n.CallSignal(raw)
	default:
		n.logger.Warn("unrecognized event kind, dropping frame", zap.String("kind", string(kind)))
		return nil, fmt.Errorf("unrecognized event kind %q", kind)
	}
}

// instant parses a creation timestamp. Values without an explicit UTC
// marker or offset are assumed UTC. Unparseable values fall back to
// the current local time with a warning; inbound history must render
// even when imperfect.
func (n *Normalizer) instant(value string) time.Time {
	if value == "" {
		return n.now()
	}
	candidate := value
	if !strings.HasSuffix(candidate, "Z") && !strings.Contains(candidate, "+") {
		candidate += "Z"
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, candidate); err == nil {
			return ts
		}
	}
	// Retry the original value in case the Z suffix broke an offset form.
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	n.logger.Warn("invalid timestamp, using current time", zap.String("value", value))
	return n.now()
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
