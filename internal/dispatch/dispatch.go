// Package dispatch publishes outbound chat actions and call signals.
// Every action is gated on a live transport session: while
// disconnected, actions fail fast instead of queueing.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/event"
	"github.com/ntbao/zylo/internal/exclusion"
	"github.com/ntbao/zylo/internal/transport"
)

// Publish destinations.
const (
	DestSend    = "/app/chat.send"
	DestRecall  = "/app/chat.recall"
	DestDelete  = "/app/chat.delete"
	DestPin     = "/app/chat.pin"
	DestUnpin   = "/app/chat.unpin"
	DestEdit    = "/app/chat.edit"
	DestForward = "/app/chat.forward"
	DestRead    = "/app/chat.read"
	DestSignal  = "/app/call.signal"
)

// ErrMissingID is returned for actions on a message that has no
// server-assigned id yet (an unconfirmed optimistic send).
var ErrMissingID = errors.New("message has no server id")

// Publisher is the outbound surface of the transport session.
type Publisher interface {
	Connected() bool
	Publish(destination string, body any) error
}

// Dispatcher builds and publishes outbound command payloads.
type Dispatcher struct {
	pub    Publisher
	excl   exclusion.Set
	selfID string
	logger *zap.Logger
}

// NewDispatcher wires a dispatcher for the given local user.
func NewDispatcher(pub Publisher, excl exclusion.Set, selfID string, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{pub: pub, excl: excl, selfID: selfID, logger: logger}
}

// sendPayload is the wire body for chat.send and chat.forward.
type sendPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Content    string `json:"content"`
	Type       string `json:"type"`
	TempKey    string `json:"tempKey,omitempty"`
	ID         string `json:"id,omitempty"`
}

// idPayload is the wire body for id-addressed actions.
type idPayload struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Send publishes an optimistic message produced by the store.
func (d *Dispatcher) Send(msg event.Message) error {
	return d.publish(DestSend, sendPayload{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		GroupID:    msg.GroupID,
		Content:    msg.Content,
		Type:       string(msg.Type),
		TempKey:    msg.TempKey,
	})
}

// Recall asks the server to recall a message for everyone.
func (d *Dispatcher) Recall(id string) error {
	if id == "" {
		return ErrMissingID
	}
	return d.publish(DestRecall, idPayload{ID: id, SenderID: d.selfID})
}

// Delete removes a message from the local user's view and records the
// id so history reloads and redeliveries keep it hidden.
func (d *Dispatcher) Delete(id string) error {
	if id == "" {
		return ErrMissingID
	}
	if err := d.publish(DestDelete, idPayload{ID: id, SenderID: d.selfID}); err != nil {
		return err
	}
	if err := d.excl.Add(id); err != nil {
		d.logger.Warn("recording deleted id failed", zap.String("id", id), zap.Error(err))
	}
	return nil
}

// Pin publishes a pin action.
func (d *Dispatcher) Pin(id string) error {
	if id == "" {
		return ErrMissingID
	}
	return d.publish(DestPin, idPayload{ID: id, SenderID: d.selfID})
}

// Unpin publishes an unpin action.
func (d *Dispatcher) Unpin(id string) error {
	if id == "" {
		return ErrMissingID
	}
	return d.publish(DestUnpin, idPayload{ID: id, SenderID: d.selfID})
}

// Edit publishes a content edit.
func (d *Dispatcher) Edit(id, content, groupID string) error {
	if id == "" {
		return ErrMissingID
	}
	return d.publish(DestEdit, idPayload{ID: id, SenderID: d.selfID, Content: content, GroupID: groupID})
}

// Forward republishes an existing message to another conversation.
func (d *Dispatcher) Forward(id, content, receiverID, groupID string) error {
	if id == "" {
		return ErrMissingID
	}
	return d.publish(DestForward, sendPayload{
		ID:         id,
		SenderID:   d.selfID,
		ReceiverID: receiverID,
		GroupID:    groupID,
		Content:    content,
		Type:       string(event.TypeForward),
	})
}

// MarkRead publishes a read receipt for a direct message.
func (d *Dispatcher) MarkRead(id, receiverID string) error {
	if id == "" {
		return ErrMissingID
	}
	return d.publish(DestRead, idPayload{ID: id, SenderID: d.selfID, ReceiverID: receiverID})
}

// signalPayload is the wire body for call.signal.
type signalPayload struct {
	Type       string    `json:"type"`
	Data       any       `json:"data,omitempty"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Timestamp  time.Time `json:"timestamp"`
}

// SendCallSignal publishes one call signaling message.
func (d *Dispatcher) SendCallSignal(sig event.CallSignal) error {
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	body := signalPayload{
		Type:       sig.Type,
		SenderID:   d.selfID,
		ReceiverID: sig.ReceiverID,
		Timestamp:  ts,
	}
	if len(sig.Data) > 0 {
		body.Data = sig.Data
	}
	return d.publish(DestSignal, body)
}

func (d *Dispatcher) publish(dest string, body any) error {
	if !d.pub.Connected() {
		return fmt.Errorf("publishing to %s: %w", dest, transport.ErrNotConnected)
	}
	if err := d.pub.Publish(dest, body); err != nil {
		return fmt.Errorf("publishing to %s: %w", dest, err)
	}
	return nil
}
