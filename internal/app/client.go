// Package app composes the client core: transport, stores, call
// controller, and dispatcher, wired through fx with one session lock
// per user directory.
package app

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/bus"
	"github.com/ntbao/zylo/internal/call"
	"github.com/ntbao/zylo/internal/convo"
	"github.com/ntbao/zylo/internal/dispatch"
	"github.com/ntbao/zylo/internal/event"
	"github.com/ntbao/zylo/internal/rest"
	"github.com/ntbao/zylo/internal/roster"
	"github.com/ntbao/zylo/internal/transport"
)

// Client is the embedding surface of the core: one facade gluing the
// transport session, the reconciliation store, the roster cache, the
// call controller, and the dispatcher. UIs observe changes through
// the bus rather than callbacks.
type Client struct {
	selfID   string
	token    string
	session  *transport.Session
	store    *convo.Store
	roster   *roster.Cache
	calls    *call.Controller
	dispatch *dispatch.Dispatcher
	rest     *rest.Client
	bus      *bus.Bus
	logger   *zap.Logger
}

// NewClient wires the facade. All collaborators are shared with fx so
// tests can reach them individually.
func NewClient(selfID, token string, session *transport.Session, store *convo.Store, rosterCache *roster.Cache,
	calls *call.Controller, d *dispatch.Dispatcher, restClient *rest.Client, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		selfID:   selfID,
		token:    token,
		session:  session,
		store:    store,
		roster:   rosterCache,
		calls:    calls,
		dispatch: d,
		rest:     restClient,
		bus:      b,
		logger:   logger,
	}
}

// handlers routes inbound transport events into the stores and the
// call controller.
func (c *Client) handlers() transport.Handlers {
	applyMutation := func(mut event.Mutation) {
		c.store.ApplyMutation(mut)
	}
	return transport.Handlers{
		OnMessage: func(msg event.Message) {
			switch c.store.ApplyInbound(msg) {
			case convo.OutcomeAppended, convo.OutcomeReconciled:
				c.roster.ApplyMessage(msg)
			}
		},
		OnDelete: applyMutation,
		OnRecall: applyMutation,
		OnPin:    applyMutation,
		OnUnpin:  applyMutation,
		OnEdit: func(mut event.Mutation) {
			c.store.ApplyMutation(mut)
			c.roster.ApplyEdit(mut)
		},
		OnRead: applyMutation,
		OnStatusChange: func(sc event.StatusChange) {
			c.roster.ApplyStatus(sc)
		},
		OnCallSignal: func(sig event.CallSignal) {
			if err := c.calls.HandleSignal(sig); err != nil {
				c.logger.Warn("call signal handling failed", zap.Error(err))
			}
		},
		OnFriendRequest: func(fr event.FriendRequest) {
			c.roster.ApplyFriendRequest(fr)
			c.bus.Emit(bus.KindFriendRequest, fr)
		},
	}
}

// Connect authenticates the session, subscribes the per-user queues
// and every known group topic, and loads the roster snapshots.
func (c *Client) Connect(ctx context.Context) error {
	groups, err := c.rest.Groups(ctx)
	if err != nil {
		c.logger.Warn("group listing failed, connecting without group topics", zap.Error(err))
	}
	groupIDs := make([]string, 0, len(groups))
	for _, g := range groups {
		groupIDs = append(groupIDs, g.ID)
	}

	if err := c.session.Connect(ctx, transport.Credentials{Token: c.token}, c.selfID, groupIDs, c.handlers()); err != nil {
		return err
	}

	if friends, err := c.rest.Friends(ctx); err != nil {
		c.logger.Warn("friend list load failed", zap.Error(err))
	} else {
		c.roster.LoadContacts(friends)
	}
	if len(groups) > 0 {
		c.roster.LoadGroups(groups)
	}
	if reqs, err := c.rest.PendingRequests(ctx); err != nil {
		c.logger.Warn("pending friend request load failed", zap.Error(err))
	} else {
		c.roster.LoadPendingRequests(reqs)
	}
	return nil
}

// Disconnect closes the session. Any active call is hung up first.
func (c *Client) Disconnect() {
	if err := c.calls.End(); err != nil {
		c.logger.Warn("hangup on disconnect failed", zap.Error(err))
	}
	c.session.Disconnect()
}

// OpenConversation selects a conversation and loads its history when
// the thread is not cached. The fetch result is discarded if the user
// has moved on to another conversation by the time it resolves.
func (c *Client) OpenConversation(ctx context.Context, convID string, isGroup bool) error {
	c.roster.Select(convID)
	if cached := c.store.Select(convID); cached {
		return nil
	}

	var (
		history []event.Message
		err     error
	)
	if isGroup {
		history, err = c.rest.GroupHistory(ctx, convID)
	} else {
		history, err = c.rest.History(ctx, convID)
	}
	if err != nil {
		return err
	}

	if c.store.Active() != convID {
		c.logger.Debug("discarding stale history fetch", zap.String("conversation", convID))
		return nil
	}
	c.store.LoadHistory(convID, history)
	return nil
}

// SendText sends a text message. The optimistic entry is only created
// once the transport is known to be up, so a failed precondition
// leaves no partial state.
func (c *Client) SendText(content, receiverID, groupID string) (event.Message, error) {
	if !c.session.Connected() {
		return event.Message{}, transport.ErrNotConnected
	}
	msg := c.store.SendOptimistic(convo.Draft{
		SenderID:   c.selfID,
		ReceiverID: receiverID,
		GroupID:    groupID,
		Content:    content,
		Type:       event.TypeText,
	})
	if err := c.dispatch.Send(msg); err != nil {
		c.bus.Emit(bus.KindMessageSendFailed, msg)
		return msg, err
	}
	return msg, nil
}

// Recall recalls a message for everyone. The local flag flips when
// the server echoes the recall event.
func (c *Client) Recall(id string) error { return c.dispatch.Recall(id) }

// Delete removes a message from this user's view only.
func (c *Client) Delete(id string) error { return c.dispatch.Delete(id) }

// Pin pins a message in its conversation.
func (c *Client) Pin(id string) error { return c.dispatch.Pin(id) }

// Unpin removes a pin.
func (c *Client) Unpin(id string) error { return c.dispatch.Unpin(id) }

// Edit rewrites a message's content.
func (c *Client) Edit(id, content, groupID string) error {
	return c.dispatch.Edit(id, content, groupID)
}

// Forward republishes a message to another conversation.
func (c *Client) Forward(id, content, receiverID, groupID string) error {
	return c.dispatch.Forward(id, content, receiverID, groupID)
}

// MarkRead sends a read receipt for a direct message.
func (c *Client) MarkRead(id, receiverID string) error {
	return c.dispatch.MarkRead(id, receiverID)
}

// AcceptFriendRequest accepts a pending friend request, clears it
// locally, and refreshes the friend list so the new friend appears
// without waiting for the broker echo.
func (c *Client) AcceptFriendRequest(ctx context.Context, requestID string) error {
	if err := c.rest.AcceptFriendRequest(ctx, requestID); err != nil {
		return err
	}
	c.roster.RemovePendingRequest(requestID)
	if friends, err := c.rest.Friends(ctx); err != nil {
		c.logger.Warn("friend list refresh failed", zap.Error(err))
	} else {
		c.roster.LoadContacts(friends)
	}
	return nil
}

// DeclineFriendRequest declines a pending friend request.
func (c *Client) DeclineFriendRequest(ctx context.Context, requestID string) error {
	if err := c.rest.CancelFriendRequest(ctx, requestID); err != nil {
		return err
	}
	c.roster.RemovePendingRequest(requestID)
	return nil
}

// PendingFriendRequests returns incoming requests awaiting an answer.
func (c *Client) PendingFriendRequests() []event.FriendRequest {
	return c.roster.PendingRequests()
}

// SearchMessages finds messages matching a free-text query across
// conversations.
func (c *Client) SearchMessages(ctx context.Context, query string) ([]event.Message, error) {
	return c.rest.Search(ctx, query)
}

// UploadAttachment stores a file on the server and returns where it is
// served from, for sending as a media message.
func (c *Client) UploadAttachment(ctx context.Context, fileName string, content io.Reader) (rest.UploadResult, error) {
	return c.rest.Upload(ctx, fileName, content)
}

// StartCall places an outbound call to a peer.
func (c *Client) StartCall(ctx context.Context, peerID string, video bool) error {
	if !c.session.Connected() {
		return transport.ErrNotConnected
	}
	return c.calls.Start(ctx, peerID, video)
}

// AcceptCall answers the pending incoming call.
func (c *Client) AcceptCall(ctx context.Context) error { return c.calls.Accept(ctx) }

// RejectCall declines the pending incoming call.
func (c *Client) RejectCall() error { return c.calls.Reject() }

// EndCall hangs up the current call.
func (c *Client) EndCall() error { return c.calls.End() }

// Messages returns the active conversation's messages.
func (c *Client) Messages() []event.Message { return c.store.Messages() }

// Conversations returns the roster view for a filter and query.
func (c *Client) Conversations(filter roster.Filter, query string) []roster.Summary {
	return c.roster.List(filter, query)
}
