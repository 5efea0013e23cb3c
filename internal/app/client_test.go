package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/bus"
	"github.com/ntbao/zylo/internal/call"
	"github.com/ntbao/zylo/internal/convo"
	"github.com/ntbao/zylo/internal/dispatch"
	"github.com/ntbao/zylo/internal/event"
	"github.com/ntbao/zylo/internal/exclusion"
	"github.com/ntbao/zylo/internal/rest"
	"github.com/ntbao/zylo/internal/roster"
	"github.com/ntbao/zylo/internal/rtc"
	"github.com/ntbao/zylo/internal/transport"
)

// newTestClient builds a full client against a stub REST server. The
// transport session points at an unreachable address and stays
// disconnected unless a test connects it.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	b := bus.New()
	norm := event.NewNormalizer(logger)
	excl := exclusion.NewMemory()

	session := transport.NewSession(transport.Config{ServerURL: "ws://127.0.0.1:1/ws"}, norm, b, logger)
	store := convo.NewStore("u1", excl, b, logger, 8)
	rosterCache := roster.NewCache("u1", b, logger)
	d := dispatch.NewDispatcher(session, excl, "u1", logger)
	calls := call.NewController("u1", call.NewMachine(b), rtc.NewSource(), rtc.NewPeerFactory(nil, logger), d, logger)
	restClient := rest.NewClient(srv.URL, "tok", "u1", 0, norm, logger)

	return NewClient("u1", "tok", session, store, rosterCache, calls, d, restClient, b, logger)
}

func emptyList(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`[]`))
}

func TestSendTextDisconnectedLeavesNoState(t *testing.T) {
	c := newTestClient(t, emptyList)

	_, err := c.SendText("hi", "u2", "")
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("SendText() error = %v, want ErrNotConnected", err)
	}

	c.store.Select("u2")
	if msgs := c.Messages(); len(msgs) != 0 {
		t.Errorf("optimistic entry created despite failed precondition: %v", msgs)
	}
}

func TestOpenConversationLoadsHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/u1/u2" {
			emptyList(w, r)
			return
		}
		_, _ = w.Write([]byte(`[{"_id":"m1","senderId":"u2","receiverId":"u1","content":"hello","createdAt":"2024-05-01T10:00:00"}]`))
	})

	if err := c.OpenConversation(context.Background(), "u2", false); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("Messages() = %v, want the loaded history", msgs)
	}
}

func TestOpenConversationDiscardsStaleFetch(t *testing.T) {
	var c *Client
	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/messages/u1/u2" {
			// The user switches away while the fetch is in flight.
			c.store.Select("u3")
			_, _ = w.Write([]byte(`[{"_id":"m1","senderId":"u2","receiverId":"u1","content":"late"}]`))
			return
		}
		emptyList(w, r)
	})

	if err := c.OpenConversation(context.Background(), "u2", false); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}
	if got := c.store.MessagesFor("u2"); got != nil {
		t.Errorf("stale history applied: %v", got)
	}
}

func TestOpenConversationSkipsFetchWhenCached(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/messages/u1/u2" {
			calls++
		}
		emptyList(w, r)
	})

	if err := c.OpenConversation(context.Background(), "u2", false); err != nil {
		t.Fatal(err)
	}
	if err := c.OpenConversation(context.Background(), "u2", false); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("history fetched %d times, want 1 (cached thread reused)", calls)
	}
}

func TestOpenConversationFetchesAfterLiveArrival(t *testing.T) {
	var calls int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/u1/u2" {
			emptyList(w, r)
			return
		}
		calls++
		_, _ = w.Write([]byte(`[
			{"_id":"m0","senderId":"u2","receiverId":"u1","content":"earlier","createdAt":"2024-05-01T09:00:00"},
			{"_id":"m1","senderId":"u2","receiverId":"u1","content":"hello","createdAt":"2024-05-01T10:00:00"}
		]`))
	})

	// A live arrival seeds the thread before the conversation is opened.
	c.handlers().OnMessage(event.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Content: "hello", Type: event.TypeText})

	if err := c.OpenConversation(context.Background(), "u2", false); err != nil {
		t.Fatalf("OpenConversation() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("history fetched %d times, want 1 (live arrivals alone are not a history snapshot)", calls)
	}
	if msgs := c.Messages(); len(msgs) != 2 {
		t.Errorf("len(Messages()) = %d, want the full 2-message history", len(msgs))
	}
}

func TestInboundMessageUpdatesStoreAndRoster(t *testing.T) {
	c := newTestClient(t, emptyList)
	h := c.handlers()

	h.OnMessage(event.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Content: "hi", Type: event.TypeText})

	if got := c.store.MessagesFor("u2"); len(got) != 1 {
		t.Fatalf("store thread = %v, want one message", got)
	}
	s, ok := c.roster.Get("u2")
	if !ok {
		t.Fatal("roster summary missing")
	}
	if s.LastMessage != "hi" || s.UnreadCount != 1 {
		t.Errorf("summary = %+v, want preview and unread bump", s)
	}
}

func TestDuplicateInboundDoesNotDoubleCount(t *testing.T) {
	c := newTestClient(t, emptyList)
	h := c.handlers()

	msg := event.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Content: "hi", Type: event.TypeText}
	h.OnMessage(msg)
	h.OnMessage(msg)

	if s, _ := c.roster.Get("u2"); s.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d after duplicate delivery, want 1", s.UnreadCount)
	}
}

func TestAcceptFriendRequestClearsPendingAndRefreshesFriends(t *testing.T) {
	var accepted int
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/friends/accept/r1":
			accepted++
			_, _ = w.Write([]byte(`{}`))
		case r.URL.Path == "/api/friends/u1":
			_, _ = w.Write([]byte(`[{"_id":"u2","name":"Alice"}]`))
		default:
			emptyList(w, r)
		}
	})

	c.handlers().OnFriendRequest(event.FriendRequest{RequestID: "r1", SenderID: "u2", Name: "Alice"})
	if got := c.PendingFriendRequests(); len(got) != 1 {
		t.Fatalf("PendingFriendRequests() = %v, want the incoming request", got)
	}

	if err := c.AcceptFriendRequest(context.Background(), "r1"); err != nil {
		t.Fatalf("AcceptFriendRequest() error = %v", err)
	}
	if accepted != 1 {
		t.Errorf("accept endpoint hit %d times, want 1", accepted)
	}
	if got := c.PendingFriendRequests(); len(got) != 0 {
		t.Errorf("PendingFriendRequests() after accept = %v, want empty", got)
	}
	if s, _ := c.roster.Get("u2"); !s.IsFriend {
		t.Error("IsFriend = false after accept, want true from the friends refresh")
	}
}

func TestDeclineFriendRequestLeavesFriendsAlone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/friends/cancel/r1" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		emptyList(w, r)
	})

	c.handlers().OnFriendRequest(event.FriendRequest{RequestID: "r1", SenderID: "u2"})
	if err := c.DeclineFriendRequest(context.Background(), "r1"); err != nil {
		t.Fatalf("DeclineFriendRequest() error = %v", err)
	}
	if got := c.PendingFriendRequests(); len(got) != 0 {
		t.Errorf("PendingFriendRequests() after decline = %v, want empty", got)
	}
	if s, ok := c.roster.Get("u2"); ok && s.IsFriend {
		t.Error("decline marked the sender a friend")
	}
}

func TestStartCallRequiresConnection(t *testing.T) {
	c := newTestClient(t, emptyList)

	err := c.StartCall(context.Background(), "u2", false)
	if !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("StartCall() error = %v, want ErrNotConnected", err)
	}
	if got := c.calls.State(); got != call.Idle {
		t.Errorf("call state = %s, want IDLE", got)
	}
}
