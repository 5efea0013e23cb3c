package roster

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/bus"
	"github.com/ntbao/zylo/internal/event"
)

func newTestCache() *Cache {
	c := NewCache("u1", bus.New(), zap.NewNop())
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func direct(id, sender, content string) event.Message {
	return event.Message{
		ID:         id,
		SenderID:   sender,
		ReceiverID: "u1",
		Content:    content,
		Type:       event.TypeText,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestUnreadAccounting(t *testing.T) {
	c := newTestCache()

	for _, id := range []string{"m1", "m2", "m3"} {
		c.ApplyMessage(direct(id, "u2", "hi"))
	}
	s, ok := c.Get("u2")
	if !ok {
		t.Fatal("summary for u2 missing")
	}
	if s.UnreadCount != 3 {
		t.Fatalf("UnreadCount = %d, want 3", s.UnreadCount)
	}

	c.Select("u2")
	s, _ = c.Get("u2")
	if s.UnreadCount != 0 {
		t.Errorf("UnreadCount after Select = %d, want 0", s.UnreadCount)
	}
}

func TestUnreadSkipsSelfAndActive(t *testing.T) {
	c := newTestCache()

	self := direct("m1", "u1", "sent by me")
	self.ReceiverID = "u2"
	c.ApplyMessage(self)
	if s, _ := c.Get("u2"); s.UnreadCount != 0 {
		t.Errorf("self-authored message bumped unread to %d", s.UnreadCount)
	}

	c.Select("u2")
	c.ApplyMessage(direct("m2", "u2", "while viewing"))
	if s, _ := c.Get("u2"); s.UnreadCount != 0 {
		t.Errorf("active-selection message bumped unread to %d", s.UnreadCount)
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		msg  event.Message
		want string
	}{
		{"text", event.Message{Type: event.TypeText, Content: "hello"}, "hello"},
		{"image", event.Message{Type: event.TypeImage, Content: "http://x/y.png"}, "[Image]"},
		{"video", event.Message{Type: event.TypeVideo}, "[Video]"},
		{"audio", event.Message{Type: event.TypeAudio}, "[Audio]"},
		{"file with name", event.Message{Type: event.TypeFile, FileName: "cv.pdf"}, "[File: cv.pdf]"},
		{"file without name", event.Message{Type: event.TypeFile}, "[File]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.msg); got != tt.want {
				t.Errorf("Preview() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyEditRefreshesTextPreviewOnly(t *testing.T) {
	c := newTestCache()
	c.ApplyMessage(direct("m1", "u2", "typo"))
	c.ApplyEdit(event.Mutation{Kind: event.KindEdit, ID: "m1", Content: "fixed"})
	if s, _ := c.Get("u2"); s.LastMessage != "fixed" {
		t.Errorf("LastMessage = %q, want fixed", s.LastMessage)
	}

	img := direct("m2", "u2", "")
	img.Type = event.TypeImage
	c.ApplyMessage(img)
	c.ApplyEdit(event.Mutation{Kind: event.KindEdit, ID: "m2", Content: "caption"})
	if s, _ := c.Get("u2"); s.LastMessage != "[Image]" {
		t.Errorf("LastMessage = %q, want [Image] preserved", s.LastMessage)
	}
}

func TestApplyEditIgnoresStaleMessage(t *testing.T) {
	c := newTestCache()
	c.ApplyMessage(direct("m1", "u2", "old"))
	c.ApplyMessage(direct("m2", "u2", "current"))
	c.ApplyEdit(event.Mutation{Kind: event.KindEdit, ID: "m1", Content: "edited old"})
	if s, _ := c.Get("u2"); s.LastMessage != "current" {
		t.Errorf("LastMessage = %q, want current", s.LastMessage)
	}
}

func TestApplyStatus(t *testing.T) {
	c := newTestCache()
	c.LoadContacts([]Contact{{ID: "u2", Name: "Beta"}})

	c.ApplyStatus(event.StatusChange{UserID: "u2", Status: StatusOnline})
	if s, _ := c.Get("u2"); s.Status != StatusOnline {
		t.Errorf("Status = %q, want online", s.Status)
	}

	c.ApplyStatus(event.StatusChange{UserID: "u2", Status: StatusOffline})
	s, _ := c.Get("u2")
	if s.Status != StatusOffline {
		t.Errorf("Status = %q, want offline", s.Status)
	}
	if s.LastSeen.IsZero() {
		t.Error("LastSeen not recorded on offline transition")
	}
}

func TestFilters(t *testing.T) {
	c := newTestCache()
	c.LoadContacts([]Contact{
		{ID: "u2", Name: "Alice", Phone: "0901"},
		{ID: "u3", Name: "Bob", Phone: "0902"},
	})
	c.LoadGroups([]Group{{ID: "g1", Name: "Team"}})
	c.ApplyMessage(direct("m1", "u2", "hi"))
	c.ApplyMessage(direct("m2", "u9", "stranger here"))

	if got := c.List(FilterAll, ""); len(got) != 4 {
		t.Fatalf("FilterAll returned %d rows, want 4", len(got))
	}

	unread := c.List(FilterUnread, "")
	if len(unread) != 2 {
		t.Fatalf("FilterUnread returned %d rows, want 2", len(unread))
	}

	strangers := c.List(FilterStranger, "")
	if len(strangers) != 1 || strangers[0].ID != "u9" {
		t.Errorf("FilterStranger = %v, want only u9", strangers)
	}

	byName := c.List(FilterAll, "ali")
	if len(byName) != 1 || byName[0].ID != "u2" {
		t.Errorf("query ali = %v, want only u2", byName)
	}
	byPhone := c.List(FilterAll, "0902")
	if len(byPhone) != 1 || byPhone[0].ID != "u3" {
		t.Errorf("query 0902 = %v, want only u3", byPhone)
	}
}

func TestPinnedSortFirstStable(t *testing.T) {
	c := newTestCache()
	c.LoadContacts([]Contact{
		{ID: "u2", Name: "A"},
		{ID: "u3", Name: "B"},
		{ID: "u4", Name: "C"},
	})
	c.Pin("u4", true)

	got := c.List(FilterAll, "")
	wantOrder := []string{"u4", "u2", "u3"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("List()[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	c := newTestCache()

	c.ApplyFriendRequest(event.FriendRequest{RequestID: "r1", SenderID: "u2", Name: "Alice"})
	if got := c.PendingRequests(); len(got) != 1 || got[0].RequestID != "r1" {
		t.Fatalf("PendingRequests() = %v, want the new request", got)
	}

	// Duplicate delivery of the same request must not double up.
	c.ApplyFriendRequest(event.FriendRequest{RequestID: "r1", SenderID: "u2", Name: "Alice"})
	if got := c.PendingRequests(); len(got) != 1 {
		t.Fatalf("PendingRequests() after duplicate = %d rows, want 1", len(got))
	}

	// The echo of the local user's own acceptance clears it.
	c.ApplyFriendRequest(event.FriendRequest{RequestID: "r1", SenderID: "u2", Type: event.FriendConfirmed})
	if got := c.PendingRequests(); len(got) != 0 {
		t.Errorf("PendingRequests() after confirmation = %v, want empty", got)
	}
}

func TestFriendRequestAcceptedMarksFriend(t *testing.T) {
	c := newTestCache()

	c.ApplyFriendRequest(event.FriendRequest{SenderID: "u2", Name: "Alice", Type: event.FriendAccepted})

	s, ok := c.Get("u2")
	if !ok {
		t.Fatal("summary for u2 missing after acceptance")
	}
	if !s.IsFriend {
		t.Error("IsFriend = false after peer accepted, want true")
	}
	if s.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", s.Name)
	}
	if got := c.PendingRequests(); len(got) != 0 {
		t.Errorf("acceptance of an outgoing request landed in pending: %v", got)
	}
}

func TestLoadPendingRequestsReplacesWholesale(t *testing.T) {
	c := newTestCache()
	c.ApplyFriendRequest(event.FriendRequest{RequestID: "stale", SenderID: "u9"})

	c.LoadPendingRequests([]event.FriendRequest{
		{RequestID: "r1", SenderID: "u2"},
		{RequestID: "r2", SenderID: "u3"},
	})

	got := c.PendingRequests()
	if len(got) != 2 || got[0].RequestID != "r1" || got[1].RequestID != "r2" {
		t.Errorf("PendingRequests() = %v, want [r1 r2]", got)
	}

	c.RemovePendingRequest("r1")
	if got := c.PendingRequests(); len(got) != 1 || got[0].RequestID != "r2" {
		t.Errorf("PendingRequests() after removal = %v, want only r2", got)
	}
}

func TestSnapshotKeepsLiveCounters(t *testing.T) {
	c := newTestCache()
	c.ApplyMessage(direct("m1", "u2", "before snapshot"))
	c.LoadContacts([]Contact{{ID: "u2", Name: "Alice"}})

	s, _ := c.Get("u2")
	if s.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d after snapshot merge, want 1", s.UnreadCount)
	}
	if s.LastMessage != "before snapshot" {
		t.Errorf("LastMessage = %q, want preserved preview", s.LastMessage)
	}
	if !s.IsFriend {
		t.Error("IsFriend = false after contact snapshot, want true")
	}
}
