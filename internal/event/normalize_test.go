package event

import (
	"testing"
	"time"
)

func TestMessageIDCoalescing(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"underscore id", `{"_id":"m1","senderId":"u1"}`, "m1"},
		{"plain id", `{"id":"m2","senderId":"u1"}`, "m2"},
		{"underscore wins", `{"_id":"m1","id":"m2","senderId":"u1"}`, "m1"},
		{"absent", `{"senderId":"u1"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := n.Message([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Message() error = %v", err)
			}
			if msg.ID != tt.want {
				t.Errorf("ID = %q, want %q", msg.ID, tt.want)
			}
		})
	}
}

func TestMessageTimestampNormalization(t *testing.T) {
	n := NewNormalizer(nil)
	fixed := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	t.Run("bare timestamp assumed UTC", func(t *testing.T) {
		msg, err := n.Message([]byte(`{"id":"m1","createdAt":"2024-05-01T08:30:00"}`))
		if err != nil {
			t.Fatal(err)
		}
		want := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
		if !msg.CreatedAt.Equal(want) {
			t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, want)
		}
	})

	t.Run("explicit offset preserved", func(t *testing.T) {
		msg, err := n.Message([]byte(`{"id":"m1","createdAt":"2024-05-01T08:30:00+07:00"}`))
		if err != nil {
			t.Fatal(err)
		}
		want := time.Date(2024, 5, 1, 1, 30, 0, 0, time.UTC)
		if !msg.CreatedAt.Equal(want) {
			t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, want)
		}
	})

	t.Run("alternate field name", func(t *testing.T) {
		msg, err := n.Message([]byte(`{"id":"m1","createAt":"2024-05-01T08:30:00Z"}`))
		if err != nil {
			t.Fatal(err)
		}
		want := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
		if !msg.CreatedAt.Equal(want) {
			t.Errorf("CreatedAt = %v, want %v", msg.CreatedAt, want)
		}
	})

	t.Run("invalid value falls back to now", func(t *testing.T) {
		msg, err := n.Message([]byte(`{"id":"m1","createAt":"not-a-date"}`))
		if err != nil {
			t.Fatal(err)
		}
		if !msg.CreatedAt.Equal(fixed) {
			t.Errorf("CreatedAt = %v, want fallback %v", msg.CreatedAt, fixed)
		}
	})

	t.Run("absent value falls back to now", func(t *testing.T) {
		msg, err := n.Message([]byte(`{"id":"m1"}`))
		if err != nil {
			t.Fatal(err)
		}
		if !msg.CreatedAt.Equal(fixed) {
			t.Errorf("CreatedAt = %v, want fallback %v", msg.CreatedAt, fixed)
		}
	})
}

func TestMessageBooleanCoercion(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"real true", `{"id":"m1","recalled":true}`, true},
		{"real false", `{"id":"m1","recalled":false}`, false},
		{"string true", `{"id":"m1","recalled":"true"}`, true},
		{"string false is false", `{"id":"m1","recalled":"false"}`, false},
		{"null", `{"id":"m1","recalled":null}`, false},
		{"absent", `{"id":"m1"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := n.Message([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Message() error = %v", err)
			}
			if msg.Recalled != tt.want {
				t.Errorf("Recalled = %v, want %v", msg.Recalled, tt.want)
			}
		})
	}
}

func TestMessageDefaults(t *testing.T) {
	n := NewNormalizer(nil)
	msg, err := n.Message([]byte(`{"id":"m1","senderId":"u1","content":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != TypeText {
		t.Errorf("Type = %q, want TEXT default", msg.Type)
	}
	if msg.DeletedByUsers == nil {
		t.Error("DeletedByUsers should default to empty, not nil")
	}
}

func TestMutationRequiresID(t *testing.T) {
	n := NewNormalizer(nil)
	if _, err := n.Mutation(KindRecall, []byte(`{"senderId":"u1"}`)); err == nil {
		t.Error("Mutation() without id should fail")
	}

	mut, err := n.Mutation(KindDelete, []byte(`{"_id":"m1","deletedByUsers":["u2"]}`))
	if err != nil {
		t.Fatalf("Mutation() error = %v", err)
	}
	if mut.ID != "m1" {
		t.Errorf("ID = %q, want m1", mut.ID)
	}
	if len(mut.DeletedByUsers) != 1 || mut.DeletedByUsers[0] != "u2" {
		t.Errorf("DeletedByUsers = %v, want [u2]", mut.DeletedByUsers)
	}
}

func TestStatusChangeLowercased(t *testing.T) {
	n := NewNormalizer(nil)
	sc, err := n.StatusChange([]byte(`{"userId":"u2","status":"ONLINE"}`))
	if err != nil {
		t.Fatal(err)
	}
	if sc.Status != "online" {
		t.Errorf("Status = %q, want online", sc.Status)
	}
}

func TestNormalizeSumType(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		kind Kind
		raw  string
	}{
		{KindMessage, `{"id":"m1","senderId":"u1"}`},
		{KindDelete, `{"id":"m1"}`},
		{KindRecall, `{"id":"m1"}`},
		{KindStatus, `{"userId":"u1","status":"offline"}`},
		{KindFriendRequest, `{"id":"r1","senderId":"u3"}`},
		{KindCall, `{"type":"offer","senderId":"u2"}`},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			evt, err := n.Normalize(tt.kind, []byte(tt.raw))
			if err != nil {
				t.Fatalf("Normalize(%s) error = %v", tt.kind, err)
			}
			if evt.EventKind() != tt.kind {
				t.Errorf("EventKind() = %s, want %s", evt.EventKind(), tt.kind)
			}
		})
	}

	t.Run("unrecognized kind dropped", func(t *testing.T) {
		if _, err := n.Normalize(Kind("presence2"), []byte(`{}`)); err == nil {
			t.Error("Normalize() with unknown kind should fail")
		}
	})

	t.Run("malformed frame", func(t *testing.T) {
		if _, err := n.Normalize(KindMessage, []byte(`{nope`)); err == nil {
			t.Error("Normalize() with malformed body should fail")
		}
	})
}

func TestDedupKey(t *testing.T) {
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"server id", Message{ID: "m1", TempKey: "t1"}, "m1"},
		{"temp key", Message{TempKey: "t1"}, "t1"},
		{"composite", Message{SenderID: "u1", CreatedAt: ts}, "1714521600000000000/u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.DedupKey(); got != tt.want {
				t.Errorf("DedupKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConversationID(t *testing.T) {
	direct := Message{SenderID: "u2", ReceiverID: "u1"}
	if got := direct.ConversationID("u1"); got != "u2" {
		t.Errorf("inbound direct conversation = %q, want u2", got)
	}
	if got := direct.ConversationID("u2"); got != "u1" {
		t.Errorf("outbound direct conversation = %q, want u1", got)
	}
	group := Message{SenderID: "u2", GroupID: "g1"}
	if got := group.ConversationID("u1"); got != "g1" {
		t.Errorf("group conversation = %q, want g1", got)
	}
}

func TestDeletedFor(t *testing.T) {
	msg := Message{ID: "m1", Content: "hello", DeletedByUsers: []string{"u2"}}
	if !msg.DeletedFor("u2") {
		t.Error("message should render deleted for u2")
	}
	if msg.DeletedFor("u1") {
		t.Error("message should render normally for u1")
	}
}
