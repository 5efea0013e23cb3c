// Package convo maintains the ordered, deduplicated message threads
// for cached conversations and reconciles optimistic local sends
// against server-confirmed echoes.
package convo

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/bus"
	"github.com/ntbao/zylo/internal/event"
	"github.com/ntbao/zylo/internal/exclusion"
)

// Outcome reports what ApplyInbound did with an event.
type Outcome int

const (
	// OutcomeDuplicate means an entry with the same id already
	// existed (at-least-once delivery).
	OutcomeDuplicate Outcome = iota
	// OutcomeReconciled means an optimistic entry was replaced in
	// place by the confirmed one.
	OutcomeReconciled
	// OutcomeExcluded means the id is in the local deletion exclusion
	// set and the event was discarded.
	OutcomeExcluded
	// OutcomeAppended means the event was appended as a new message.
	OutcomeAppended
)

// Draft is an outbound message before dispatch.
type Draft struct {
	SenderID   string
	ReceiverID string
	GroupID    string
	Content    string
	Type       event.MessageType
}

// thread is one conversation's message list. Display order is
// insertion order of arrival/load; out-of-order network delivery is
// not resorted. loaded flips once a history snapshot has been applied;
// a thread created by a live arrival alone is not a substitute for
// history.
type thread struct {
	msgs   []event.Message
	index  map[string]int // dedup key -> position
	loaded bool
}

func newThread() *thread {
	return &thread{index: make(map[string]int)}
}

// Store holds a keyed, LRU-bounded cache of conversation threads.
// The conversation currently selected is never evicted. All methods
// are safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	selfID  string
	excl    exclusion.Set
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
	newKey  func() string
	maxSize int

	active  string
	threads map[string]*thread
	lru     []string // least recently used first
}

// NewStore creates a store for the given local user. maxThreads bounds
// the keyed cache; values below 1 fall back to 8.
func NewStore(selfID string, excl exclusion.Set, b *bus.Bus, logger *zap.Logger, maxThreads int) *Store {
	if maxThreads < 1 {
		maxThreads = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		selfID:  selfID,
		excl:    excl,
		bus:     b,
		logger:  logger,
		now:     time.Now,
		newKey:  uuid.NewString,
		maxSize: maxThreads,
		threads: make(map[string]*thread),
	}
}

// Select makes a conversation the active selection. Returns true only
// when the thread holds a loaded history snapshot; a thread seeded by
// live arrivals alone still needs a history fetch.
func (s *Store) Select(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = convID
	t, ok := s.threads[convID]
	if ok {
		s.touch(convID)
	}
	return ok && t.loaded
}

// Active returns the currently selected conversation id.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Messages returns a copy of the active conversation's messages in
// display order.
func (s *Store) Messages() []event.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[s.active]
	if !ok {
		return nil
	}
	return append([]event.Message(nil), t.msgs...)
}

// MessagesFor returns a copy of the given conversation's cached
// messages, or nil when the thread is not cached.
func (s *Store) MessagesFor(convID string) []event.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[convID]
	if !ok {
		return nil
	}
	return append([]event.Message(nil), t.msgs...)
}

// ApplyInbound merges one normalized inbound message:
//
//  1. an existing entry with the same id makes this a duplicate
//     delivery and a no-op;
//  2. a matching optimistic entry (content, sender, destination) is
//     replaced in place, adopting the server id and clearing the
//     temp key;
//  3. an id in the deletion exclusion set is discarded silently;
//  4. otherwise the message is appended. Pin state is never inherited
//     from the wire for a new arrival; it only changes via explicit
//     pin/unpin events.
func (s *Store) ApplyInbound(msg event.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID := msg.ConversationID(s.selfID)
	t := s.thread(convID)

	if _, exists := t.index[msg.DedupKey()]; exists {
		return OutcomeDuplicate
	}

	if pos, ok := t.findOptimistic(msg); ok {
		old := t.msgs[pos]
		confirmed := msg
		confirmed.TempKey = ""
		confirmed.IsPinned = old.IsPinned
		t.msgs[pos] = confirmed
		delete(t.index, old.DedupKey())
		t.index[confirmed.DedupKey()] = pos
		s.bus.Emit(bus.KindMessageReconciled, confirmed)
		return OutcomeReconciled
	}

	if excluded, err := s.excl.Contains(msg.ID); err != nil {
		s.logger.Warn("exclusion lookup failed", zap.Error(err), zap.String("id", msg.ID))
	} else if excluded {
		return OutcomeExcluded
	}

	stored := msg
	stored.IsPinned = false
	t.append(stored)
	s.bus.Emit(bus.KindMessageReceived, stored)
	return OutcomeAppended
}

// findOptimistic locates an optimistic entry matching the confirmed
// message by content, sender, and destination.
func (t *thread) findOptimistic(msg event.Message) (int, bool) {
	for i, m := range t.msgs {
		if m.TempKey == "" {
			continue
		}
		if m.Content != msg.Content || m.SenderID != msg.SenderID {
			continue
		}
		if (msg.ReceiverID != "" && m.ReceiverID == msg.ReceiverID) ||
			(msg.GroupID != "" && m.GroupID == msg.GroupID) {
			return i, true
		}
	}
	return 0, false
}

func (t *thread) append(msg event.Message) {
	t.msgs = append(t.msgs, msg)
	t.index[msg.DedupKey()] = len(t.msgs) - 1
}

// ApplyMutation updates one flag/field of the identified message. An
// unknown id is a no-op, not an error; the mutation may target a
// message outside the cached window.
func (s *Store) ApplyMutation(mut event.Mutation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.threads {
		pos, ok := t.index[mut.ID]
		if !ok {
			continue
		}
		msg := &t.msgs[pos]
		switch mut.Kind {
		case event.KindDelete:
			msg.DeletedByUsers = append([]string(nil), mut.DeletedByUsers...)
		case event.KindRecall:
			msg.Recalled = mut.Recalled
		case event.KindPin:
			msg.IsPinned = true
		case event.KindUnpin:
			msg.IsPinned = false
		case event.KindEdit:
			msg.Content = mut.Content
			msg.IsEdited = true
		case event.KindRead:
			msg.IsRead = true
		default:
			return false
		}
		s.bus.Emit(bus.KindMessageMutated, mut)
		return true
	}
	return false
}

// LoadHistory replaces a conversation's thread wholesale with a REST
// snapshot: deduplicated by id, minus ids in the deletion exclusion
// set. Callers must pass messages already run through the normalizer.
func (s *Store) LoadHistory(convID string, snapshot []event.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := newThread()
	t.loaded = true
	for _, msg := range snapshot {
		if _, seen := t.index[msg.DedupKey()]; seen {
			continue
		}
		if msg.ID != "" {
			if excluded, err := s.excl.Contains(msg.ID); err != nil {
				s.logger.Warn("exclusion lookup failed", zap.Error(err), zap.String("id", msg.ID))
			} else if excluded {
				continue
			}
		}
		t.append(msg)
	}
	s.threads[convID] = t
	s.touch(convID)
}

// SendOptimistic assigns a temp key, appends the draft immediately so
// the UI has feedback before server confirmation, and returns the
// entry for dispatch over the transport.
func (s *Store) SendOptimistic(draft Draft) event.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := event.Message{
		TempKey:        s.newKey(),
		SenderID:       draft.SenderID,
		ReceiverID:     draft.ReceiverID,
		GroupID:        draft.GroupID,
		Content:        draft.Content,
		Type:           draft.Type,
		CreatedAt:      s.now(),
		DeletedByUsers: []string{},
	}
	if msg.Type == "" {
		msg.Type = event.TypeText
	}

	convID := msg.ConversationID(s.selfID)
	s.thread(convID).append(msg)
	return msg
}

// thread returns the cached thread for a conversation, creating it
// and updating LRU order as needed. Caller holds the lock.
func (s *Store) thread(convID string) *thread {
	t, ok := s.threads[convID]
	if !ok {
		t = newThread()
		s.threads[convID] = t
	}
	s.touch(convID)
	return t
}

// touch marks a conversation most recently used and evicts beyond the
// cache bound. The active conversation is never evicted.
func (s *Store) touch(convID string) {
	for i, id := range s.lru {
		if id == convID {
			s.lru = append(s.lru[:i], s.lru[i+1:]...)
			break
		}
	}
	s.lru = append(s.lru, convID)

	for len(s.lru) > s.maxSize {
		victim := ""
		for _, id := range s.lru {
			if id != s.active {
				victim = id
				break
			}
		}
		if victim == "" {
			return
		}
		delete(s.threads, victim)
		for i, id := range s.lru {
			if id == victim {
				s.lru = append(s.lru[:i], s.lru[i+1:]...)
				break
			}
		}
		s.logger.Debug("evicted conversation thread", zap.String("conversation", victim))
	}
}
