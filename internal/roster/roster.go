// Package roster maintains the conversation list: denormalized last
// message previews, unread counters, presence, and the filter/sort
// contract the UI renders from.
package roster

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/bus"
	"github.com/ntbao/zylo/internal/event"
)

// Presence values for a conversation summary.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusGroup   = "group"
)

// Summary is one row of the conversation list.
type Summary struct {
	ID          string
	IsGroup     bool
	Name        string
	Avatar      string
	Status      string
	Phone       string
	LastMessage string
	Timestamp   time.Time
	LastSeen    time.Time
	UnreadCount int
	IsPinned    bool
	IsFriend    bool

	hasMessage  bool
	lastMsgID   string
	lastMsgType event.MessageType
}

// Filter selects which conversations List returns.
type Filter int

const (
	FilterAll Filter = iota
	// FilterUnread keeps only conversations with unread messages.
	FilterUnread
	// FilterStranger keeps direct conversations with non-friends that
	// have at least one real message.
	FilterStranger
)

// Cache is the conversation summary cache. Fields are updated
// last-writer-wins; concurrent events on different fields do not
// block each other beyond the cache lock.
type Cache struct {
	mu     sync.Mutex
	selfID string
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	active string
	items  map[string]*Summary
	order  []string // insertion order, the stable baseline for sorting

	pending      map[string]event.FriendRequest
	pendingOrder []string
}

// NewCache creates an empty summary cache for the given local user.
func NewCache(selfID string, b *bus.Bus, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		selfID:  selfID,
		bus:     b,
		logger:  logger,
		now:     time.Now,
		items:   make(map[string]*Summary),
		pending: make(map[string]event.FriendRequest),
	}
}

// requestKey identifies a pending request: the request id, or the
// sender when the broker omitted one.
func requestKey(fr event.FriendRequest) string {
	if fr.RequestID != "" {
		return fr.RequestID
	}
	return fr.SenderID
}

// Preview renders the denormalized one-line preview for a message.
func Preview(msg event.Message) string {
	switch msg.Type {
	case event.TypeImage:
		return "[Image]"
	case event.TypeVideo:
		return "[Video]"
	case event.TypeAudio:
		return "[Audio]"
	case event.TypeFile:
		if msg.FileName != "" {
			return "[File: " + msg.FileName + "]"
		}
		return "[File]"
	default:
		return msg.Content
	}
}

// ApplyMessage folds one inbound or reconciled message into the
// conversation's summary. The unread counter only moves for messages
// authored by someone else while the conversation is not the active
// selection.
func (c *Cache) ApplyMessage(msg event.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	convID := msg.ConversationID(c.selfID)
	if convID == "" {
		return
	}
	s := c.item(convID)
	if msg.GroupID != "" {
		s.IsGroup = true
		s.Status = StatusGroup
	}

	s.LastMessage = Preview(msg)
	s.Timestamp = msg.CreatedAt
	s.hasMessage = true
	s.lastMsgID = msg.ID
	s.lastMsgType = msg.Type
	if msg.SenderID != c.selfID && convID != c.active {
		s.UnreadCount++
	}
	c.publish()
}

// ApplyEdit refreshes the preview when the edited message is still
// the one being previewed. Only text previews are rewritten; media
// placeholders are left alone.
func (c *Cache) ApplyEdit(mut event.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.items {
		if s.lastMsgID == "" || s.lastMsgID != mut.ID {
			continue
		}
		if s.lastMsgType != "" && s.lastMsgType != event.TypeText {
			return
		}
		s.LastMessage = mut.Content
		c.publish()
		return
	}
}

// ApplyStatus updates one contact's presence. Going offline records
// the moment as LastSeen.
func (c *Cache) ApplyStatus(sc event.StatusChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.item(sc.UserID)
	if s.IsGroup {
		return
	}
	s.Status = sc.Status
	if sc.Status == StatusOffline {
		s.LastSeen = c.now()
	}
	c.publish()
}

// Select marks a conversation as the active selection and clears its
// unread counter.
func (c *Cache) Select(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = convID
	if s, ok := c.items[convID]; ok && s.UnreadCount != 0 {
		s.UnreadCount = 0
		c.publish()
	}
}

// Active returns the currently selected conversation id.
func (c *Cache) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Contact carries profile fields from a roster snapshot.
type Contact struct {
	ID     string
	Name   string
	Avatar string
	Phone  string
	Status string
}

// LoadContacts merges a friends snapshot. Profile fields are
// overwritten; counters and previews accumulated from live events are
// kept.
func (c *Cache) LoadContacts(contacts []Contact) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ct := range contacts {
		if ct.ID == "" {
			continue
		}
		s := c.item(ct.ID)
		s.Name = ct.Name
		s.Avatar = ct.Avatar
		s.Phone = ct.Phone
		s.IsFriend = true
		if ct.Status != "" {
			s.Status = ct.Status
		}
	}
	c.publish()
}

// Group carries group fields from a roster snapshot.
type Group struct {
	ID     string
	Name   string
	Avatar string
}

// LoadGroups merges a groups snapshot.
func (c *Cache) LoadGroups(groups []Group) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, g := range groups {
		if g.ID == "" {
			continue
		}
		s := c.item(g.ID)
		s.Name = g.Name
		s.Avatar = g.Avatar
		s.IsGroup = true
		s.Status = StatusGroup
	}
	c.publish()
}

// LoadPendingRequests replaces the pending friend request collection
// with a REST snapshot.
func (c *Cache) LoadPendingRequests(reqs []event.FriendRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = make(map[string]event.FriendRequest, len(reqs))
	c.pendingOrder = c.pendingOrder[:0]
	for _, fr := range reqs {
		key := requestKey(fr)
		if key == "" {
			continue
		}
		if _, seen := c.pending[key]; !seen {
			c.pendingOrder = append(c.pendingOrder, key)
		}
		c.pending[key] = fr
	}
	c.publish()
}

// ApplyFriendRequest folds one live friend request notification:
// a new request joins the pending collection, an acceptance marks the
// peer a friend, and the echo of the local user's own acceptance
// clears the request from pending.
func (c *Cache) ApplyFriendRequest(fr event.FriendRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch fr.Type {
	case event.FriendAccepted:
		if fr.SenderID == "" {
			return
		}
		s := c.item(fr.SenderID)
		s.IsFriend = true
		if fr.Name != "" {
			s.Name = fr.Name
		}
		if fr.Avatar != "" {
			s.Avatar = fr.Avatar
		}
	case event.FriendConfirmed:
		c.removePendingLocked(requestKey(fr))
	default:
		key := requestKey(fr)
		if key == "" {
			return
		}
		if _, seen := c.pending[key]; !seen {
			c.pendingOrder = append(c.pendingOrder, key)
		}
		c.pending[key] = fr
	}
	c.publish()
}

// RemovePendingRequest drops one request, keyed by request id or
// sender. Unknown keys are a no-op.
func (c *Cache) RemovePendingRequest(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[key]; !ok {
		return
	}
	c.removePendingLocked(key)
	c.publish()
}

func (c *Cache) removePendingLocked(key string) {
	delete(c.pending, key)
	for i, id := range c.pendingOrder {
		if id == key {
			c.pendingOrder = append(c.pendingOrder[:i], c.pendingOrder[i+1:]...)
			return
		}
	}
}

// PendingRequests returns the incoming friend requests awaiting an
// answer, oldest first.
func (c *Cache) PendingRequests() []event.FriendRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.FriendRequest, 0, len(c.pendingOrder))
	for _, key := range c.pendingOrder {
		out = append(out, c.pending[key])
	}
	return out
}

// Pin marks a conversation pinned or unpinned in the list ordering.
func (c *Cache) Pin(convID string, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.items[convID]; ok {
		s.IsPinned = pinned
		c.publish()
	}
}

// Get returns a copy of one summary.
func (c *Cache) Get(convID string) (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.items[convID]
	if !ok {
		return Summary{}, false
	}
	return *s, true
}

// List returns the conversations matching the filter and free-text
// query, pinned first, otherwise in stable insertion order.
func (c *Cache) List(filter Filter, query string) []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	query = strings.ToLower(strings.TrimSpace(query))
	out := make([]Summary, 0, len(c.order))
	for _, id := range c.order {
		s := c.items[id]
		if !c.matches(s, filter, query) {
			continue
		}
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IsPinned && !out[j].IsPinned
	})
	return out
}

func (c *Cache) matches(s *Summary, filter Filter, query string) bool {
	switch filter {
	case FilterUnread:
		if s.UnreadCount == 0 {
			return false
		}
	case FilterStranger:
		if s.IsFriend || s.IsGroup || !s.hasMessage {
			return false
		}
	}
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s.Name), query) ||
		strings.Contains(strings.ToLower(s.Phone), query)
}

// item returns the summary for an id, creating a placeholder row for
// ids first seen through a live event. Caller holds the lock.
func (c *Cache) item(id string) *Summary {
	s, ok := c.items[id]
	if !ok {
		s = &Summary{ID: id, Status: StatusOffline}
		c.items[id] = s
		c.order = append(c.order, id)
	}
	return s
}

func (c *Cache) publish() {
	if c.bus != nil {
		c.bus.Emit(bus.KindRosterUpdated, nil)
	}
}
