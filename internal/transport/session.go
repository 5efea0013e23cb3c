package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ntbao/zylo/internal/bus"
	"github.com/ntbao/zylo/internal/event"
)

// ErrNotConnected is returned for any outbound action attempted while
// the session is down. Actions are reported-not-sent, never queued.
var ErrNotConnected = errors.New("transport: not connected")

// ErrMissingToken is returned when Connect is called without
// credentials.
var ErrMissingToken = errors.New("transport: missing auth token")

// errSessionSuperseded reports that the session generation moved while
// a handshake was in flight (an explicit Disconnect, or a competing
// connect that won). The freshly opened connection is dropped instead
// of committed.
var errSessionSuperseded = errors.New("transport: session superseded during connect")

// Credentials carries the bearer token for the STOMP handshake and
// per-subscribe headers.
type Credentials struct {
	Token string
}

// Handlers is the set of named capability slots dispatched from
// inbound destinations. Nil slots are skipped.
type Handlers struct {
	OnMessage       func(event.Message)
	OnDelete        func(event.Mutation)
	OnRecall        func(event.Mutation)
	OnPin           func(event.Mutation)
	OnUnpin         func(event.Mutation)
	OnEdit          func(event.Mutation)
	OnFriendRequest func(event.FriendRequest)
	OnStatusChange  func(event.StatusChange)
	OnCallSignal    func(event.CallSignal)
	OnRead          func(event.Mutation)
}

// Config holds transport tuning knobs.
type Config struct {
	ServerURL      string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	Heartbeat      time.Duration
}

// Session owns the single publish/subscribe connection for one
// authenticated user: handshake, subscriptions, reconnection, and
// teardown. Exactly one Session exists per client process.
type Session struct {
	cfg    Config
	norm   *event.Normalizer
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.Mutex
	conn       *stomp.Conn
	connecting bool
	connected  bool

	userID   string
	token    string
	groupIDs []string
	handlers Handlers

	// cancel stops the reconnect loop and consumers for the current
	// session generation.
	cancel context.CancelFunc
	gen    int
}

// NewSession creates a session manager. Connect must be called before
// any publish.
func NewSession(cfg Config, norm *event.Normalizer, b *bus.Bus, logger *zap.Logger) *Session {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}
	return &Session{cfg: cfg, norm: norm, bus: b, logger: logger}
}

// Connect establishes the session and subscribes the fixed set of
// per-user queues plus one topic per group. Idempotent: a second call
// while open or opening returns immediately. The first handshake
// error is returned to the caller once; the fixed-delay retry loop is
// started regardless, so a broker that comes up late is still reached.
// Disconnect stops the retrying.
func (s *Session) Connect(ctx context.Context, creds Credentials, userID string, groupIDs []string, handlers Handlers) error {
	if creds.Token == "" {
		return ErrMissingToken
	}

	s.mu.Lock()
	if s.connected || s.connecting {
		s.mu.Unlock()
		s.logger.Info("connect requested while session already open or opening")
		return nil
	}
	s.connecting = true
	s.userID = userID
	s.token = creds.Token
	s.groupIDs = append([]string(nil), groupIDs...)
	s.handlers = handlers
	s.mu.Unlock()

	err := s.establish(ctx)

	s.mu.Lock()
	s.connecting = false
	gen := s.gen
	s.mu.Unlock()

	if err != nil {
		if !errors.Is(err, errSessionSuperseded) {
			s.logger.Warn("initial connect failed, scheduling retries",
				zap.Error(err),
				zap.Duration("delay", s.cfg.ReconnectDelay))
			go s.reconnectLoop(gen)
		}
		return err
	}
	return nil
}

// establish performs one handshake + subscription pass. The session
// generation is captured before dialing and re-checked before commit:
// a Disconnect that lands mid-handshake must win, or subscriptions
// from a stale login would leak into the next session.
func (s *Session) establish(ctx context.Context) error {
	s.mu.Lock()
	startGen := s.gen
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	ws, _, err := dialer.DialContext(ctx, s.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.ServerURL, err)
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Header("Authorization", "Bearer "+s.token),
		stomp.ConnOpt.Header("userId", s.userID),
	}
	if s.cfg.Heartbeat > 0 {
		opts = append(opts, stomp.ConnOpt.HeartBeat(s.cfg.Heartbeat, s.cfg.Heartbeat))
	}

	conn, err := stomp.Connect(newWSConn(ws), opts...)
	if err != nil {
		_ = ws.Close()
		return fmt.Errorf("stomp handshake: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.gen != startGen {
		s.mu.Unlock()
		cancel()
		// MustDisconnect: the plain variant waits on a RECEIPT the
		// broker may never send for a connection we are abandoning.
		_ = conn.MustDisconnect()
		return errSessionSuperseded
	}
	s.conn = conn
	s.connected = true
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.subscribeAll(sessionCtx, conn, gen); err != nil {
		s.teardown(gen)
		return err
	}

	s.logger.Info("session established",
		zap.String("user_id", s.userID),
		zap.Int("groups", len(s.groupIDs)))
	s.bus.Emit(bus.KindSessionConnected, s.userID)
	return nil
}

// queueKinds maps each per-user queue suffix to its event kind.
var queueKinds = []struct {
	queue string
	kind  event.Kind
}{
	{"messages", event.KindMessage},
	{"delete", event.KindDelete},
	{"recall", event.KindRecall},
	{"pin", event.KindPin},
	{"unpin", event.KindUnpin},
	{"edit", event.KindEdit},
	{"friendRequest", event.KindFriendRequest},
	{"status", event.KindStatus},
	{"call", event.KindCall},
	{"read", event.KindRead},
}

// Destinations returns every destination the session subscribes for
// the given user and groups, in subscription order.
func Destinations(userID string, groupIDs []string) []string {
	dests := make([]string, 0, len(queueKinds)+len(groupIDs))
	for _, qk := range queueKinds {
		dests = append(dests, fmt.Sprintf("/user/%s/queue/%s", userID, qk.queue))
	}
	for _, gid := range groupIDs {
		if gid == "" {
			continue
		}
		dests = append(dests, "/topic/group/"+gid)
	}
	return dests
}

func (s *Session) subscribeAll(ctx context.Context, conn *stomp.Conn, gen int) error {
	authHeader := stomp.SubscribeOpt.Header("Authorization", "Bearer "+s.token)

	for _, qk := range queueKinds {
		dest := fmt.Sprintf("/user/%s/queue/%s", s.userID, qk.queue)
		sub, err := conn.Subscribe(dest, stomp.AckAuto, authHeader)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", dest, err)
		}
		go s.consume(ctx, sub, qk.kind, gen)
	}

	for _, gid := range s.groupIDs {
		if gid == "" {
			s.logger.Warn("skipping subscription for empty group id")
			continue
		}
		dest := "/topic/group/" + gid
		sub, err := conn.Subscribe(dest, stomp.AckAuto, authHeader)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", dest, err)
		}
		go s.consume(ctx, sub, event.KindMessage, gen)
	}
	return nil
}

// consume drains one subscription. A frame that fails to normalize is
// logged and dropped; subsequent frames keep flowing. A closed
// channel or transport error ends the session generation and triggers
// reconnection.
func (s *Session) consume(ctx context.Context, sub *stomp.Subscription, kind event.Kind, gen int) {
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				s.onSessionLost(gen)
				return
			}
			if msg.Err != nil {
				s.logger.Warn("subscription error", zap.String("destination", sub.Destination()), zap.Error(msg.Err))
				s.onSessionLost(gen)
				return
			}
			evt, err := s.norm.Normalize(kind, msg.Body)
			if err != nil {
				s.logger.Warn("dropping malformed frame",
					zap.String("destination", sub.Destination()),
					zap.Error(err))
				continue
			}
			s.deliver(evt)
		case <-ctx.Done():
			return
		}
	}
}

// deliver routes a normalized event to its handler slot.
func (s *Session) deliver(evt event.Inbound) {
	s.mu.Lock()
	h := s.handlers
	s.mu.Unlock()

	switch e := evt.(type) {
	case event.Message:
		if h.OnMessage != nil {
			h.OnMessage(e)
		}
	case event.Mutation:
		switch e.Kind {
		case event.KindDelete:
			if h.OnDelete != nil {
				h.OnDelete(e)
			}
		case event.KindRecall:
			if h.OnRecall != nil {
				h.OnRecall(e)
			}
		case event.KindPin:
			if h.OnPin != nil {
				h.OnPin(e)
			}
		case event.KindUnpin:
			if h.OnUnpin != nil {
				h.OnUnpin(e)
			}
		case event.KindEdit:
			if h.OnEdit != nil {
				h.OnEdit(e)
			}
		case event.KindRead:
			if h.OnRead != nil {
				h.OnRead(e)
			}
		}
	case event.StatusChange:
		if h.OnStatusChange != nil {
			h.OnStatusChange(e)
		}
	case event.FriendRequest:
		if h.OnFriendRequest != nil {
			h.OnFriendRequest(e)
		}
	case event.CallSignal:
		if h.OnCallSignal != nil {
			h.OnCallSignal(e)
		}
	}
}

// onSessionLost tears down the given generation and starts the
// reconnect loop. Generations guard against a stale consumer of an
// already-replaced session triggering a second reconnect.
func (s *Session) onSessionLost(gen int) {
	s.mu.Lock()
	if gen != s.gen || !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	cancel := s.cancel
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Disconnect()
	}

	s.logger.Warn("session lost, scheduling reconnect", zap.Duration("delay", s.cfg.ReconnectDelay))
	s.bus.Emit(bus.KindSessionDisconnected, s.userID)

	go s.reconnectLoop(gen)
}

func (s *Session) reconnectLoop(lostGen int) {
	policy := backoff.NewConstantBackOff(s.cfg.ReconnectDelay)
	op := func() error {
		s.mu.Lock()
		stale := s.gen != lostGen || s.connected
		s.mu.Unlock()
		if stale {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		defer cancel()
		if err := s.establish(ctx); err != nil {
			s.logger.Warn("reconnect attempt failed", zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		s.logger.Error("reconnect loop aborted", zap.Error(err))
	}
}

// teardown closes the session generation without reconnecting.
func (s *Session) teardown(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.connected = false
	cancel := s.cancel
	conn := s.conn
	s.conn = nil
	s.cancel = nil
	// Bump the generation so stale consumers and reconnect loops
	// become no-ops.
	s.gen++
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Disconnect()
	}
}

// Disconnect tears down the session if connected; a no-op with a log
// line otherwise. Must be called before re-authenticating as a
// different user so subscriptions do not leak across users.
func (s *Session) Disconnect() {
	s.mu.Lock()
	gen := s.gen
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		s.logger.Info("no active session to disconnect")
		// Still bump the generation to stop a pending reconnect loop.
		s.mu.Lock()
		s.gen++
		s.mu.Unlock()
		return
	}
	s.logger.Info("disconnecting session", zap.String("user_id", s.userID))
	s.teardown(gen)
	s.bus.Emit(bus.KindSessionDisconnected, s.userID)
}

// Connected reports whether the session is currently established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Publish sends a JSON body to the given destination with the bearer
// header. Fails fast with ErrNotConnected while the session is down.
func (s *Session) Publish(destination string, body any) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	token := s.token
	s.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", destination, err)
	}
	if err := conn.Send(destination, "application/json", payload,
		stomp.SendOpt.Header("Authorization", "Bearer "+token)); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	return nil
}
