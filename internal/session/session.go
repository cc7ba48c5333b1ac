// Package session is the synchronization engine for one active chat room: it
// owns the message list, the typing set, and the connection snapshot, and
// serializes every mutation through a single event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/pubsub"
	"github.com/roamio/chatsync/internal/router"
	"github.com/roamio/chatsync/internal/transport"
)

// Conn is the transport surface the session drives. The session never touches
// the websocket; *transport.Manager satisfies this in production.
type Conn interface {
	Connect(ctx context.Context) error
	Close()
	Send(transport.Frame) error
	Events() <-chan transport.Event
	State() domain.ConnectionState
}

// Resolver is the external room directory collaborator.
type Resolver interface {
	Resolve(ctx context.Context, selector domain.RoomSelector) (domain.Room, error)
}

// History is the external message history collaborator, queried once per
// activation to seed the message list before live frames are processed.
type History interface {
	FetchMessages(ctx context.Context, roomID string) ([]domain.Message, error)
}

// Config carries the per-activation identity and timing knobs.
type Config struct {
	// LocalUserID is the client identity, injected at activation time rather
	// than read from ambient state.
	LocalUserID      string
	LocalDisplayName string

	// TypingIdle is how long input may idle before stopTyping fires.
	// Zero means the default.
	TypingIdle time.Duration
	// TypingTTL is the presence ceiling for inbound typing entries.
	TypingTTL time.Duration
	// ReceiptDelay is the debounce before a message-level read receipt.
	ReceiptDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.TypingIdle <= 0 {
		c.TypingIdle = typingIdle
	}
	if c.TypingTTL <= 0 {
		c.TypingTTL = typingTTL
	}
	if c.ReceiptDelay <= 0 {
		c.ReceiptDelay = receiptDelay
	}
}

// Session drives one room activation. Create with New, start with Activate,
// release with Close. All state mutations happen on the internal loop; public
// methods post actions onto it and return immediately.
type Session struct {
	cfg      Config
	conn     Conn
	resolver Resolver
	history  History
	pub      pubsub.Publisher
	logger   *slog.Logger

	actions chan func()
	done    chan struct{}

	mu        sync.Mutex
	activated bool
	cancel    context.CancelFunc
	last      Snapshot

	// Loop-owned state. Touched only from run().
	room        domain.Room
	rec         *reconciler
	typing      *typingTracker
	receipts    *receiptDispatcher
	rtr         *router.Router
	connState   domain.ConnectionState
	subscribed  bool
	degraded    bool
	localTyping bool
	cancelIdle  func()
	sweepTimers map[int]func()
	sweepSeq    int
	now         func() time.Time
}

// New assembles a session. Nothing runs until Activate.
func New(cfg Config, conn Conn, resolver Resolver, history History, pub pubsub.Publisher) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:       cfg,
		conn:      conn,
		resolver:  resolver,
		history:   history,
		pub:       pub,
		logger:    slog.Default().With("component", "session"),
		actions:   make(chan func(), 64),
		done:      make(chan struct{}),
		connState: domain.Disconnected,
		now:       time.Now,
	}
}

// Activate resolves the room, seeds history, opens the transport session, and
// starts the event loop. Activating an already-active session is a no-op.
// A missing credential fails fast with ErrAuthRequired before anything runs.
func (s *Session) Activate(ctx context.Context, selector domain.RoomSelector) error {
	s.mu.Lock()
	if s.activated {
		s.mu.Unlock()
		return nil
	}
	s.activated = true
	s.mu.Unlock()

	if err := selector.Validate(); err != nil {
		s.deactivate()
		return err
	}

	room, err := s.resolver.Resolve(ctx, selector)
	if err != nil {
		s.deactivate()
		return fmt.Errorf("failed to resolve room: %w", err)
	}
	if room.ID == "" {
		s.deactivate()
		return domain.ErrRoomNotResolved
	}

	seed, err := s.history.FetchMessages(ctx, room.ID)
	if err != nil {
		s.deactivate()
		return fmt.Errorf("failed to load message history: %w", err)
	}

	s.room = room
	s.rec = newReconciler(s.cfg.LocalUserID)
	s.rec.seed(seed)
	s.typing = newTypingTracker(s.cfg.TypingTTL)
	s.sweepTimers = make(map[int]func())
	s.receipts = newReceiptDispatcher(room.ID, s.conn.Send, s.schedule)
	s.receipts.delay = s.cfg.ReceiptDelay
	s.rtr = router.New(s.conn, room.ID, s.cfg.LocalUserID, router.Handlers{
		OnMessage:            s.handleMessageFrame,
		OnTyping:             s.handleTypingFrame,
		OnError:              s.handleErrorFrame,
		OnSubscriptionChange: s.handleSubscriptionChange,
	})

	// The room-scoped logger must be in place before the loop goroutine can
	// read it.
	s.logger = s.logger.With("roomID", room.ID)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(loopCtx)

	if err := s.conn.Connect(loopCtx); err != nil {
		s.Close()
		return err
	}

	s.logger.Info("room activated", "kind", room.Kind, "participants", len(room.Participants), "seeded", len(seed))

	s.do(s.publishState)
	return nil
}

// Close tears the activation down: transport, subscriptions, and every
// pending timer. Safe on every exit path and safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Snapshot returns the most recently published state. Pull-based consumers
// use this; reactive ones subscribe to EventState on the bus.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Send transmits a message. The optimistic entry appears immediately with
// status PENDING; without a resolved room and a live connection the attempt
// fails locally as FAILED and no frame is emitted. Never retried
// automatically; the caller may resubmit the same content.
func (s *Session) Send(content string) {
	if content == "" {
		return
	}
	s.do(func() { s.sendLocked(content) })
}

// InputChanged drives the local typing signals from the composer's text.
// First keystroke after idle sends typing.start; emptying the input or going
// idle sends typing.stop.
func (s *Session) InputChanged(text string) {
	s.do(func() { s.inputChangedLocked(text) })
}

// MarkRoomRead requests the whole-room read receipt. Emitted at most once per
// activation, also triggered automatically on the first subscribed transition.
func (s *Session) MarkRoomRead() {
	s.do(func() { s.receipts.markRoom() })
}

// run is the single consumption point: transport events and user actions are
// interleaved here in arrival order, so no state needs further locking.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return
		case ev := <-s.conn.Events():
			s.handleTransportEvent(ev)
		case fn := <-s.actions:
			fn()
		}
	}
}

func (s *Session) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventStateChange:
		s.handleStateChange(ev.State, ev.Err)
	case transport.EventFrame:
		s.rtr.HandleFrame(ev.Frame)
	}
}

func (s *Session) handleStateChange(state domain.ConnectionState, cause error) {
	prev := s.connState
	s.connState = state

	switch state {
	case domain.Connected:
		// Subscriptions are per-connection; attach (or re-attach) them now.
		// subscribed stays false until the broker acks all three.
		if err := s.rtr.Attach(); err != nil {
			s.logger.Warn("failed to attach subscriptions", "error", err)
		}
	case domain.Reconnecting, domain.Disconnected:
		s.rtr.Reset()
		s.subscribed = false
	}

	// A credential rejection ends the transport session for good; the user
	// has to act, so it surfaces as an alert rather than a bare disconnect.
	if errors.Is(cause, domain.ErrAuthRequired) {
		s.publishAlert(Alert{
			Category:    AlertAuthorization,
			Code:        "AUTH_REQUIRED",
			Message:     cause.Error(),
			UserMessage: "Your session has expired. Please sign in again.",
		})
	}

	if prev != state {
		s.logger.Info("connection state changed", "from", prev, "to", state)
	}
	s.publishState()
}

func (s *Session) teardown() {
	if s.cancelIdle != nil {
		s.cancelIdle()
		s.cancelIdle = nil
	}
	for id, cancel := range s.sweepTimers {
		cancel()
		delete(s.sweepTimers, id)
	}
	s.receipts.reset()
	s.rtr.Detach()
	s.conn.Close()

	s.connState = domain.Disconnected
	s.subscribed = false
	s.publishState()

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("room deactivated")
}

func (s *Session) deactivate() {
	s.mu.Lock()
	s.activated = false
	s.mu.Unlock()
}

// do posts an action onto the loop. Actions arriving after teardown are
// dropped: they would act on a session no longer attached to anything.
func (s *Session) do(fn func()) {
	select {
	case s.actions <- fn:
	case <-s.done:
	}
}

// schedule arms a timer whose callback runs on the loop. The returned cancel
// func is the guaranteed release path for teardown or superseding events.
func (s *Session) schedule(d time.Duration, fn func()) func() {
	timer := time.AfterFunc(d, func() { s.do(fn) })
	return func() { timer.Stop() }
}
