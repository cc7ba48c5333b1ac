package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roamio/chatsync/internal/auth"
	"github.com/roamio/chatsync/internal/domain"
)

// EventKind discriminates the events a Manager delivers to its consumer.
type EventKind int

const (
	// EventStateChange reports a connection state transition.
	EventStateChange EventKind = iota
	// EventFrame carries an inbound broker frame.
	EventFrame
)

// Event is delivered on the Manager's event channel. Events are emitted in
// occurrence order; the consumer processes them on a single loop.
type Event struct {
	Kind  EventKind
	State domain.ConnectionState
	Frame Frame
	// Err explains a terminal DISCONNECTED transition, e.g. ErrAuthRequired
	// when the broker rejected the credential. Nil on ordinary transitions.
	Err error
}

const (
	defaultHeartbeat      = 25 * time.Second
	defaultReconnectDelay = 3 * time.Second
	writeTimeout          = 10 * time.Second
	outboundBuffer        = 64
	eventBuffer           = 256
)

// Option configures a Manager.
type Option func(*Manager)

// WithHeartbeat sets the ping interval. The pong deadline is twice this.
func WithHeartbeat(d time.Duration) Option {
	return func(m *Manager) { m.heartbeat = d }
}

// WithReconnectDelay sets the fixed delay between reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) { m.reconnectDelay = d }
}

// WithDialer overrides the websocket dialer, mainly for tests.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the transport session to the messaging broker: connect,
// authenticate, heartbeat, reconnect, disconnect. It is the only component
// that touches the websocket; everything else goes through Send.
type Manager struct {
	url            string
	tokens         auth.TokenSource
	dialer         *websocket.Dialer
	heartbeat      time.Duration
	reconnectDelay time.Duration
	logger         *slog.Logger

	events chan Event

	mu       sync.Mutex
	state    domain.ConnectionState
	outbound chan []byte
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewManager creates a Manager for the given broker endpoint. The session is
// not opened until Connect is called.
func NewManager(url string, tokens auth.TokenSource, opts ...Option) *Manager {
	m := &Manager{
		url:            url,
		tokens:         tokens,
		dialer:         websocket.DefaultDialer,
		heartbeat:      defaultHeartbeat,
		reconnectDelay: defaultReconnectDelay,
		logger:         slog.Default().With("component", "transport"),
		events:         make(chan Event, eventBuffer),
		state:          domain.Disconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the channel on which state changes and inbound frames are
// delivered, in arrival order.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the session. Calling Connect while a session is already live
// is a no-op. A missing or expired credential fails fast with ErrAuthRequired
// and is never retried automatically.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}

	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("cannot open session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(runCtx, token)
	return nil
}

// Close tears the session down and releases all timers and pumps. It is safe
// to call on any state and more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Send transmits a frame on the live session. It fails immediately with
// ErrNotConnected when no session is established; callers decide whether and
// when to retry.
func (m *Manager) Send(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	m.mu.Lock()
	state := m.state
	outbound := m.outbound
	m.mu.Unlock()

	if state != domain.Connected || outbound == nil {
		return domain.ErrNotConnected
	}

	select {
	case outbound <- data:
		return nil
	default:
		return fmt.Errorf("outbound buffer full: %w", domain.ErrNotConnected)
	}
}

// run is the session goroutine: dial, pump until failure, back off, redial.
// It exits only on context cancellation or a fatal credential failure.
func (m *Manager) run(ctx context.Context, token string) {
	var termErr error
	defer func() {
		// The context is usually dead by now, so deliver the terminal state
		// without blocking; the buffer has room unless the consumer is gone.
		m.mu.Lock()
		m.state = domain.Disconnected
		m.cancel = nil
		close(m.done)
		m.mu.Unlock()
		select {
		case m.events <- Event{Kind: EventStateChange, State: domain.Disconnected, Err: termErr}:
		default:
		}
	}()

	m.setState(ctx, domain.Connecting)

	for {
		conn, err := m.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, domain.ErrAuthRequired) {
				m.logger.Error("broker rejected credential, giving up", "error", err)
				termErr = err
				return
			}
			m.logger.Warn("dial failed, will retry", "error", err, "delay", m.reconnectDelay)
			m.setState(ctx, domain.Reconnecting)
			if !m.sleep(ctx) {
				return
			}
			continue
		}

		m.attach()
		m.setState(ctx, domain.Connected)

		err = m.pump(ctx, conn)
		m.detach()
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		m.logger.Warn("session dropped, reconnecting", "error", err, "delay", m.reconnectDelay)
		m.setState(ctx, domain.Reconnecting)
		if !m.sleep(ctx) {
			return
		}

		// Refresh the credential for the redial; losing it mid-session is
		// fatal the same way it is on the first attempt.
		token, err = m.tokens.Token(ctx)
		if err != nil {
			m.logger.Error("credential unavailable during reconnect", "error", err)
			termErr = err
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, domain.ErrAuthRequired)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// pump services one live connection: the calling goroutine reads frames, a
// writer goroutine drains the outbound buffer and emits heartbeat pings.
// It returns when the connection fails or the context is canceled.
func (m *Manager) pump(ctx context.Context, conn *websocket.Conn) error {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pongWait := 2 * m.heartbeat
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	m.mu.Lock()
	outbound := m.outbound
	m.mu.Unlock()

	go m.writePump(pumpCtx, conn, outbound)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read failed: %w", err)
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if !m.emit(ctx, Event{Kind: EventFrame, Frame: frame}) {
			return ctx.Err()
		}
	}
}

// writePump drains the outbound buffer and keeps the heartbeat going. A write
// failure closes the connection, which surfaces as a read error in pump.
func (m *Manager) writePump(ctx context.Context, conn *websocket.Conn, outbound chan []byte) {
	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(writeTimeout))
			conn.Close()
			return

		case data := <-outbound:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Error("websocket write failed", "error", err)
				conn.Close()
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				m.logger.Error("heartbeat ping failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

func (m *Manager) attach() {
	m.mu.Lock()
	m.outbound = make(chan []byte, outboundBuffer)
	m.mu.Unlock()
}

func (m *Manager) detach() {
	m.mu.Lock()
	m.outbound = nil
	m.mu.Unlock()
}

func (m *Manager) setState(ctx context.Context, state domain.ConnectionState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.emit(ctx, Event{Kind: EventStateChange, State: state})
}

// emit delivers an event to the consumer, giving up when the session context
// dies so a torn-down consumer cannot wedge the pumps.
func (m *Manager) emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleep waits out the reconnect delay, honoring cancellation.
func (m *Manager) sleep(ctx context.Context) bool {
	timer := time.NewTimer(m.reconnectDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
