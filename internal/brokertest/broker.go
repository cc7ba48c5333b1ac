// Package brokertest is an in-process messaging broker speaking the sync
// core's wire dialect. Integration tests drive the real transport against it,
// and cmd/stubbroker serves it as a local playground.
package brokertest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/roamio/chatsync/internal/transport"
)

// client is one connected websocket peer.
type client struct {
	userID   string
	username string
	conn     *websocket.Conn
	send     chan []byte
	subs     map[string]bool
}

// Broker relays frames between connected clients. Sends are echoed to every
// room subscriber including the sender, with a server-assigned id — exactly
// the echo the reconciler has to fold back into its optimistic entry.
type Broker struct {
	e      *echo.Echo
	logger *slog.Logger

	mu       sync.Mutex
	clients  map[*client]bool
	users    map[string]identity // bearer token -> identity
	rejected map[string]string   // channel -> rejection reason
	receipts []transport.ReceiptPayload
	rooms    map[string]roomRecord
}

type identity struct {
	userID   string
	username string
}

type roomRecord struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Participants []json.RawMessage `json:"participants"`
}

// New creates a broker. Tokens registered via SetUser are the only accepted
// credentials; an unknown bearer is rejected with 401 at the handshake.
func New() *Broker {
	b := &Broker{
		logger:   slog.Default().With("component", "brokertest"),
		clients:  make(map[*client]bool),
		users:    make(map[string]identity),
		rejected: make(map[string]string),
		rooms:    make(map[string]roomRecord),
	}

	e := echo.New()
	e.HideBanner = true
	e.GET("/ws", b.handleWebsocket)
	e.POST("/rooms/resolve", b.handleResolve)
	e.GET("/rooms/:id/messages", b.handleHistory)
	b.e = e
	return b
}

// Handler exposes the broker's HTTP surface (websocket + directory stubs).
func (b *Broker) Handler() http.Handler {
	return b.e
}

// SetUser registers a bearer token with its identity.
func (b *Broker) SetUser(token, userID, username string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.users[token] = identity{userID: userID, username: username}
}

// SetRoom registers a canned directory response for a room id.
func (b *Broker) SetRoom(id, kind string, participants ...map[string]string) {
	raw := make([]json.RawMessage, 0, len(participants))
	for _, p := range participants {
		data, _ := json.Marshal(p)
		raw = append(raw, data)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[id] = roomRecord{ID: id, Kind: kind, Participants: raw}
}

// RejectChannel makes future subscribes to channel fail with reason.
func (b *Broker) RejectChannel(channel, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejected[channel] = reason
}

// Receipts returns every read receipt received so far.
func (b *Broker) Receipts() []transport.ReceiptPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]transport.ReceiptPayload, len(b.receipts))
	copy(out, b.receipts)
	return out
}

// SendError injects a structured error frame onto a user's error channel.
func (b *Broker) SendError(userID string, payload transport.ErrorPayload) {
	frame, err := transport.NewFrame(transport.FrameError, transport.ErrorChannel(userID), payload)
	if err != nil {
		return
	}
	b.relay(frame.Channel, frame, nil)
}

// DropConnections closes every websocket, simulating a transport failure.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "dropped by test")
	}
}

func (b *Broker) authenticate(r *http.Request) (identity, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return identity{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.users[token]
	return id, ok
}

func (b *Broker) handleWebsocket(c echo.Context) error {
	id, ok := b.authenticate(c.Request())
	if !ok {
		return c.String(http.StatusUnauthorized, "invalid bearer token")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		b.logger.Error("websocket accept failed", "error", err)
		return err
	}

	cl := &client{
		userID:   id.userID,
		username: id.username,
		conn:     conn,
		send:     make(chan []byte, 64),
		subs:     make(map[string]bool),
	}

	b.mu.Lock()
	b.clients[cl] = true
	b.mu.Unlock()

	go cl.writePump()
	b.readLoop(cl)

	b.mu.Lock()
	delete(b.clients, cl)
	b.mu.Unlock()
	close(cl.send)
	return nil
}

func (b *Broker) readLoop(cl *client) {
	defer cl.conn.Close(websocket.StatusNormalClosure, "session ended")

	for {
		_, data, err := cl.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == -1 && err != io.EOF {
				b.logger.Debug("read ended", "userID", cl.userID, "error", err)
			}
			return
		}

		var frame transport.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			b.logger.Warn("dropping malformed frame", "userID", cl.userID, "error", err)
			continue
		}
		b.handleFrame(cl, frame)
	}
}

func (b *Broker) handleFrame(cl *client, frame transport.Frame) {
	switch frame.Type {
	case transport.FrameSubscribe:
		b.handleSubscribe(cl, frame.Channel)

	case transport.FrameUnsubscribe:
		b.mu.Lock()
		delete(cl.subs, frame.Channel)
		b.mu.Unlock()

	case transport.FrameSend:
		b.handleSend(cl, frame)

	case transport.FrameTypingStart, transport.FrameTypingStop:
		b.handleTyping(cl, frame)

	case transport.FrameReceipt:
		var payload transport.ReceiptPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			return
		}
		b.mu.Lock()
		b.receipts = append(b.receipts, payload)
		b.mu.Unlock()

	default:
		b.logger.Debug("ignoring frame", "type", frame.Type, "userID", cl.userID)
	}
}

func (b *Broker) handleSubscribe(cl *client, channel string) {
	b.mu.Lock()
	reason, rejected := b.rejected[channel]
	if !rejected {
		cl.subs[channel] = true
	}
	b.mu.Unlock()

	if rejected {
		frame, _ := transport.NewFrame(transport.FrameSubscribeError, channel,
			transport.SubscribeErrorPayload{Reason: reason})
		cl.deliver(frame)
		return
	}

	frame, _ := transport.NewFrame(transport.FrameSubscribed, channel, nil)
	cl.deliver(frame)
}

func (b *Broker) handleSend(cl *client, frame transport.Frame) {
	var payload transport.SendPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		b.logger.Warn("dropping malformed send", "userID", cl.userID, "error", err)
		return
	}

	id := uuid.NewString()
	out := transport.MessagePayload{
		ID:          &id,
		RoomID:      payload.ChatRoomID,
		SenderID:    cl.userID,
		MessageType: payload.MessageType,
		Content:     payload.Content,
		SentAt:      payload.SentAt,
	}
	channel := transport.MessageChannel(payload.ChatRoomID)
	msgFrame, err := transport.NewFrame(transport.FrameMessage, channel, out)
	if err != nil {
		return
	}
	// The sender gets the echo too; folding it into the optimistic entry is
	// the client's problem.
	b.relay(channel, msgFrame, nil)
}

func (b *Broker) handleTyping(cl *client, frame transport.Frame) {
	roomID := roomFromChannel(frame.Channel)
	payload := transport.TypingPayload{
		RoomID:    roomID,
		UserID:    cl.userID,
		Username:  cl.username,
		Timestamp: time.Now().UTC(),
		Typing:    frame.Type == transport.FrameTypingStart,
	}
	out, err := transport.NewFrame(transport.FrameTyping, frame.Channel, payload)
	if err != nil {
		return
	}
	b.relay(frame.Channel, out, cl)
}

// relay delivers a frame to every subscriber of channel, except skip.
func (b *Broker) relay(channel string, frame transport.Frame, skip *client) {
	b.mu.Lock()
	targets := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		if c != skip && c.subs[channel] {
			targets = append(targets, c)
		}
	}
	b.mu.Unlock()

	for _, c := range targets {
		c.deliver(frame)
	}
}

func (cl *client) deliver(frame transport.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case cl.send <- data:
	default:
		slog.Warn("client send buffer full, dropping frame", "userID", cl.userID)
	}
}

func (cl *client) writePump() {
	for data := range cl.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := cl.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return
		}
	}
}

// roomFromChannel extracts the room id from "room.{id}.messages" style names.
func roomFromChannel(channel string) string {
	parts := strings.Split(channel, ".")
	if len(parts) >= 3 && parts[0] == "room" {
		return strings.Join(parts[1:len(parts)-1], ".")
	}
	return ""
}

// Directory stubs, so the CLI can run fully against the stub broker.

func (b *Broker) handleResolve(c echo.Context) error {
	if _, ok := b.authenticate(c.Request()); !ok {
		return c.String(http.StatusUnauthorized, "invalid bearer token")
	}

	var selector struct {
		TripID string `json:"tripId"`
		PeerID string `json:"peerId"`
		RoomID string `json:"roomId"`
	}
	if err := c.Bind(&selector); err != nil {
		return c.String(http.StatusBadRequest, "malformed selector")
	}

	id := selector.RoomID
	kind := "GROUP"
	switch {
	case selector.TripID != "":
		id = "trip-" + selector.TripID
	case selector.PeerID != "":
		id = "direct-" + selector.PeerID
		kind = "DIRECT"
	}

	b.mu.Lock()
	room, ok := b.rooms[id]
	b.mu.Unlock()
	if !ok {
		if id == "" {
			return c.String(http.StatusNotFound, "unresolvable selector")
		}
		room = roomRecord{ID: id, Kind: kind}
	}
	return c.JSON(http.StatusOK, room)
}

func (b *Broker) handleHistory(c echo.Context) error {
	if _, ok := b.authenticate(c.Request()); !ok {
		return c.String(http.StatusUnauthorized, "invalid bearer token")
	}
	// The stub keeps no persistence; activation seeds from an empty list.
	return c.JSON(http.StatusOK, []struct{}{})
}
