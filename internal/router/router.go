// Package router attaches the three room-scoped subscriptions once a session
// is connected and demultiplexes inbound frames to the sync core's handlers.
package router

import (
	"encoding/json"
	"log/slog"

	"github.com/roamio/chatsync/internal/transport"
)

// Sender is the transport's outbound primitive. The router never touches the
// socket directly.
type Sender interface {
	Send(transport.Frame) error
}

// Handlers receives demultiplexed inbound frames. All callbacks run on the
// session loop, in frame arrival order.
type Handlers struct {
	OnMessage func(transport.MessagePayload)
	OnTyping  func(transport.TypingPayload)
	OnError   func(transport.ErrorPayload)
	// OnSubscriptionChange fires when the subscribed flag flips or a channel
	// is rejected. degraded means at least one subscription failed while the
	// connection itself stays up.
	OnSubscriptionChange func(subscribed, degraded bool)
}

// Router tracks the subscription lifecycle for one room activation.
// It is driven entirely from the session loop and needs no locking.
type Router struct {
	send     Sender
	roomID   string
	userID   string
	handlers Handlers
	logger   *slog.Logger

	pending map[string]bool
	acked   map[string]bool
	failed  map[string]string
}

// New creates a router for the given room and local user.
func New(send Sender, roomID, userID string, handlers Handlers) *Router {
	return &Router{
		send:     send,
		roomID:   roomID,
		userID:   userID,
		handlers: handlers,
		logger:   slog.Default().With("component", "router", "roomID", roomID),
		pending:  make(map[string]bool),
		acked:    make(map[string]bool),
		failed:   make(map[string]string),
	}
}

// Channels returns the three logical channels for this activation.
func (r *Router) Channels() []string {
	return []string{
		transport.MessageChannel(r.roomID),
		transport.TypingChannel(r.roomID),
		transport.ErrorChannel(r.userID),
	}
}

// Attach sends subscribe frames for all channels. It is called on every
// CONNECTED transition; acks from a previous connection are discarded first,
// so re-attaching after a reconnect never double-subscribes.
func (r *Router) Attach() error {
	r.Reset()
	for _, ch := range r.Channels() {
		frame, err := transport.NewFrame(transport.FrameSubscribe, ch, nil)
		if err != nil {
			return err
		}
		if err := r.send.Send(frame); err != nil {
			return err
		}
		r.pending[ch] = true
	}
	return nil
}

// Detach sends unsubscribe frames for every acked channel and clears state.
// Best-effort: a dead connection drops the subscriptions server-side anyway.
func (r *Router) Detach() {
	for ch := range r.acked {
		frame, err := transport.NewFrame(transport.FrameUnsubscribe, ch, nil)
		if err == nil {
			if err := r.send.Send(frame); err != nil {
				r.logger.Debug("unsubscribe not delivered", "channel", ch, "error", err)
			}
		}
	}
	r.Reset()
}

// Reset forgets all subscription state, flipping subscribed off.
func (r *Router) Reset() {
	wasSubscribed := r.Subscribed()
	r.pending = make(map[string]bool)
	r.acked = make(map[string]bool)
	r.failed = make(map[string]string)
	if wasSubscribed && r.handlers.OnSubscriptionChange != nil {
		r.handlers.OnSubscriptionChange(false, false)
	}
}

// Subscribed reports whether all three channels are acked.
func (r *Router) Subscribed() bool {
	return len(r.acked) == len(r.Channels())
}

// Degraded reports whether any channel was rejected by the broker.
func (r *Router) Degraded() bool {
	return len(r.failed) > 0
}

// HandleFrame routes one inbound frame. Unknown frame types are dropped.
func (r *Router) HandleFrame(f transport.Frame) {
	switch f.Type {
	case transport.FrameSubscribed:
		r.handleAck(f)

	case transport.FrameSubscribeError:
		r.handleReject(f)

	case transport.FrameMessage:
		var payload transport.MessagePayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			r.logger.Warn("dropping malformed message frame", "error", err)
			return
		}
		if r.handlers.OnMessage != nil {
			r.handlers.OnMessage(payload)
		}

	case transport.FrameTyping:
		var payload transport.TypingPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			r.logger.Warn("dropping malformed typing frame", "error", err)
			return
		}
		if r.handlers.OnTyping != nil {
			r.handlers.OnTyping(payload)
		}

	case transport.FrameError:
		var payload transport.ErrorPayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			r.logger.Warn("dropping malformed error frame", "error", err)
			return
		}
		if r.handlers.OnError != nil {
			r.handlers.OnError(payload)
		}

	default:
		r.logger.Debug("dropping unrecognized frame", "type", f.Type)
	}
}

func (r *Router) handleAck(f transport.Frame) {
	if !r.pending[f.Channel] {
		r.logger.Debug("ack for channel we did not request", "channel", f.Channel)
		return
	}
	delete(r.pending, f.Channel)
	r.acked[f.Channel] = true

	if r.Subscribed() && r.handlers.OnSubscriptionChange != nil {
		r.handlers.OnSubscriptionChange(true, r.Degraded())
	}
}

// handleReject records a rejected subscription. This is a degraded state, not
// a broken session: the connection stays up and the UI shows it as such.
func (r *Router) handleReject(f transport.Frame) {
	var payload transport.SubscribeErrorPayload
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		payload.Reason = "unknown"
	}
	delete(r.pending, f.Channel)
	r.failed[f.Channel] = payload.Reason

	r.logger.Warn("broker rejected subscription", "channel", f.Channel, "reason", payload.Reason)
	if r.handlers.OnSubscriptionChange != nil {
		r.handlers.OnSubscriptionChange(false, true)
	}
}
