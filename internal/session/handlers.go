package session

import (
	"context"
	"time"

	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/pubsub"
	"github.com/roamio/chatsync/internal/transport"
)

// Frame handlers. All run on the session loop via the router.

func (s *Session) handleMessageFrame(p transport.MessagePayload) {
	m := p.ToDomain()
	if m.RoomID != "" && m.RoomID != s.room.ID {
		s.logger.Debug("dropping message for inactive room", "frameRoomID", m.RoomID)
		return
	}

	outcome := s.rec.applyInbound(m)
	if outcome.duplicate {
		return
	}

	if outcome.appended && m.SenderID != s.cfg.LocalUserID {
		// A real message implies the sender stopped typing.
		s.typing.stop(m.SenderID)
		s.receipts.noteMessage(m.ID)
	}
	s.publishState()
}

func (s *Session) handleTypingFrame(p transport.TypingPayload) {
	if p.UserID == s.cfg.LocalUserID {
		return
	}
	if p.RoomID != "" && p.RoomID != s.room.ID {
		return
	}

	if p.Typing {
		name := p.Username
		if name == "" {
			if participant, ok := s.room.Participant(p.UserID); ok {
				name = participant.DisplayName
			} else {
				name = p.UserID
			}
		}
		s.typing.start(p.UserID, name)
		s.scheduleSweep()
	} else {
		if !s.typing.stop(p.UserID) {
			return
		}
	}
	s.publishState()
}

// scheduleSweep arms an expiry sweep for the case where a peer's stopped
// signal is lost. Timers are tracked so teardown releases any still pending.
func (s *Session) scheduleSweep() {
	s.sweepSeq++
	id := s.sweepSeq
	s.sweepTimers[id] = s.schedule(s.cfg.TypingTTL+50*time.Millisecond, func() {
		delete(s.sweepTimers, id)
		if s.typing.sweep() {
			s.publishState()
		}
	})
}

// handleErrorFrame surfaces a structured broker error as a user-visible
// alert. Display and continue: nothing here tears the session down.
func (s *Session) handleErrorFrame(p transport.ErrorPayload) {
	s.logger.Warn("broker error frame",
		"code", p.ErrorCode, "type", p.ErrorType, "message", p.Message)
	s.publishAlert(alertFromFrame(p))
}

func (s *Session) publishAlert(alert Alert) {
	if err := pubsub.Publish(context.Background(), s.pub, EventAlert, alert); err != nil {
		s.logger.Error("failed to publish alert", "error", err)
	}
}

func (s *Session) handleSubscriptionChange(subscribed, degraded bool) {
	s.subscribed = subscribed
	s.degraded = degraded

	// Room-level read marking: once per activation, after the first
	// CONNECTED+subscribed transition, provided history gave us something
	// to mark.
	if subscribed && len(s.rec.messages) > 0 {
		s.receipts.markRoom()
	}
	s.publishState()
}

// User actions. All run on the session loop.

func (s *Session) sendLocked(content string) {
	now := s.now().UTC()

	if s.connState != domain.Connected {
		// Fail-fast: the entry is visible and FAILED, zero frames emitted.
		s.rec.addFailed(s.room.ID, content, now)
		s.logger.Debug("send failed locally, not connected", "state", s.connState)
		s.publishState()
		return
	}

	msg := s.rec.addPending(s.room.ID, content, now)
	s.stopLocalTyping()

	frame, err := transport.NewFrame(transport.FrameSend, transport.MessageChannel(s.room.ID), transport.SendPayload{
		ChatRoomID:  s.room.ID,
		MessageType: string(domain.KindText),
		Content:     content,
		SentAt:      now,
	})
	if err == nil {
		err = s.conn.Send(frame)
	}
	if err != nil {
		s.rec.markFailed(msg.ClientTempID)
		s.logger.Warn("message transmit failed", "error", err)
	}
	s.publishState()
}

func (s *Session) inputChangedLocked(text string) {
	if text == "" {
		s.stopLocalTyping()
		return
	}

	if !s.localTyping {
		s.localTyping = true
		s.sendTypingSignal(transport.FrameTypingStart)
	} else if s.cancelIdle != nil {
		s.cancelIdle()
	}
	s.cancelIdle = s.schedule(s.cfg.TypingIdle, s.stopLocalTyping)
}

func (s *Session) stopLocalTyping() {
	if s.cancelIdle != nil {
		s.cancelIdle()
		s.cancelIdle = nil
	}
	if !s.localTyping {
		return
	}
	s.localTyping = false
	s.sendTypingSignal(transport.FrameTypingStop)
}

func (s *Session) sendTypingSignal(frameType string) {
	frame, err := transport.NewFrame(frameType, transport.TypingChannel(s.room.ID), nil)
	if err == nil {
		err = s.conn.Send(frame)
	}
	if err != nil {
		// Typing signals are advisory; a miss costs nothing.
		s.logger.Debug("typing signal not delivered", "type", frameType, "error", err)
	}
}

// publishState snapshots loop-owned state and pushes it onto the bus.
func (s *Session) publishState() {
	snap := Snapshot{
		Room:          s.room,
		Messages:      s.rec.list(),
		Connection:    s.connState,
		Subscribed:    s.subscribed,
		Degraded:      s.degraded,
		Typing:        s.typing.active(),
		TypingSummary: s.typing.summary(),
	}

	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()

	if err := pubsub.Publish(context.Background(), s.pub, EventState, snap); err != nil {
		s.logger.Error("failed to publish state snapshot", "error", err)
	}
}
