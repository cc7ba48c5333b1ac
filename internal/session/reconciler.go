package session

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/roamio/chatsync/internal/domain"
)

const (
	// echoMatchWindow is the tolerance when matching a server echo of our own
	// send against the optimistic PENDING entry.
	echoMatchWindow = 10 * time.Second
	// peerDupWindow is the tolerance when deduplicating peer messages that
	// arrive without a server id.
	peerDupWindow = 5 * time.Second
)

// applyOutcome describes what applyInbound did with a frame, so the session
// can trigger the right side effects (typing clear, read receipt, publish).
type applyOutcome struct {
	appended   bool
	reconciled bool
	duplicate  bool
	message    domain.Message
}

// reconciler maintains the ordered message list for the active room. Its one
// job: exactly one visible entry per logical message, even though every local
// send appears twice (optimistic insert, then server echo).
//
// All methods are called from the session loop only.
type reconciler struct {
	localUserID string
	messages    []domain.Message
}

func newReconciler(localUserID string) *reconciler {
	return &reconciler{localUserID: localUserID}
}

// seed installs the history service's messages as the initial list, ordered
// by sentAt ascending.
func (r *reconciler) seed(history []domain.Message) {
	msgs := make([]domain.Message, len(history))
	copy(msgs, history)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].SentAt.Before(msgs[j].SentAt)
	})
	r.messages = msgs
}

// addPending inserts an optimistic local message and returns it.
func (r *reconciler) addPending(roomID, content string, now time.Time) domain.Message {
	msg := domain.Message{
		ClientTempID: uuid.NewString(),
		RoomID:       roomID,
		SenderID:     r.localUserID,
		Kind:         domain.KindText,
		Content:      content,
		SentAt:       now,
		Status:       domain.StatusPending,
	}
	r.insert(msg)
	return msg
}

// addFailed inserts a message that never reached the wire. The caller may
// resubmit the same content later; that produces a fresh PENDING entry.
func (r *reconciler) addFailed(roomID, content string, now time.Time) domain.Message {
	msg := domain.Message{
		ClientTempID: uuid.NewString(),
		RoomID:       roomID,
		SenderID:     r.localUserID,
		Kind:         domain.KindText,
		Content:      content,
		SentAt:       now,
		Status:       domain.StatusFailed,
	}
	r.insert(msg)
	return msg
}

// markFailed flips a PENDING entry to FAILED after a transmit error.
func (r *reconciler) markFailed(clientTempID string) bool {
	for i := range r.messages {
		if r.messages[i].ClientTempID == clientTempID && r.messages[i].Status == domain.StatusPending {
			r.messages[i].Status = domain.StatusFailed
			return true
		}
	}
	return false
}

// applyInbound merges one inbound message frame into the list.
//
// Own echoes are matched against PENDING entries, preferring an exact
// clientTempId match when the broker echoes one, falling back to the
// content/time-window heuristic. A match replaces the entry in place; the
// already-displayed position never changes.
func (r *reconciler) applyInbound(m domain.Message) applyOutcome {
	if m.SenderID == r.localUserID {
		return r.applyOwnEcho(m)
	}
	return r.applyPeer(m)
}

func (r *reconciler) applyOwnEcho(m domain.Message) applyOutcome {
	if i := r.matchPending(m); i >= 0 {
		if m.ClientTempID == "" {
			m.ClientTempID = r.messages[i].ClientTempID
		}
		r.messages[i] = m
		return applyOutcome{reconciled: true, message: m}
	}

	if m.ID != "" && r.indexOfID(m.ID) >= 0 {
		return applyOutcome{duplicate: true, message: m}
	}

	// Echo for a send we no longer track (e.g. confirmed on a previous
	// connection); show it rather than lose it.
	r.insert(m)
	return applyOutcome{appended: true, message: m}
}

func (r *reconciler) applyPeer(m domain.Message) applyOutcome {
	if m.ID != "" {
		if r.indexOfID(m.ID) >= 0 {
			return applyOutcome{duplicate: true, message: m}
		}
	} else {
		// The broker may omit ids on some frames; fall back to a
		// sender/content/time window to absorb network retries.
		for _, existing := range r.messages {
			if existing.SenderID == m.SenderID &&
				existing.Content == m.Content &&
				within(existing.SentAt, m.SentAt, peerDupWindow) {
				return applyOutcome{duplicate: true, message: m}
			}
		}
	}

	r.insert(m)
	return applyOutcome{appended: true, message: m}
}

// matchPending finds the optimistic entry an own-echo confirms, or -1.
func (r *reconciler) matchPending(m domain.Message) int {
	if m.ClientTempID != "" {
		for i := range r.messages {
			if r.messages[i].Status == domain.StatusPending &&
				r.messages[i].ClientTempID == m.ClientTempID {
				return i
			}
		}
	}
	for i := range r.messages {
		existing := r.messages[i]
		if existing.Status == domain.StatusPending &&
			existing.SenderID == m.SenderID &&
			existing.Content == m.Content &&
			within(existing.SentAt, m.SentAt, echoMatchWindow) {
			return i
		}
	}
	return -1
}

func (r *reconciler) indexOfID(id string) int {
	for i := range r.messages {
		if r.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// insert places a message keeping sentAt non-decreasing by position, without
// moving anything already displayed. In practice this is an append; only a
// late-arriving older message lands mid-list.
func (r *reconciler) insert(m domain.Message) {
	i := len(r.messages)
	for i > 0 && r.messages[i-1].SentAt.After(m.SentAt) {
		i--
	}
	r.messages = append(r.messages, domain.Message{})
	copy(r.messages[i+1:], r.messages[i:])
	r.messages[i] = m
}

// list returns a copy safe to hand to snapshot consumers.
func (r *reconciler) list() []domain.Message {
	out := make([]domain.Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < window
}
