package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/roamio/chatsync/internal/domain"
)

const (
	// typingTTL is the hard presence ceiling for an inbound typing signal,
	// independent of any "stopped" signal that may be lost.
	typingTTL = 5 * time.Second
	// typingIdle is how long local input may sit idle before stopTyping fires.
	typingIdle = 3 * time.Second
)

// typingTracker maintains the set of peers currently composing a message.
// Entries expire on their own; an entry past its ceiling is absent from
// active() even before any sweep runs.
//
// All methods are called from the session loop only.
type typingTracker struct {
	entries map[string]domain.TypingState
	ttl     time.Duration
	now     func() time.Time
}

func newTypingTracker(ttl time.Duration) *typingTracker {
	return &typingTracker{
		entries: make(map[string]domain.TypingState),
		ttl:     ttl,
		now:     time.Now,
	}
}

// start inserts or refreshes a peer's typing entry.
func (t *typingTracker) start(userID, displayName string) {
	t.entries[userID] = domain.TypingState{
		UserID:      userID,
		DisplayName: displayName,
		ExpiresAt:   t.now().Add(t.ttl),
	}
}

// stop removes a peer's entry immediately, whether from an explicit stopped
// signal or because a real message from that sender arrived.
func (t *typingTracker) stop(userID string) bool {
	if _, ok := t.entries[userID]; !ok {
		return false
	}
	delete(t.entries, userID)
	return true
}

// sweep drops expired entries, reporting whether anything changed.
func (t *typingTracker) sweep() bool {
	now := t.now()
	changed := false
	for id, entry := range t.entries {
		if entry.Expired(now) {
			delete(t.entries, id)
			changed = true
		}
	}
	return changed
}

// active returns the live typing set sorted by display name for stable output.
func (t *typingTracker) active() []domain.TypingState {
	now := t.now()
	out := make([]domain.TypingState, 0, len(t.entries))
	for _, entry := range t.entries {
		if !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// summary renders the user-facing typing line. This lives in the core rather
// than the UI because it depends on the exact set size.
func (t *typingTracker) summary() string {
	active := t.active()
	switch len(active) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing", active[0].DisplayName)
	default:
		return fmt.Sprintf("%s and %d others are typing", active[0].DisplayName, len(active)-1)
	}
}
