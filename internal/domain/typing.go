package domain

import "time"

// TypingState records that a participant is composing a message. An entry
// older than ExpiresAt is logically absent even if not yet swept.
type TypingState struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the entry has passed its presence ceiling.
func (t TypingState) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
