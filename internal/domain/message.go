package domain

import "time"

// MessageStatus tracks a message's delivery lifecycle from the local user's
// point of view. Inbound messages are always SENT; locally authored messages
// start PENDING and are either confirmed by the server echo or marked FAILED.
type MessageStatus string

const (
	StatusPending MessageStatus = "PENDING"
	StatusSent    MessageStatus = "SENT"
	StatusFailed  MessageStatus = "FAILED"
)

// MessageKind is the structured content type of a message.
type MessageKind string

const (
	KindText MessageKind = "TEXT"
)

// Message is a single entry in a room's conversation.
//
// ID is empty until the server assigns one; ClientTempID is set only on
// messages the local user authored before confirmation. A message is never
// deleted from the list, only replaced by its confirmed counterpart or
// marked FAILED.
type Message struct {
	ID               string        `json:"id,omitempty"`
	ClientTempID     string        `json:"clientTempId,omitempty"`
	RoomID           string        `json:"roomId"`
	SenderID         string        `json:"senderId"`
	Kind             MessageKind   `json:"messageType"`
	Content          string        `json:"content"`
	SentAt           time.Time     `json:"sentAt"`
	Status           MessageStatus `json:"status"`
	ReplyToMessageID string        `json:"replyToMessageId,omitempty"`
	ServiceCardID    string        `json:"serviceCardId,omitempty"`
}
