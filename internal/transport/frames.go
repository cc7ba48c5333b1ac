package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roamio/chatsync/internal/domain"
)

// Frame types exchanged with the messaging broker. Inbound and outbound
// frames share one envelope; the payload shape depends on the type.
const (
	FrameSubscribe      = "subscribe"
	FrameUnsubscribe    = "unsubscribe"
	FrameSubscribed     = "subscribed"
	FrameSubscribeError = "subscribe.error"
	FrameSend           = "send"
	FrameMessage        = "message"
	FrameTypingStart    = "typing.start"
	FrameTypingStop     = "typing.stop"
	FrameTyping         = "typing"
	FrameReceipt        = "receipt"
	FrameError          = "error"
)

// Frame is the envelope for every frame on the wire.
type Frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame with a marshaled payload. A nil payload produces an
// empty-body frame (typing signals, subscribes).
func NewFrame(frameType, channel string, payload any) (Frame, error) {
	f := Frame{Type: frameType, Channel: channel}
	if payload == nil {
		return f, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to marshal %s payload: %w", frameType, err)
	}
	f.Payload = data
	return f, nil
}

// Channel naming follows the broker's destination scheme, one logical channel
// per concern scoped by room (or user, for the error channel).
func MessageChannel(roomID string) string { return "room." + roomID + ".messages" }
func TypingChannel(roomID string) string  { return "room." + roomID + ".typing" }
func ErrorChannel(userID string) string   { return "user." + userID + ".errors" }

// MessagePayload is the body of an inbound message frame. ID is a pointer
// because the broker may omit it on some frames.
type MessagePayload struct {
	ID               *string   `json:"id"`
	ClientTempID     string    `json:"clientTempId,omitempty"`
	RoomID           string    `json:"roomId"`
	SenderID         string    `json:"senderId"`
	MessageType      string    `json:"messageType"`
	Content          string    `json:"content"`
	SentAt           time.Time `json:"sentAt"`
	ReplyToMessageID string    `json:"replyToMessageId,omitempty"`
	ServiceCardID    string    `json:"serviceCardId,omitempty"`
}

// ToDomain converts an inbound message frame into a confirmed domain message.
func (p MessagePayload) ToDomain() domain.Message {
	msg := domain.Message{
		ClientTempID:     p.ClientTempID,
		RoomID:           p.RoomID,
		SenderID:         p.SenderID,
		Kind:             domain.MessageKind(p.MessageType),
		Content:          p.Content,
		SentAt:           p.SentAt,
		Status:           domain.StatusSent,
		ReplyToMessageID: p.ReplyToMessageID,
		ServiceCardID:    p.ServiceCardID,
	}
	if p.ID != nil {
		msg.ID = *p.ID
	}
	return msg
}

// SendPayload is the body of an outbound send frame.
type SendPayload struct {
	ChatRoomID  string    `json:"chatRoomId"`
	MessageType string    `json:"messageType"`
	Content     string    `json:"content"`
	SentAt      time.Time `json:"sentAt"`
}

// TypingPayload is the body of an inbound typing broadcast.
type TypingPayload struct {
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
	Typing    bool      `json:"typing"`
}

// ErrorPayload is the body of a user-scoped structured error frame. ErrorType
// picks the user-facing message category only; it never alters control flow.
type ErrorPayload struct {
	ErrorCode   string     `json:"errorCode"`
	Message     string     `json:"message"`
	UserMessage string     `json:"userMessage"`
	ErrorType   string     `json:"errorType"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Error type values carried by ErrorPayload.ErrorType.
const (
	ErrorTypeAuth   = "auth_error"
	ErrorTypeChat   = "chat_error"
	ErrorTypeSystem = "system_error"
	ErrorTypeOther  = "other"
)

// SubscribeErrorPayload explains a rejected subscription.
type SubscribeErrorPayload struct {
	Reason string `json:"reason"`
}

// ReceiptPayload is the body of an outbound read receipt. Exactly one of the
// two fields is non-nil.
type ReceiptPayload struct {
	RoomID    *string `json:"roomId"`
	MessageID *string `json:"messageId"`
}

// RoomReceipt builds a whole-room receipt.
func RoomReceipt(roomID string) ReceiptPayload {
	return ReceiptPayload{RoomID: &roomID}
}

// MessageReceipt builds a single-message receipt.
func MessageReceipt(messageID string) ReceiptPayload {
	return ReceiptPayload{MessageID: &messageID}
}
