package session

import (
	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/pubsub"
	"github.com/roamio/chatsync/internal/transport"
)

// Bus topics the session publishes on. The UI layer subscribes to these
// instead of polling the core.
var (
	// EventState carries a full state snapshot after every mutation.
	EventState = pubsub.NewEvent[Snapshot]("chatsync.session.state")
	// EventAlert carries user-visible error conditions (display and continue).
	EventAlert = pubsub.NewEvent[Alert]("chatsync.session.alert")
)

// Snapshot is the reactive state the UI renders: message list, connection
// status, and the typing set with its pre-formatted summary.
type Snapshot struct {
	Room          domain.Room            `json:"room"`
	Messages      []domain.Message       `json:"messages"`
	Connection    domain.ConnectionState `json:"connection"`
	Subscribed    bool                   `json:"subscribed"`
	Degraded      bool                   `json:"degraded"`
	Typing        []domain.TypingState   `json:"typing"`
	TypingSummary string                 `json:"typingSummary"`
}

// Alert categories for user-facing error copy.
const (
	AlertAuthorization = "authorization"
	AlertChat          = "chat"
	AlertSystem        = "system"
)

// Alert is a user-visible error condition. Category picks the alert copy;
// handling is identical across categories: display and continue.
type Alert struct {
	Category    string `json:"category"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	UserMessage string `json:"userMessage"`
}

// alertFromFrame maps a structured broker error frame to an Alert. The
// errorType only selects presentation; it never alters control flow.
func alertFromFrame(p transport.ErrorPayload) Alert {
	alert := Alert{
		Code:        p.ErrorCode,
		Message:     p.Message,
		UserMessage: p.UserMessage,
	}

	switch p.ErrorType {
	case transport.ErrorTypeAuth:
		alert.Category = AlertAuthorization
		if alert.UserMessage == "" {
			alert.UserMessage = "Your session has expired. Please sign in again."
		}
	case transport.ErrorTypeChat:
		alert.Category = AlertChat
		if alert.UserMessage == "" {
			alert.UserMessage = "Something went wrong in this conversation."
		}
	default:
		alert.Category = AlertSystem
		if alert.UserMessage == "" {
			alert.UserMessage = "Something went wrong. Please try again."
		}
	}
	return alert
}
