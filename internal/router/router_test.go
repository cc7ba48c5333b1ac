package router

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamio/chatsync/internal/transport"
)

type captureSender struct {
	frames []transport.Frame
	err    error
}

func (c *captureSender) Send(f transport.Frame) error {
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *captureSender) ofType(frameType string) []transport.Frame {
	var out []transport.Frame
	for _, f := range c.frames {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

type subChange struct {
	subscribed bool
	degraded   bool
}

func newTestRouter(sender *captureSender) (*Router, *[]subChange) {
	changes := &[]subChange{}
	r := New(sender, "room-1", "user-1", Handlers{
		OnSubscriptionChange: func(subscribed, degraded bool) {
			*changes = append(*changes, subChange{subscribed, degraded})
		},
	})
	return r, changes
}

func ackFrame(t *testing.T, channel string) transport.Frame {
	t.Helper()
	f, err := transport.NewFrame(transport.FrameSubscribed, channel, nil)
	require.NoError(t, err)
	return f
}

func TestRouter_AttachSubscribesAllChannels(t *testing.T) {
	sender := &captureSender{}
	r, _ := newTestRouter(sender)

	require.NoError(t, r.Attach())

	subs := sender.ofType(transport.FrameSubscribe)
	require.Len(t, subs, 3)
	channels := []string{subs[0].Channel, subs[1].Channel, subs[2].Channel}
	assert.Contains(t, channels, "room.room-1.messages")
	assert.Contains(t, channels, "room.room-1.typing")
	assert.Contains(t, channels, "user.user-1.errors")
}

func TestRouter_SubscribedOnlyAfterAllAcks(t *testing.T) {
	sender := &captureSender{}
	r, changes := newTestRouter(sender)
	require.NoError(t, r.Attach())

	channels := r.Channels()
	r.HandleFrame(ackFrame(t, channels[0]))
	assert.False(t, r.Subscribed())
	r.HandleFrame(ackFrame(t, channels[1]))
	assert.False(t, r.Subscribed())
	assert.Empty(t, *changes)

	r.HandleFrame(ackFrame(t, channels[2]))
	assert.True(t, r.Subscribed())
	require.Len(t, *changes, 1)
	assert.Equal(t, subChange{subscribed: true, degraded: false}, (*changes)[0])
}

func TestRouter_RejectionMarksDegraded(t *testing.T) {
	sender := &captureSender{}
	r, changes := newTestRouter(sender)
	require.NoError(t, r.Attach())

	channels := r.Channels()
	r.HandleFrame(ackFrame(t, channels[0]))
	r.HandleFrame(ackFrame(t, channels[1]))

	reject, err := transport.NewFrame(transport.FrameSubscribeError, channels[2],
		transport.SubscribeErrorPayload{Reason: "scope denied"})
	require.NoError(t, err)
	r.HandleFrame(reject)

	assert.False(t, r.Subscribed())
	assert.True(t, r.Degraded())
	require.Len(t, *changes, 1)
	assert.Equal(t, subChange{subscribed: false, degraded: true}, (*changes)[0])
}

func TestRouter_UnrequestedAckIgnored(t *testing.T) {
	sender := &captureSender{}
	r, _ := newTestRouter(sender)
	require.NoError(t, r.Attach())

	r.HandleFrame(ackFrame(t, "room.other.messages"))
	assert.False(t, r.Subscribed())
	assert.Len(t, r.Channels(), 3)
}

func TestRouter_ReattachAfterResetSubscribesAgain(t *testing.T) {
	sender := &captureSender{}
	r, changes := newTestRouter(sender)
	require.NoError(t, r.Attach())
	for _, ch := range r.Channels() {
		r.HandleFrame(ackFrame(t, ch))
	}
	require.True(t, r.Subscribed())

	r.Reset()
	assert.False(t, r.Subscribed())
	require.Len(t, *changes, 2)
	assert.Equal(t, subChange{subscribed: false, degraded: false}, (*changes)[1])

	// Fresh connection, fresh acks.
	require.NoError(t, r.Attach())
	assert.Len(t, sender.ofType(transport.FrameSubscribe), 6)
	for _, ch := range r.Channels() {
		r.HandleFrame(ackFrame(t, ch))
	}
	assert.True(t, r.Subscribed())
}

func TestRouter_DetachUnsubscribesAckedChannels(t *testing.T) {
	sender := &captureSender{}
	r, _ := newTestRouter(sender)
	require.NoError(t, r.Attach())
	channels := r.Channels()
	r.HandleFrame(ackFrame(t, channels[0]))
	r.HandleFrame(ackFrame(t, channels[1]))

	r.Detach()

	unsubs := sender.ofType(transport.FrameUnsubscribe)
	assert.Len(t, unsubs, 2, "only acked channels are unsubscribed")
	assert.False(t, r.Subscribed())
}

func TestRouter_AttachPropagatesSendError(t *testing.T) {
	sender := &captureSender{err: errors.New("socket gone")}
	r, _ := newTestRouter(sender)
	assert.Error(t, r.Attach())
}

func TestRouter_DemultiplexesPayloads(t *testing.T) {
	sender := &captureSender{}
	var gotMessage *transport.MessagePayload
	var gotTyping *transport.TypingPayload
	var gotError *transport.ErrorPayload
	r := New(sender, "room-1", "user-1", Handlers{
		OnMessage: func(p transport.MessagePayload) { gotMessage = &p },
		OnTyping:  func(p transport.TypingPayload) { gotTyping = &p },
		OnError:   func(p transport.ErrorPayload) { gotError = &p },
	})

	id := "m1"
	msgFrame, err := transport.NewFrame(transport.FrameMessage, "room.room-1.messages", transport.MessagePayload{
		ID: &id, RoomID: "room-1", SenderID: "user-2",
		MessageType: "TEXT", Content: "hello", SentAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	r.HandleFrame(msgFrame)
	require.NotNil(t, gotMessage)
	assert.Equal(t, "hello", gotMessage.Content)

	typingFrame, err := transport.NewFrame(transport.FrameTyping, "room.room-1.typing", transport.TypingPayload{
		RoomID: "room-1", UserID: "user-2", Username: "Ben", Typing: true,
	})
	require.NoError(t, err)
	r.HandleFrame(typingFrame)
	require.NotNil(t, gotTyping)
	assert.Equal(t, "Ben", gotTyping.Username)

	errFrame, err := transport.NewFrame(transport.FrameError, "user.user-1.errors", transport.ErrorPayload{
		ErrorCode: "E1", ErrorType: transport.ErrorTypeChat, Message: "nope",
	})
	require.NoError(t, err)
	r.HandleFrame(errFrame)
	require.NotNil(t, gotError)
	assert.Equal(t, "E1", gotError.ErrorCode)
}

func TestRouter_MalformedAndUnknownFramesDropped(t *testing.T) {
	sender := &captureSender{}
	called := false
	r := New(sender, "room-1", "user-1", Handlers{
		OnMessage: func(transport.MessagePayload) { called = true },
	})

	r.HandleFrame(transport.Frame{Type: transport.FrameMessage, Payload: []byte("{not json")})
	assert.False(t, called)

	r.HandleFrame(transport.Frame{Type: "mystery"})
}
