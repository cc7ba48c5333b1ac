package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamio/chatsync/internal/auth"
	"github.com/roamio/chatsync/internal/brokertest"
	"github.com/roamio/chatsync/internal/directory"
	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/transport"
)

// liveFixture wires a session to the stub broker over the real transport.
type liveFixture struct {
	broker *brokertest.Broker
	srv    *httptest.Server
}

func newLiveFixture(t *testing.T) *liveFixture {
	t.Helper()
	broker := brokertest.New()
	broker.SetUser("tok-ann", "u-ann", "Ann")
	broker.SetUser("tok-ben", "u-ben", "Ben")
	srv := httptest.NewServer(broker.Handler())
	t.Cleanup(srv.Close)
	return &liveFixture{broker: broker, srv: srv}
}

func (f *liveFixture) newSession(t *testing.T, token, userID string) *Session {
	t.Helper()
	tokens := auth.NewStatic(token)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn := transport.NewManager(wsURL, tokens, transport.WithReconnectDelay(50*time.Millisecond))
	dir := directory.NewClient(f.srv.URL, tokens)

	sess := New(Config{
		LocalUserID:  userID,
		TypingIdle:   100 * time.Millisecond,
		TypingTTL:    300 * time.Millisecond,
		ReceiptDelay: 30 * time.Millisecond,
	}, conn, dir, dir, &mockPublisher{})
	require.NoError(t, sess.Activate(context.Background(), domain.RoomSelector{RoomID: "room-c"}))
	t.Cleanup(sess.Close)
	return sess
}

func waitSubscribed(t *testing.T, sess *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return snap.Connection == domain.Connected && snap.Subscribed
	}, 3*time.Second, 10*time.Millisecond, "session never came up")
}

func TestIntegration_SendEchoConfirmsMessage(t *testing.T) {
	f := newLiveFixture(t)
	sess := f.newSession(t, "tok-ann", "u-ann")
	waitSubscribed(t, sess)

	sess.Send("first")

	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return len(snap.Messages) == 1 && snap.Messages[0].Status == domain.StatusSent
	}, 3*time.Second, 10*time.Millisecond, "broker echo must confirm the optimistic entry")

	snap := sess.Snapshot()
	assert.NotEmpty(t, snap.Messages[0].ID, "server-assigned id replaces the temp id")
	assert.Equal(t, "u-ann", snap.Messages[0].SenderID)
}

func TestIntegration_ReconnectResumesRoom(t *testing.T) {
	f := newLiveFixture(t)
	sess := f.newSession(t, "tok-ann", "u-ann")
	waitSubscribed(t, sess)

	sess.Send("before the drop")
	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return len(snap.Messages) == 1 && snap.Messages[0].Status == domain.StatusSent
	}, 3*time.Second, 10*time.Millisecond)

	f.broker.DropConnections()

	require.Eventually(t, func() bool {
		return !sess.Snapshot().Subscribed
	}, 3*time.Second, 10*time.Millisecond, "drop must clear the subscribed flag")

	// Automatic recovery: reconnect, resubscribe, keep the message list.
	waitSubscribed(t, sess)
	snap := sess.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "before the drop", snap.Messages[0].Content)

	sess.Send("after the drop")
	require.Eventually(t, func() bool {
		snap := sess.Snapshot()
		return len(snap.Messages) == 2 && snap.Messages[1].Status == domain.StatusSent
	}, 3*time.Second, 10*time.Millisecond, "the resumed session must carry traffic again")
}

func TestIntegration_TwoClientsSeeEachOther(t *testing.T) {
	f := newLiveFixture(t)
	ann := f.newSession(t, "tok-ann", "u-ann")
	ben := f.newSession(t, "tok-ben", "u-ben")
	waitSubscribed(t, ann)
	waitSubscribed(t, ben)

	// Typing presence crosses clients but never reflects back to its origin.
	ann.InputChanged("hel")
	require.Eventually(t, func() bool {
		return ben.Snapshot().TypingSummary == "Ann is typing"
	}, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, ann.Snapshot().TypingSummary)

	ann.Send("hello ben")
	require.Eventually(t, func() bool {
		snap := ben.Snapshot()
		return len(snap.Messages) == 1 && snap.Messages[0].SenderID == "u-ann" && snap.TypingSummary == ""
	}, 3*time.Second, 10*time.Millisecond, "peer message arrives and clears the typing indicator")

	// Ben's client acknowledges the peer message with a debounced receipt.
	require.Eventually(t, func() bool {
		for _, r := range f.broker.Receipts() {
			if r.MessageID != nil {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "message-level read receipt reaches the broker")
}

func TestIntegration_TypingStopsAfterIdle(t *testing.T) {
	f := newLiveFixture(t)
	ann := f.newSession(t, "tok-ann", "u-ann")
	ben := f.newSession(t, "tok-ben", "u-ben")
	waitSubscribed(t, ann)
	waitSubscribed(t, ben)

	ann.InputChanged("h")
	require.Eventually(t, func() bool {
		return ben.Snapshot().TypingSummary == "Ann is typing"
	}, 3*time.Second, 10*time.Millisecond)

	// Ann goes idle; her client sends typing.stop and Ben's indicator clears.
	require.Eventually(t, func() bool {
		return ben.Snapshot().TypingSummary == ""
	}, 3*time.Second, 10*time.Millisecond)
}
