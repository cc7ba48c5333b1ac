package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/session"
)

func snapshotWith(msgs ...domain.Message) session.Snapshot {
	return session.Snapshot{
		Room: domain.Room{
			ID: "room-1",
			Participants: []domain.Participant{
				{ID: "u1", DisplayName: "Ann"},
				{ID: "u2", DisplayName: "Ben"},
			},
		},
		Messages: msgs,
	}
}

func TestWriter_RecordsConfirmedMessagesOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := New(fs, "/room.log")
	require.NoError(t, err)

	sentAt := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	snap := snapshotWith(
		domain.Message{ID: "m1", SenderID: "u1", Content: "hello", SentAt: sentAt, Status: domain.StatusSent},
		domain.Message{ClientTempID: "tmp-1", SenderID: "u2", Content: "draft", SentAt: sentAt, Status: domain.StatusPending},
	)
	require.NoError(t, w.Record(snap))
	// Same snapshot again: nothing new to write.
	require.NoError(t, w.Record(snap))
	require.NoError(t, w.Close())

	data, err := afero.ReadFile(fs, "/room.log")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, "[2026-08-01T09:30:00Z] Ann: hello", lines[0])
}

func TestWriter_FallsBackToSenderID(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := New(fs, "/room.log")
	require.NoError(t, err)

	snap := snapshotWith(domain.Message{
		ID: "m1", SenderID: "stranger", Content: "hi",
		SentAt: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC), Status: domain.StatusSent,
	})
	require.NoError(t, w.Record(snap))
	require.NoError(t, w.Close())

	data, err := afero.ReadFile(fs, "/room.log")
	require.NoError(t, err)
	assert.Contains(t, string(data), "stranger: hi")
}

func TestWriter_AppendsAcrossOpens(t *testing.T) {
	fs := afero.NewMemMapFs()
	sentAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	w, err := New(fs, "/room.log")
	require.NoError(t, err)
	require.NoError(t, w.Record(snapshotWith(
		domain.Message{ID: "m1", SenderID: "u1", Content: "one", SentAt: sentAt, Status: domain.StatusSent})))
	require.NoError(t, w.Close())

	w, err = New(fs, "/room.log")
	require.NoError(t, err)
	require.NoError(t, w.Record(snapshotWith(
		domain.Message{ID: "m2", SenderID: "u2", Content: "two", SentAt: sentAt.Add(time.Minute), Status: domain.StatusSent})))
	require.NoError(t, w.Close())

	data, err := afero.ReadFile(fs, "/room.log")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}
