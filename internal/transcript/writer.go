// Package transcript appends a human-readable log of a tailed room to a
// file. The filesystem is abstracted behind afero so tests run in memory.
package transcript

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/roamio/chatsync/internal/domain"
	"github.com/roamio/chatsync/internal/session"
)

const openFlags = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// Writer appends transcript lines to a single file.
type Writer struct {
	mu   sync.Mutex
	file afero.File
	seen map[string]bool
}

// New opens (or creates) the transcript file for appending.
func New(fs afero.Fs, path string) (*Writer, error) {
	file, err := fs.OpenFile(path, openFlags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	return &Writer{file: file, seen: make(map[string]bool)}, nil
}

// Record writes every confirmed message in the snapshot that has not been
// written yet. Pending and failed entries are skipped; they may still change.
func (w *Writer) Record(snap session.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, msg := range snap.Messages {
		if msg.Status != domain.StatusSent || msg.ID == "" || w.seen[msg.ID] {
			continue
		}
		name := msg.SenderID
		if p, ok := snap.Room.Participant(msg.SenderID); ok {
			name = p.DisplayName
		}
		line := fmt.Sprintf("[%s] %s: %s\n", msg.SentAt.Format(time.RFC3339), name, msg.Content)
		if _, err := w.file.WriteString(line); err != nil {
			return fmt.Errorf("failed to append transcript line: %w", err)
		}
		w.seen[msg.ID] = true
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		return w.file.Close()
	}
	return w.file.Close()
}
