package session

import (
	"log/slog"
	"time"

	"github.com/roamio/chatsync/internal/transport"
)

// receiptDelay keeps message receipts from firing before the message has had
// a chance to render.
const receiptDelay = 500 * time.Millisecond

// receiptDispatcher emits read receipts: a whole-room receipt once per
// activation, and per-message receipts debounced behind a short delay.
// Receipts are best-effort telemetry; a failed send is logged and forgotten.
//
// All methods are called from the session loop only. Scheduled flushes come
// back through the same loop via the injected schedule function.
type receiptDispatcher struct {
	roomID   string
	send     func(transport.Frame) error
	schedule func(d time.Duration, fn func()) func()
	delay    time.Duration
	logger   *slog.Logger

	roomMarked  bool
	pendingID   string
	cancelFlush func()
}

func newReceiptDispatcher(roomID string, send func(transport.Frame) error, schedule func(time.Duration, func()) func()) *receiptDispatcher {
	return &receiptDispatcher{
		roomID:   roomID,
		send:     send,
		schedule: schedule,
		delay:    receiptDelay,
		logger:   slog.Default().With("component", "receipts", "roomID", roomID),
	}
}

// markRoom emits the whole-room receipt. Idempotent per activation.
func (d *receiptDispatcher) markRoom() {
	if d.roomMarked {
		return
	}
	d.roomMarked = true
	d.dispatch(transport.RoomReceipt(d.roomID))
}

// noteMessage schedules a debounced receipt for an inbound peer message.
// A burst of messages collapses into one receipt for the latest of them.
func (d *receiptDispatcher) noteMessage(messageID string) {
	if messageID == "" {
		return
	}
	d.pendingID = messageID
	if d.cancelFlush != nil {
		return
	}
	d.cancelFlush = d.schedule(d.delay, d.flush)
}

func (d *receiptDispatcher) flush() {
	d.cancelFlush = nil
	if d.pendingID == "" {
		return
	}
	id := d.pendingID
	d.pendingID = ""
	d.dispatch(transport.MessageReceipt(id))
}

// reset cancels any pending flush. Called on teardown.
func (d *receiptDispatcher) reset() {
	if d.cancelFlush != nil {
		d.cancelFlush()
		d.cancelFlush = nil
	}
	d.pendingID = ""
}

func (d *receiptDispatcher) dispatch(payload transport.ReceiptPayload) {
	frame, err := transport.NewFrame(transport.FrameReceipt, "", payload)
	if err != nil {
		d.logger.Debug("failed to build receipt frame", "error", err)
		return
	}
	if err := d.send(frame); err != nil {
		// Best effort: never retried, never surfaced.
		d.logger.Debug("receipt not delivered", "error", err)
	}
}
