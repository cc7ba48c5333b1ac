package domain

import "errors"

// Sentinel errors for the sync core. These provide consistent, checkable
// errors for the failure taxonomy the UI layer renders.
var (
	// ErrAuthRequired means no usable bearer credential is available. Fatal
	// to the connection attempt; never retried automatically.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotConnected means an outbound frame was attempted without a live
	// transport session.
	ErrNotConnected = errors.New("transport not connected")

	// ErrRoomNotResolved means a send was attempted before room activation
	// completed.
	ErrRoomNotResolved = errors.New("room not resolved")

	// ErrInvalidSelector means a room selector did not name exactly one of
	// trip, peer, or room.
	ErrInvalidSelector = errors.New("room selector must set exactly one field")

	// ErrNotFound is returned by the directory for an unresolvable selector.
	ErrNotFound = errors.New("requested resource not found")
)
