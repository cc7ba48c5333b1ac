package domain

// RoomKind distinguishes one-to-one conversations from group conversations.
// A room's kind never changes after resolution.
type RoomKind string

const (
	RoomDirect RoomKind = "DIRECT"
	RoomGroup  RoomKind = "GROUP"
)

// Participant is a member of a room as reported by the room directory.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Room identifies a conversation scope. It is resolved once per activation
// by the room directory and is read-only to the sync core.
type Room struct {
	ID           string        `json:"id"`
	Kind         RoomKind      `json:"kind"`
	Participants []Participant `json:"participants"`
}

// Participant looks up a member by id. Messages reference senders by id only;
// display data always comes from the resolved participant list.
func (r Room) Participant(id string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// RoomSelector identifies the room to resolve. Exactly one field must be set.
type RoomSelector struct {
	TripID string `json:"tripId,omitempty"`
	PeerID string `json:"peerId,omitempty"`
	RoomID string `json:"roomId,omitempty"`
}

// Validate checks that exactly one selector field is populated.
func (s RoomSelector) Validate() error {
	set := 0
	for _, v := range []string{s.TripID, s.PeerID, s.RoomID} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return ErrInvalidSelector
	}
	return nil
}
