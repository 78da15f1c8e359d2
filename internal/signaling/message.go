package signaling

import "github.com/BioHazard786/warpmeet/internal/roster"

// Message represents all WebSocket messages between client and relay.
type Message struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`

	// PeerID is the id the relay assigned to the receiving client
	// (room_created, joined) or the subject of a participant update.
	PeerID string `json:"peer_id,omitempty"`

	To     string  `json:"to,omitempty"`
	From   string  `json:"from,omitempty"`
	Signal *Signal `json:"signal,omitempty"`

	Name string      `json:"name,omitempty"`
	Role roster.Role `json:"role,omitempty"`

	// InitialState seeds the sender's media flags on create_room and
	// join_room. Unset flags default to muted and video off.
	InitialState *roster.Patch `json:"initial_state,omitempty"`

	Participants []roster.Participant `json:"participants,omitempty"`
	Updates      *roster.Patch        `json:"updates,omitempty"`

	Error string `json:"error,omitempty"`
}

// Client to relay.
const (
	MessageTypeCreateRoom        = "create_room"
	MessageTypeJoinRoom          = "join_room"
	MessageTypeSignalSend        = "signal_send"
	MessageTypeUpdateParticipant = "update_participant"
	MessageTypeLeaveRoom         = "leave_room"
)

// Relay to client.
const (
	MessageTypeRoomCreated        = "room_created"
	MessageTypeJoined             = "joined"
	MessageTypeParticipantsUpdate = "participants_update"
	MessageTypeParticipantUpdated = "participant_updated"
	MessageTypeSignalReceive      = "signal_receive"
	MessageTypeError              = "error"
)

// Envelope is a signal together with the peer that sent it.
type Envelope struct {
	From   string
	Signal Signal
}

// ParticipantUpdate is a partial roster update for one peer.
type ParticipantUpdate struct {
	PeerID string
	Patch  roster.Patch
}

// EventKind tells which field of an Event is set.
type EventKind int

const (
	EventParticipants EventKind = iota + 1
	EventParticipantUpdated
	EventSignal
)

// Event is one room message. Events are delivered in the order the relay
// sent them, so a roster update always precedes the first signal of the
// peer it introduces.
type Event struct {
	Kind         EventKind
	Participants []roster.Participant
	Update       ParticipantUpdate
	Envelope     Envelope
}

// Welcome is the relay's answer to create_room and join_room.
type Welcome struct {
	RoomID string
	PeerID string
}
