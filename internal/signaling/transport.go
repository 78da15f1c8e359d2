package signaling

import (
	"github.com/BioHazard786/warpmeet/internal/roster"
)

// Transport is what a meeting session needs from the relay once the room
// has been joined.
type Transport interface {
	LocalID() string
	SendSignal(to string, signal Signal) error
	UpdateParticipant(patch roster.Patch) error
}

// ClientTransport sends through a connected Client on behalf of the peer
// id the relay assigned.
type ClientTransport struct {
	client  *Client
	localID string
}

func NewClientTransport(client *Client, localID string) *ClientTransport {
	return &ClientTransport{client: client, localID: localID}
}

func (t *ClientTransport) LocalID() string { return t.localID }

func (t *ClientTransport) SendSignal(to string, signal Signal) error {
	if err := signal.Validate(); err != nil {
		return err
	}
	return t.client.SendMessage(&Message{
		Type:   MessageTypeSignalSend,
		To:     to,
		From:   t.localID,
		Signal: &signal,
	})
}

func (t *ClientTransport) UpdateParticipant(patch roster.Patch) error {
	return t.client.SendMessage(&Message{
		Type:    MessageTypeUpdateParticipant,
		Updates: &patch,
	})
}

// CreateRoom asks the relay for a new room. initial carries the media
// flags the relay seats this client with.
func (c *Client) CreateRoom(name string, role roster.Role, initial roster.Patch) error {
	return c.SendMessage(&Message{Type: MessageTypeCreateRoom, Name: name, Role: role, InitialState: &initial})
}

// JoinRoom asks the relay to add this client to roomID.
func (c *Client) JoinRoom(roomID, name string, role roster.Role, initial roster.Patch) error {
	return c.SendMessage(&Message{
		Type:         MessageTypeJoinRoom,
		RoomID:       roomID,
		Name:         name,
		Role:         role,
		InitialState: &initial,
	})
}

// LeaveRoom tells the relay this client is leaving.
func (c *Client) LeaveRoom() error {
	return c.SendMessage(&Message{Type: MessageTypeLeaveRoom})
}
