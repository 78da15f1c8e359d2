package signaling

import (
	"log/slog"
	"sync"
)

// Handler routes incoming relay messages to typed channels. Roster
// updates, participant patches and signals share the Events channel and
// keep their relay order. All channels are closed when Start returns.
type Handler struct {
	client *Client
	logger *slog.Logger

	RoomCreated chan Welcome
	Joined      chan Welcome
	Events      chan Event
	Error       chan string

	quit      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return &Handler{
		client:      client,
		logger:      client.logger,
		RoomCreated: make(chan Welcome, 1),
		Joined:      make(chan Welcome, 1),
		Events:      make(chan Event, 128),
		Error:       make(chan string, 4),
		quit:        make(chan struct{}),
	}
}

// Start routes messages until the connection ends or Close is called.
func (h *Handler) Start() {
	defer h.closeChannels()

	for {
		var msg *Message
		var ok bool
		select {
		case msg, ok = <-h.client.Incoming():
			if !ok {
				return
			}
		case <-h.quit:
			return
		}

		if !h.route(msg) {
			return
		}
	}
}

// route delivers one message and reports whether the handler should keep
// running.
func (h *Handler) route(msg *Message) bool {
	switch msg.Type {
	case MessageTypeRoomCreated:
		return deliver(h, h.RoomCreated, Welcome{RoomID: msg.RoomID, PeerID: msg.PeerID})

	case MessageTypeJoined:
		return deliver(h, h.Joined, Welcome{RoomID: msg.RoomID, PeerID: msg.PeerID})

	case MessageTypeParticipantsUpdate:
		return deliver(h, h.Events, Event{Kind: EventParticipants, Participants: msg.Participants})

	case MessageTypeParticipantUpdated:
		if msg.PeerID == "" || msg.Updates == nil {
			h.logger.Warn("Dropping malformed participant update")
			return true
		}
		update := ParticipantUpdate{PeerID: msg.PeerID, Patch: *msg.Updates}
		return deliver(h, h.Events, Event{Kind: EventParticipantUpdated, Update: update})

	case MessageTypeSignalReceive:
		if msg.Signal == nil {
			h.logger.Warn("Dropping empty signal", "from", msg.From)
			return true
		}
		if err := msg.Signal.Validate(); err != nil {
			h.logger.Warn("Dropping invalid signal", "from", msg.From, "error", err)
			return true
		}
		env := Envelope{From: msg.From, Signal: *msg.Signal}
		return deliver(h, h.Events, Event{Kind: EventSignal, Envelope: env})

	case MessageTypeError:
		text := msg.Error
		if text == "" {
			text = "Unknown error from server"
		}
		return deliver(h, h.Error, text)

	default:
		h.logger.Debug("Ignoring unknown message", "type", msg.Type)
		return true
	}
}

func deliver[T any](h *Handler, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-h.quit:
		return false
	}
}

// Close stops routing. Start closes the channels on its way out.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.quit) })
}

func (h *Handler) closeChannels() {
	close(h.RoomCreated)
	close(h.Joined)
	close(h.Events)
	close(h.Error)
}
