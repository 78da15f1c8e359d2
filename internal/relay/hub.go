package relay

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/warpmeet/internal/roster"
	"github.com/BioHazard786/warpmeet/internal/signaling"
)

// Hub owns every room and client. All state changes happen on the Run
// goroutine.
type Hub struct {
	rooms   map[string]*room
	clients map[*client]struct{}

	register   chan *client
	unregister chan *client
	inbound    chan inbound
	done       chan struct{}

	metrics *Metrics
	logger  *slog.Logger

	roomCount   atomic.Int64
	clientCount atomic.Int64
}

func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*room),
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     logger,
	}
}

// Stats returns the number of open rooms and connected clients.
func (h *Hub) Stats() (rooms, clients int) {
	return int(h.roomCount.Load()), int(h.clientCount.Load())
}

// Run processes registrations and messages until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			c.codec = signaling.JSONCodec{}
			h.clients[c] = struct{}{}
			h.clientCount.Store(int64(len(h.clients)))
			h.metrics.clients.Set(float64(len(h.clients)))
			c.logger.Debug("Client registered", "addr", c.conn.RemoteAddr())

		case c := <-h.unregister:
			h.drop(c)

		case in := <-h.inbound:
			h.handle(in)

		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) handle(in inbound) {
	c := in.client
	if _, ok := h.clients[c]; !ok {
		return
	}
	c.codec = in.codec
	if in.err != nil {
		h.reject(c, "decode", in.err)
		return
	}

	msg := in.msg
	h.metrics.received.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case signaling.MessageTypeCreateRoom:
		h.createRoom(c, msg)
	case signaling.MessageTypeJoinRoom:
		h.joinRoom(c, msg)
	case signaling.MessageTypeSignalSend:
		h.forwardSignal(c, msg)
	case signaling.MessageTypeUpdateParticipant:
		h.updateParticipant(c, msg)
	case signaling.MessageTypeLeaveRoom:
		h.leave(c)
	default:
		h.reject(c, msg.Type, ErrUnknownMessage)
	}
}

func (h *Hub) createRoom(c *client, msg *signaling.Message) {
	h.leave(c)

	id, err := newRoomID(func(id string) bool {
		_, ok := h.rooms[id]
		return ok
	})
	if err != nil {
		h.logger.Error("Failed to generate room id", "error", err)
		h.reject(c, msg.Type, err)
		return
	}
	r := newRoom(id)
	h.rooms[id] = r
	h.roomCount.Store(int64(len(h.rooms)))
	h.metrics.rooms.Set(float64(len(h.rooms)))

	h.seat(c, r, msg, roster.RoleHost)
	h.logger.Info("Room created", "room", id, "peer", c.id)
	h.deliver(c, &signaling.Message{Type: signaling.MessageTypeRoomCreated, RoomID: id, PeerID: c.id})
	h.broadcastRoster(r)
}

func (h *Hub) joinRoom(c *client, msg *signaling.Message) {
	r, ok := h.rooms[msg.RoomID]
	if !ok {
		h.reject(c, msg.Type, ErrRoomNotFound)
		return
	}
	if c.roomID != r.id {
		h.leave(c)
	}

	h.seat(c, r, msg, roster.RoleParticipant)
	h.logger.Info("Peer joined", "room", r.id, "peer", c.id, "size", len(r.members))
	h.deliver(c, &signaling.Message{Type: signaling.MessageTypeJoined, RoomID: r.id, PeerID: c.id})
	h.broadcastRoster(r)
}

func (h *Hub) seat(c *client, r *room, msg *signaling.Message, role roster.Role) {
	if msg.Role != "" {
		role = msg.Role
	}
	c.roomID = r.id
	c.participant = roster.Participant{
		PeerID:       c.id,
		Name:         msg.Name,
		Role:         role,
		IsAudioMuted: true,
		IsVideoOff:   true,
	}
	if state := msg.InitialState; state != nil {
		c.participant = c.participant.Apply(roster.Patch{
			IsAudioMuted: state.IsAudioMuted,
			IsVideoOff:   state.IsVideoOff,
			IsHandRaised: state.IsHandRaised,
		})
	}
	r.add(c)
}

// forwardSignal relays a signal to another member of the sender's room.
// The relay sets From; signals to peers that already left are dropped.
func (h *Hub) forwardSignal(c *client, msg *signaling.Message) {
	r, ok := h.roomOf(c)
	if !ok {
		h.reject(c, msg.Type, ErrNotInRoom)
		return
	}
	if msg.Signal == nil {
		h.reject(c, msg.Type, signaling.ErrInvalidSignal)
		return
	}
	if err := msg.Signal.Validate(); err != nil {
		h.reject(c, msg.Type, err)
		return
	}

	target, ok := r.members[msg.To]
	if !ok || target == c {
		h.metrics.signals.WithLabelValues(string(msg.Signal.Kind), "dropped").Inc()
		c.logger.Debug("Signal target not in room", "room", r.id, "to", msg.To, "kind", msg.Signal.Kind)
		return
	}
	h.metrics.signals.WithLabelValues(string(msg.Signal.Kind), "forwarded").Inc()
	h.deliver(target, &signaling.Message{
		Type:   signaling.MessageTypeSignalReceive,
		From:   c.id,
		Signal: msg.Signal,
	})
}

func (h *Hub) updateParticipant(c *client, msg *signaling.Message) {
	r, ok := h.roomOf(c)
	if !ok {
		h.reject(c, msg.Type, ErrNotInRoom)
		return
	}
	if msg.Updates == nil {
		h.reject(c, msg.Type, ErrMalformed)
		return
	}

	c.participant = c.participant.Apply(*msg.Updates)
	c.participant.PeerID = c.id

	update := &signaling.Message{
		Type:    signaling.MessageTypeParticipantUpdated,
		PeerID:  c.id,
		Updates: msg.Updates,
	}
	for _, member := range r.clients() {
		if member != c {
			h.deliver(member, update)
		}
	}
}

func (h *Hub) roomOf(c *client) (*room, bool) {
	if c.roomID == "" {
		return nil, false
	}
	r, ok := h.rooms[c.roomID]
	return r, ok
}

// leave removes c from its room, deleting the room once empty and
// telling the remaining members otherwise.
func (h *Hub) leave(c *client) {
	r, ok := h.roomOf(c)
	c.roomID = ""
	if !ok || !r.remove(c.id) {
		return
	}

	if r.empty() {
		delete(h.rooms, r.id)
		h.roomCount.Store(int64(len(h.rooms)))
		h.metrics.rooms.Set(float64(len(h.rooms)))
		h.logger.Info("Room closed", "room", r.id)
		return
	}
	h.logger.Info("Peer left", "room", r.id, "peer", c.id, "size", len(r.members))
	h.broadcastRoster(r)
}

// drop disconnects c.
func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.clientCount.Store(int64(len(h.clients)))
	h.metrics.clients.Set(float64(len(h.clients)))

	h.leave(c)
	close(c.send)
	c.logger.Debug("Client unregistered")
}

func (h *Hub) broadcastRoster(r *room) {
	update := &signaling.Message{
		Type:         signaling.MessageTypeParticipantsUpdate,
		RoomID:       r.id,
		Participants: r.participants(),
	}
	for _, member := range r.clients() {
		h.deliver(member, update)
	}
}

func (h *Hub) reject(c *client, op string, err error) {
	h.metrics.errors.WithLabelValues(op).Inc()
	c.logger.Warn("Rejected message", "op", op, "error", err)
	h.deliver(c, &signaling.Message{Type: signaling.MessageTypeError, Error: err.Error()})
}

// deliver encodes msg in the codec c last spoke and queues it. A client
// whose queue is full is disconnected.
func (h *Hub) deliver(c *client, msg *signaling.Message) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	data, err := c.codec.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to encode message", "type", msg.Type, "error", err)
		return
	}

	select {
	case c.send <- frame{kind: c.codec.FrameType(), data: data}:
		h.metrics.sent.WithLabelValues(msg.Type).Inc()
	default:
		c.logger.Warn("Send queue full, disconnecting")
		h.drop(c)
	}
}
