package relay

import "github.com/BioHazard786/warpmeet/internal/roster"

// room is one meeting. Only the hub goroutine touches it.
type room struct {
	id      string
	members map[string]*client
	order   []string
}

func newRoom(id string) *room {
	return &room{id: id, members: make(map[string]*client)}
}

func (r *room) add(c *client) {
	if _, ok := r.members[c.id]; !ok {
		r.order = append(r.order, c.id)
	}
	r.members[c.id] = c
}

func (r *room) remove(peerID string) bool {
	if _, ok := r.members[peerID]; !ok {
		return false
	}
	delete(r.members, peerID)
	for i, id := range r.order {
		if id == peerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// clients returns the members in join order.
func (r *room) clients() []*client {
	out := make([]*client, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id])
	}
	return out
}

func (r *room) participants() []roster.Participant {
	out := make([]roster.Participant, 0, len(r.order))
	for _, c := range r.clients() {
		out = append(out, c.participant)
	}
	return out
}

func (r *room) empty() bool { return len(r.members) == 0 }
