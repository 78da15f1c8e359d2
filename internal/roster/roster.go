package roster

import "sort"

// Role is a participant's meeting role.
type Role string

const (
	RoleHost        Role = "host"
	RoleCoHost      Role = "co-host"
	RoleParticipant Role = "participant"
)

// Elevated reports whether the role may moderate the meeting.
func (r Role) Elevated() bool {
	return r == RoleHost || r == RoleCoHost
}

// Participant is one roster entry as broadcast by the relay.
type Participant struct {
	PeerID              string `json:"peer_id" msgpack:"peer_id"`
	Name                string `json:"name,omitempty" msgpack:"name,omitempty"`
	Role                Role   `json:"role,omitempty" msgpack:"role,omitempty"`
	IsAudioMuted        bool   `json:"is_audio_muted" msgpack:"is_audio_muted"`
	IsVideoOff          bool   `json:"is_video_off" msgpack:"is_video_off"`
	IsHandRaised        bool   `json:"is_hand_raised" msgpack:"is_hand_raised"`
	IsScreenSharing     bool   `json:"is_screen_sharing" msgpack:"is_screen_sharing"`
	ScreenShareStreamID string `json:"screen_share_stream_id,omitempty" msgpack:"screen_share_stream_id,omitempty"`
}

// Patch is a partial participant update. Nil fields are left unchanged.
type Patch struct {
	Name                *string `json:"name,omitempty" msgpack:"name,omitempty"`
	Role                *Role   `json:"role,omitempty" msgpack:"role,omitempty"`
	IsAudioMuted        *bool   `json:"is_audio_muted,omitempty" msgpack:"is_audio_muted,omitempty"`
	IsVideoOff          *bool   `json:"is_video_off,omitempty" msgpack:"is_video_off,omitempty"`
	IsHandRaised        *bool   `json:"is_hand_raised,omitempty" msgpack:"is_hand_raised,omitempty"`
	IsScreenSharing     *bool   `json:"is_screen_sharing,omitempty" msgpack:"is_screen_sharing,omitempty"`
	ScreenShareStreamID *string `json:"screen_share_stream_id,omitempty" msgpack:"screen_share_stream_id,omitempty"`
}

// ScreenShare builds the patch announcing a started (streamID != "") or
// stopped screen share.
func ScreenShare(streamID string) Patch {
	sharing := streamID != ""
	return Patch{IsScreenSharing: &sharing, ScreenShareStreamID: &streamID}
}

// Media builds the patch announcing the microphone and camera state.
func Media(audioMuted, videoOff bool) Patch {
	return Patch{IsAudioMuted: &audioMuted, IsVideoOff: &videoOff}
}

// Apply returns p with the non-nil fields of patch applied.
func (p Participant) Apply(patch Patch) Participant {
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Role != nil {
		p.Role = *patch.Role
	}
	if patch.IsAudioMuted != nil {
		p.IsAudioMuted = *patch.IsAudioMuted
	}
	if patch.IsVideoOff != nil {
		p.IsVideoOff = *patch.IsVideoOff
	}
	if patch.IsHandRaised != nil {
		p.IsHandRaised = *patch.IsHandRaised
	}
	if patch.IsScreenSharing != nil {
		p.IsScreenSharing = *patch.IsScreenSharing
	}
	if patch.ScreenShareStreamID != nil {
		p.ScreenShareStreamID = *patch.ScreenShareStreamID
	}
	return p
}

// Roster is the local view of the remote participants, keyed by peer id.
// It is not safe for concurrent use; the session loop owns it.
type Roster struct {
	self         string
	participants map[string]Participant
	order        []string
}

// New creates an empty roster. Entries for self are never stored.
func New(self string) *Roster {
	return &Roster{
		self:         self,
		participants: make(map[string]Participant),
	}
}

// Replace swaps in a full participant list and returns the peer ids that
// appeared and disappeared, each in roster order.
func (r *Roster) Replace(list []Participant) (joined, left []string) {
	next := make(map[string]Participant, len(list))
	order := make([]string, 0, len(list))
	for _, p := range list {
		if p.PeerID == "" || p.PeerID == r.self {
			continue
		}
		if _, dup := next[p.PeerID]; dup {
			continue
		}
		next[p.PeerID] = p
		order = append(order, p.PeerID)
		if _, ok := r.participants[p.PeerID]; !ok {
			joined = append(joined, p.PeerID)
		}
	}
	for _, id := range r.order {
		if _, ok := next[id]; !ok {
			left = append(left, id)
		}
	}

	r.participants = next
	r.order = order
	return joined, left
}

// Patch applies a partial update to a known participant. It reports
// whether the participant exists.
func (r *Roster) Patch(peerID string, patch Patch) bool {
	p, ok := r.participants[peerID]
	if !ok {
		return false
	}
	r.participants[peerID] = p.Apply(patch)
	return true
}

func (r *Roster) Get(peerID string) (Participant, bool) {
	p, ok := r.participants[peerID]
	return p, ok
}

func (r *Roster) Has(peerID string) bool {
	_, ok := r.participants[peerID]
	return ok
}

// IDs returns the remote peer ids in roster order.
func (r *Roster) IDs() []string {
	return append([]string(nil), r.order...)
}

// Snapshot returns a copy of the participants in roster order.
func (r *Roster) Snapshot() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participants[id])
	}
	return out
}

func (r *Roster) Len() int { return len(r.order) }

// SortedIDs returns ids sorted lexicographically, for deterministic
// iteration over peer sets held in maps.
func SortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
