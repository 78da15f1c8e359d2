package signaling

import (
	pion "github.com/pion/webrtc/v4"
)

// SignalKind tags the three shapes a signal can take.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Signal is an offer, an answer or an ICE candidate. Exactly one of SDP
// and Candidate is set, matching Kind.
type Signal struct {
	Kind      SignalKind             `json:"kind"`
	SDP       string                 `json:"sdp,omitempty"`
	Candidate *pion.ICECandidateInit `json:"candidate,omitempty"`
}

func Offer(sdp string) Signal  { return Signal{Kind: SignalOffer, SDP: sdp} }
func Answer(sdp string) Signal { return Signal{Kind: SignalAnswer, SDP: sdp} }

func Candidate(c pion.ICECandidateInit) Signal {
	return Signal{Kind: SignalCandidate, Candidate: &c}
}

// Validate checks that the payload matches the kind.
func (s Signal) Validate() error {
	switch s.Kind {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return WrapError("validate signal", ErrInvalidSignal, string(s.Kind)+" without sdp")
		}
		if s.Candidate != nil {
			return WrapError("validate signal", ErrInvalidSignal, string(s.Kind)+" carries a candidate")
		}
	case SignalCandidate:
		if s.Candidate == nil {
			return WrapError("validate signal", ErrInvalidSignal, "candidate without payload")
		}
		if s.SDP != "" {
			return WrapError("validate signal", ErrInvalidSignal, "candidate carries sdp")
		}
	default:
		return WrapError("validate signal", ErrUnexpectedSignal, string(s.Kind))
	}
	return nil
}

// Description returns the session description carried by an offer or an
// answer.
func (s Signal) Description() pion.SessionDescription {
	t := pion.SDPTypeOffer
	if s.Kind == SignalAnswer {
		t = pion.SDPTypeAnswer
	}
	return pion.SessionDescription{Type: t, SDP: s.SDP}
}
