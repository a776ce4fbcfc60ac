package domain

type SignalType string

const (
	TypeOffer        SignalType = "offer"
	TypeAnswer       SignalType = "answer"
	TypeICECandidate SignalType = "ice_candidate"
	TypePeerJoined   SignalType = "peer_joined"
	TypePeerLeft     SignalType = "peer_left"
	TypeError        SignalType = "error"
)

// Signal is one inbound signaling event. The concrete types below are the
// only implementations.
type Signal interface {
	Type() SignalType
	Room() RoomID
}

type Offer struct {
	RoomID      RoomID
	Description SessionDescription
}

type Answer struct {
	RoomID      RoomID
	Description SessionDescription
}

type ICECandidate struct {
	RoomID    RoomID
	Side      Side
	Candidate Candidate
}

type PeerJoined struct {
	RoomID      RoomID
	Participant ParticipantID
}

type PeerLeft struct {
	RoomID      RoomID
	Participant ParticipantID
}

// SignalError carries a terminal transport failure such as ErrSignalingTimeout.
type SignalError struct {
	RoomID RoomID
	Err    error
}

func (Offer) Type() SignalType        { return TypeOffer }
func (Answer) Type() SignalType       { return TypeAnswer }
func (ICECandidate) Type() SignalType { return TypeICECandidate }
func (PeerJoined) Type() SignalType   { return TypePeerJoined }
func (PeerLeft) Type() SignalType     { return TypePeerLeft }
func (SignalError) Type() SignalType  { return TypeError }

func (s Offer) Room() RoomID        { return s.RoomID }
func (s Answer) Room() RoomID       { return s.RoomID }
func (s ICECandidate) Room() RoomID { return s.RoomID }
func (s PeerJoined) Room() RoomID   { return s.RoomID }
func (s PeerLeft) Room() RoomID     { return s.RoomID }
func (s SignalError) Room() RoomID  { return s.RoomID }
