package signal

import (
	"encoding/json"
	"fmt"

	"peercall/internal/core/domain"
	"peercall/pkg/validation"
)

type MessageType string

// Client requests.
const (
	MsgCreate MessageType = "create"
	MsgJoin   MessageType = "join"
	MsgLeave  MessageType = "leave"
)

// Relayed in both directions.
const (
	MsgOffer        MessageType = MessageType(domain.TypeOffer)
	MsgAnswer       MessageType = MessageType(domain.TypeAnswer)
	MsgICECandidate MessageType = MessageType(domain.TypeICECandidate)
)

// Server to client.
const (
	MsgAck        MessageType = "ack"
	MsgError      MessageType = "error"
	MsgPeerJoined MessageType = MessageType(domain.TypePeerJoined)
	MsgPeerLeft   MessageType = MessageType(domain.TypePeerLeft)
)

// Envelope is the JSON frame exchanged over the relay socket. ID correlates
// a request with its ack or error reply.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	RoomID  domain.RoomID   `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type CandidatePayload struct {
	Side      domain.Side      `json:"side"`
	Candidate domain.Candidate `json:"candidate"`
}

type PeerPayload struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
}

func NewEnvelope(t MessageType, id string, room domain.RoomID, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, ID: id, RoomID: room}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return env, nil
}

func AckEnvelope(id string, room domain.RoomID) Envelope {
	return Envelope{Type: MsgAck, ID: id, RoomID: room}
}

func ErrorEnvelope(id string, room domain.RoomID, err error) Envelope {
	return Envelope{
		Type:   MsgError,
		ID:     id,
		RoomID: room,
		Error:  &ErrorPayload{Code: domain.ErrorCode(err), Message: err.Error()},
	}
}

// EncodeSignal turns a relayable signal into its wire frame.
func EncodeSignal(sig domain.Signal) (Envelope, error) {
	switch s := sig.(type) {
	case domain.Offer:
		return NewEnvelope(MsgOffer, "", s.RoomID, s.Description)
	case domain.Answer:
		return NewEnvelope(MsgAnswer, "", s.RoomID, s.Description)
	case domain.ICECandidate:
		return NewEnvelope(MsgICECandidate, "", s.RoomID, CandidatePayload{Side: s.Side, Candidate: s.Candidate})
	case domain.PeerJoined:
		return NewEnvelope(MsgPeerJoined, "", s.RoomID, PeerPayload{ParticipantID: s.Participant})
	case domain.PeerLeft:
		return NewEnvelope(MsgPeerLeft, "", s.RoomID, PeerPayload{ParticipantID: s.Participant})
	case domain.SignalError:
		return ErrorEnvelope("", s.RoomID, s.Err), nil
	default:
		return Envelope{}, fmt.Errorf("%w: cannot encode %T", domain.ErrInvalidMessage, sig)
	}
}

// DecodeSignal parses and validates a relayed frame. Control frames
// (create, join, leave, ack) are not signals and are rejected.
func DecodeSignal(env Envelope) (domain.Signal, error) {
	switch env.Type {
	case MsgOffer, MsgAnswer:
		var sd domain.SessionDescription
		if err := json.Unmarshal(env.Payload, &sd); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidMessage, env.Type, err)
		}
		want := domain.SDPTypeOffer
		if env.Type == MsgAnswer {
			want = domain.SDPTypeAnswer
		}
		if sd.Type != want {
			return nil, fmt.Errorf("%w: %s carries sdp type %q", domain.ErrInvalidMessage, env.Type, sd.Type)
		}
		if err := validation.ValidateSDP(sd.SDP); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		if env.Type == MsgOffer {
			return domain.Offer{RoomID: env.RoomID, Description: sd}, nil
		}
		return domain.Answer{RoomID: env.RoomID, Description: sd}, nil

	case MsgICECandidate:
		var p CandidatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: candidate payload: %v", domain.ErrInvalidMessage, err)
		}
		if !p.Side.Valid() {
			return nil, fmt.Errorf("%w: candidate side %q", domain.ErrInvalidMessage, p.Side)
		}
		if err := validation.ValidateCandidate(p.Candidate.Candidate); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		return domain.ICECandidate{RoomID: env.RoomID, Side: p.Side, Candidate: p.Candidate}, nil

	case MsgPeerJoined, MsgPeerLeft:
		var p PeerPayload
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, fmt.Errorf("%w: peer payload: %v", domain.ErrInvalidMessage, err)
			}
		}
		if env.Type == MsgPeerJoined {
			return domain.PeerJoined{RoomID: env.RoomID, Participant: p.ParticipantID}, nil
		}
		return domain.PeerLeft{RoomID: env.RoomID, Participant: p.ParticipantID}, nil

	case MsgError:
		return domain.SignalError{RoomID: env.RoomID, Err: env.Err()}, nil

	default:
		return nil, fmt.Errorf("%w: unexpected message type %q", domain.ErrInvalidMessage, env.Type)
	}
}

// Err maps an error frame back to a domain error.
func (e Envelope) Err() error {
	if e.Error == nil {
		return nil
	}
	return domain.ErrorFromCode(e.Error.Code, e.Error.Message)
}
