package signal

import (
	"encoding/json"

	"peercall/internal/core/domain"
)

// Store-and-poll actions. Writes are POSTed, reads are GET query actions.
const (
	ActionCreate       = "create"
	ActionJoin         = "join"
	ActionOffer        = "offer"
	ActionAnswer       = "answer"
	ActionICECandidate = "ice-candidate"

	ActionGetOffer         = "get-offer"
	ActionGetAnswer        = "get-answer"
	ActionGetICECandidates = "get-ice-candidates"
)

type PollRequest struct {
	Action string          `json:"action"`
	RoomID domain.RoomID   `json:"roomId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type PollResponse struct {
	Success bool            `json:"success"`
	RoomID  domain.RoomID   `json:"roomId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// PollCandidate is the data of an ice-candidate write. Type names the side
// that produced the candidate.
type PollCandidate struct {
	Type      domain.Side      `json:"type"`
	Candidate domain.Candidate `json:"candidate"`
}

// Err maps a failed response back to a domain error.
func (r PollResponse) Err() error {
	if r.Success {
		return nil
	}
	code := r.Code
	if code == "" {
		code = domain.CodeInternal
	}
	return domain.ErrorFromCode(code, r.Error)
}
