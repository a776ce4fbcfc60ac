package domain

import (
	"fmt"
	"net/url"
	"time"
)

// MaxParticipants is the room capacity. Calls are strictly one-to-one.
const MaxParticipants = 2

type RoomID string
type ParticipantID string

// Side tags an ICE candidate with the negotiation role that produced it.
type Side string

const (
	SideOffer  Side = "offer"
	SideAnswer Side = "answer"
)

func (s Side) Valid() bool {
	return s == SideOffer || s == SideAnswer
}

func (s Side) Opposite() Side {
	if s == SideOffer {
		return SideAnswer
	}
	return SideOffer
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription uses the browser field names so payloads pass through
// unchanged between web and native clients.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type Room struct {
	ID           RoomID
	Participants []ParticipantID
	Offer        *SessionDescription
	Answer       *SessionDescription
	Candidates   map[Side][]Candidate
	CreatedAt    time.Time
	LastActivity time.Time
}

func NewRoom(id RoomID, now time.Time) *Room {
	return &Room{
		ID:           id,
		Candidates:   make(map[Side][]Candidate),
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (r *Room) IsFull() bool {
	return len(r.Participants) >= MaxParticipants
}

func (r *Room) HasParticipant(id ParticipantID) bool {
	for _, p := range r.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Peer returns the other member of the room.
func (r *Room) Peer(of ParticipantID) (ParticipantID, bool) {
	for _, p := range r.Participants {
		if p != of {
			return p, true
		}
	}
	return "", false
}

func (r *Room) RemoveParticipant(id ParticipantID) bool {
	for i, p := range r.Participants {
		if p == id {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastActivity) > ttl
}

// Clone returns a deep copy safe to hand out of a repository.
func (r *Room) Clone() *Room {
	c := *r
	c.Participants = append([]ParticipantID(nil), r.Participants...)
	if r.Offer != nil {
		o := *r.Offer
		c.Offer = &o
	}
	if r.Answer != nil {
		a := *r.Answer
		c.Answer = &a
	}
	c.Candidates = make(map[Side][]Candidate, len(r.Candidates))
	for side, cands := range r.Candidates {
		c.Candidates[side] = append([]Candidate(nil), cands...)
	}
	return &c
}

const roomQueryParam = "room"

// RoomIDFromURL extracts the room id from a share link such as
// https://host/video-chat?room=abc1234.
func RoomIDFromURL(raw string) (RoomID, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	id := u.Query().Get(roomQueryParam)
	if id == "" {
		return "", false
	}
	return RoomID(id), true
}

// RoomURL builds a share link for id on top of base.
func RoomURL(base string, id RoomID) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set(roomQueryParam, string(id))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
