package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/pion/ice/v2"
	"github.com/pion/sdp/v3"
)

const (
	MaxRoomIDLength    = 64
	MaxSDPLength       = 64 * 1024
	MaxCandidateLength = 1024
)

// roomIDPattern accepts generated ids and user-chosen short tokens.
var roomIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func ValidateRoomID(roomID string) error {
	switch {
	case roomID == "":
		return fmt.Errorf("room ID is required")
	case len(roomID) > MaxRoomIDLength:
		return fmt.Errorf("room ID is too long (max %d characters)", MaxRoomIDLength)
	case !roomIDPattern.MatchString(roomID):
		return fmt.Errorf("room ID %q has characters outside [a-zA-Z0-9_-]", roomID)
	}
	return nil
}

// ValidateSDP parses a session description and requires the origin, name
// and timing lines every offer and answer carries.
func ValidateSDP(raw string) error {
	if raw == "" {
		return fmt.Errorf("SDP cannot be empty")
	}
	if len(raw) > MaxSDPLength {
		return fmt.Errorf("SDP is too long (max %d bytes)", MaxSDPLength)
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("parse SDP: %w", err)
	}
	if desc.Origin.Username == "" {
		return fmt.Errorf("SDP has no origin line")
	}
	if desc.SessionName == "" {
		return fmt.Errorf("SDP has no session name")
	}
	if len(desc.TimeDescriptions) == 0 {
		return fmt.Errorf("SDP has no timing line")
	}
	return nil
}

// ValidateCandidate parses an ICE candidate attribute. The empty string is
// the end-of-candidates marker and is accepted.
func ValidateCandidate(candidate string) error {
	if candidate == "" {
		return nil
	}
	if len(candidate) > MaxCandidateLength {
		return fmt.Errorf("candidate is too long (max %d bytes)", MaxCandidateLength)
	}
	body, ok := strings.CutPrefix(candidate, "candidate:")
	if !ok {
		return fmt.Errorf("candidate must start with 'candidate:'")
	}
	if _, err := ice.UnmarshalCandidate(body); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	return nil
}

// ValidateURL accepts absolute http(s) and ws(s) URLs.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
