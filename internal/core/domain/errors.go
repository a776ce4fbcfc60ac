package domain

import "errors"

var (
	ErrRoomAlreadyExists   = errors.New("room already exists")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrSignalingTimeout    = errors.New("signaling timed out")
	ErrMediaUnavailable    = errors.New("media unavailable")
	ErrNegotiationConflict = errors.New("negotiation conflict")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrInvalidState        = errors.New("invalid call state")
	ErrInvalidMessage      = errors.New("invalid signaling message")
	ErrRateLimited         = errors.New("rate limited")
	ErrTransportClosed     = errors.New("signaling transport closed")
)

// Wire error codes.
const (
	CodeRoomAlreadyExists   = "RoomAlreadyExists"
	CodeRoomNotFound        = "RoomNotFound"
	CodeRoomFull            = "RoomFull"
	CodeSignalingTimeout    = "SignalingTimeout"
	CodeMediaUnavailable    = "MediaUnavailable"
	CodeNegotiationConflict = "NegotiationConflict"
	CodeConnectionFailed    = "ConnectionFailed"
	CodeInvalidState        = "InvalidState"
	CodeInvalidMessage      = "InvalidMessage"
	CodeRateLimited         = "RateLimited"
	CodeTransportClosed     = "TransportClosed"
	CodeInternal            = "Internal"
)

var codeToErr = map[string]error{
	CodeRoomAlreadyExists:   ErrRoomAlreadyExists,
	CodeRoomNotFound:        ErrRoomNotFound,
	CodeRoomFull:            ErrRoomFull,
	CodeSignalingTimeout:    ErrSignalingTimeout,
	CodeMediaUnavailable:    ErrMediaUnavailable,
	CodeNegotiationConflict: ErrNegotiationConflict,
	CodeConnectionFailed:    ErrConnectionFailed,
	CodeInvalidState:        ErrInvalidState,
	CodeInvalidMessage:      ErrInvalidMessage,
	CodeRateLimited:         ErrRateLimited,
	CodeTransportClosed:     ErrTransportClosed,
}

// ErrorCode maps err to its wire code. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	for code, target := range codeToErr {
		if errors.Is(err, target) {
			return code
		}
	}
	return CodeInternal
}

// ErrorFromCode is the inverse of ErrorCode. Unknown codes produce a plain
// error carrying msg (or the code when msg is empty).
func ErrorFromCode(code, msg string) error {
	if err, ok := codeToErr[code]; ok {
		return err
	}
	if msg == "" {
		msg = code
	}
	return errors.New(msg)
}
