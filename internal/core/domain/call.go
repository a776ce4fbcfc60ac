package domain

type CallState string

const (
	CallIdle      CallState = "idle"
	CallCalling   CallState = "calling"
	CallConnected CallState = "connected"
)

// Role is fixed per room: the creator offers, the joiner answers.
type Role string

const (
	RoleNone    Role = ""
	RoleCreator Role = "creator"
	RoleJoiner  Role = "joiner"
)

// Side is the candidate tag this role produces.
func (r Role) Side() Side {
	if r == RoleJoiner {
		return SideAnswer
	}
	return SideOffer
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

type TrackInfo struct {
	ID      string
	Kind    MediaKind
	Enabled bool
}

type CallEventType string

const (
	EventStateChanged  CallEventType = "state_changed"
	EventError         CallEventType = "error"
	EventChatMessage   CallEventType = "chat_message"
	EventRemoteStream  CallEventType = "remote_stream"
	EventMediaDegraded CallEventType = "media_degraded"
	EventMediaState    CallEventType = "media_state"
	EventPeerLeft      CallEventType = "peer_left"
)

// CallEvent is published to call observers. Only the fields relevant to
// Type are set.
type CallEvent struct {
	Type    CallEventType
	State   CallState
	RoomID  RoomID
	Role    Role
	Err     error
	Message *ChatMessage
	Tracks  []TrackInfo
}
