package ports

import (
	"context"
	"time"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

type RoomService interface {
	// CreateRoom registers a room. participant may be empty for clients that
	// do not hold a relay connection.
	CreateRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) (*domain.Room, error)
	JoinRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) (*domain.Room, error)
	// LeaveRoom removes participant and deletes the room once empty. It
	// returns the room as it was after removal.
	LeaveRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)

	PublishOffer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error
	PublishAnswer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error
	AddCandidate(ctx context.Context, id domain.RoomID, side domain.Side, c domain.Candidate) error

	// Offer and Answer return nil without error when nothing is stored yet.
	Offer(ctx context.Context, id domain.RoomID) (*domain.SessionDescription, error)
	Answer(ctx context.Context, id domain.RoomID) (*domain.SessionDescription, error)
	Candidates(ctx context.Context, id domain.RoomID, side domain.Side) ([]domain.Candidate, error)

	Sweep(ctx context.Context, now time.Time) (int, error)
	RunSweeper(ctx context.Context, interval time.Duration)
}

// SignalingTransport carries signaling between the two call parties.
// Inbound traffic is delivered on Events.
type SignalingTransport interface {
	Connect(ctx context.Context) error
	CreateRoom(ctx context.Context, id domain.RoomID) error
	JoinRoom(ctx context.Context, id domain.RoomID) error
	SendOffer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error
	SendAnswer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error
	SendCandidate(ctx context.Context, id domain.RoomID, side domain.Side, c domain.Candidate) error
	Leave(ctx context.Context, id domain.RoomID) error
	Events() <-chan domain.Signal
	Close() error
}

// PeerHandlers receive connection callbacks. They are invoked from pion
// goroutines and must not block.
type PeerHandlers struct {
	OnLocalCandidate func(domain.Candidate)
	OnRemoteStream   func([]domain.TrackInfo)
	OnICEState       func(webrtc.ICEConnectionState)
	OnSignalingState func(webrtc.SignalingState)
	OnDataChannel    func(DataChannel)
}

// PeerManager owns the local media and at most one peer connection.
type PeerManager interface {
	// AcquireLocalMedia degrades from audio+video to audio only to no tracks.
	// It never fails.
	AcquireLocalMedia(ctx context.Context) []domain.TrackInfo
	CreateConnection(h PeerHandlers) error
	AttachLocalMedia() error
	CreateDataChannel(label string) (DataChannel, error)

	// CreateOffer and CreateAnswer also set the local description.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	LocalDescription() *domain.SessionDescription

	// ApplyRemoteDescription returns false when a remote description is
	// already set for this round.
	ApplyRemoteDescription(sd domain.SessionDescription) (bool, error)
	HasRemoteDescription() bool
	// AddRemoteCandidate queues c until the remote description is set.
	AddRemoteCandidate(c domain.Candidate) error

	SetTrackEnabled(kind domain.MediaKind, enabled bool) bool
	LocalTracks() []domain.TrackInfo
	RemoteTracks() []domain.TrackInfo

	// ResetNegotiation closes the connection but keeps local media.
	ResetNegotiation()
	// Release closes the connection and stops every track. Idempotent.
	Release()
}

// DataChannel is the subset of *webrtc.DataChannel used for chat.
type DataChannel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	SendText(s string) error
	Close() error
}

type DataChannelManager interface {
	// Setup wires ch once; later calls are no-ops until Detach or Cleanup.
	Setup(ch DataChannel)
	Send(text string) bool
	Messages() []domain.ChatMessage
	// Detach closes the channel and clears the wiring flag but keeps history.
	Detach()
	// Cleanup closes the channel, clears history and the wiring flag.
	Cleanup()
}

// CallService drives one call session at a time. Operations other than the
// room calls never block on the network.
type CallService interface {
	// CreateRoom starts a session as the offering side and returns the
	// generated room id.
	CreateRoom(ctx context.Context) (domain.RoomID, error)
	JoinRoom(ctx context.Context, id domain.RoomID) error
	// HangUp ends the session from any state. Idempotent.
	HangUp()

	// ToggleAudio and ToggleVideo flip the local track and report its new
	// state. ok is false when no track of that kind was acquired.
	ToggleAudio() (enabled, ok bool)
	ToggleVideo() (enabled, ok bool)
	SendChat(text string) bool

	State() domain.CallState
	Room() (domain.RoomID, domain.Role)
	Messages() []domain.ChatMessage
	LocalTracks() []domain.TrackInfo
	RemoteTracks() []domain.TrackInfo

	// Subscribe returns a buffered event channel and a function that
	// unsubscribes and closes it. Events are dropped for slow subscribers.
	Subscribe() (<-chan domain.CallEvent, func())
	// Close hangs up and stops consuming the transport.
	Close() error
}

// SignalingMetrics is implemented by the Prometheus collector.
type SignalingMetrics interface {
	RoomCreated()
	RoomsClosed(n int)
	RoomsExpired(n int)
	ParticipantConnected()
	ParticipantDisconnected()
	SignalRelayed(t domain.SignalType)
	SignalingError(code string)
	PollRequest(action string)
}

// Lease elects one holder among signaling instances. TryAcquire also
// renews a lease this instance already holds.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RelayBus fans relay frames out to other signaling instances.
type RelayBus interface {
	Publish(ctx context.Context, target domain.ParticipantID, frame []byte) error
	// Subscribe blocks until ctx is done, invoking deliver for frames
	// published by other instances.
	Subscribe(ctx context.Context, deliver func(target domain.ParticipantID, frame []byte)) error
}
