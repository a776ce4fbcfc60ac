package webrtc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"peercall/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"go.uber.org/zap"
)

const (
	mediaStreamID = "peercall"
	opusFrame     = 20 * time.Millisecond
)

// opusSilence is a single Opus frame carrying 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// MediaDevices opens local capture devices.
type MediaDevices interface {
	// Open returns one track per requested kind, or ErrMediaUnavailable when
	// any of them cannot be opened.
	Open(ctx context.Context, kinds ...domain.MediaKind) ([]*LocalTrack, error)
}

// LocalTrack is a captured track. A disabled track stays attached to the
// connection but stops producing samples.
type LocalTrack struct {
	Kind  domain.MediaKind
	Track *webrtc.TrackLocalStaticSample

	enabled  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
}

func newLocalTrack(kind domain.MediaKind) (*LocalTrack, error) {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == domain.MediaVideo {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	id := fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])
	track, err := webrtc.NewTrackLocalStaticSample(codec, id, mediaStreamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	t := &LocalTrack{Kind: kind, Track: track, stop: make(chan struct{})}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) Info() domain.TrackInfo {
	return domain.TrackInfo{ID: t.Track.ID(), Kind: t.Kind, Enabled: t.enabled.Load()}
}

func (t *LocalTrack) Enabled() bool            { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *LocalTrack) Stopped() <-chan struct{} { return t.stop }

// Stop ends the track. Idempotent.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// WriteSample forwards a sample unless the track is disabled or stopped.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	select {
	case <-t.stop:
		return nil
	default:
	}
	if !t.enabled.Load() {
		return nil
	}
	return t.Track.WriteSample(s)
}

// SyntheticDevices produces pion sample tracks in place of real capture
// hardware. Kinds not listed in Available fail to open.
type SyntheticDevices struct {
	Available []domain.MediaKind
	// SilencePump writes Opus silence on audio tracks so the peer sees RTP.
	SilencePump bool

	logger *zap.SugaredLogger
}

func NewSyntheticDevices(logger *zap.SugaredLogger, available ...domain.MediaKind) *SyntheticDevices {
	return &SyntheticDevices{Available: available, logger: logger}
}

func (d *SyntheticDevices) has(kind domain.MediaKind) bool {
	for _, k := range d.Available {
		if k == kind {
			return true
		}
	}
	return false
}

func (d *SyntheticDevices) Open(ctx context.Context, kinds ...domain.MediaKind) ([]*LocalTrack, error) {
	for _, kind := range kinds {
		if !d.has(kind) {
			return nil, fmt.Errorf("%w: no %s device", domain.ErrMediaUnavailable, kind)
		}
	}

	tracks := make([]*LocalTrack, 0, len(kinds))
	for _, kind := range kinds {
		t, err := newLocalTrack(kind)
		if err != nil {
			stopAll(tracks)
			return nil, err
		}
		tracks = append(tracks, t)
		if kind == domain.MediaAudio && d.SilencePump {
			go d.pumpSilence(t)
		}
	}
	return tracks, nil
}

func (d *SyntheticDevices) pumpSilence(t *LocalTrack) {
	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				d.logger.Debugw("Silence pump write failed", "track_id", t.Track.ID(), "error", err)
			}
		}
	}
}

// AcquireMedia tries audio and video, then audio alone, then nothing. The
// second return value reports whether the result is short of audio+video.
func AcquireMedia(ctx context.Context, devices MediaDevices, logger *zap.SugaredLogger) ([]*LocalTrack, bool) {
	attempts := [][]domain.MediaKind{
		{domain.MediaAudio, domain.MediaVideo},
		{domain.MediaAudio},
	}

	for i, kinds := range attempts {
		tracks, err := devices.Open(ctx, kinds...)
		if err == nil {
			return tracks, i > 0
		}
		logger.Warnw("Media unavailable, degrading", "kinds", kinds, "error", err)
	}

	logger.Infow("No media devices available, continuing with data channel only")
	return nil, true
}

func stopAll(tracks []*LocalTrack) {
	for _, t := range tracks {
		t.Stop()
	}
}
