package webrtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"peercall/internal/core/domain"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type scriptedDevices struct {
	calls [][]domain.MediaKind
	fail  func(kinds []domain.MediaKind) bool
}

func (d *scriptedDevices) Open(ctx context.Context, kinds ...domain.MediaKind) ([]*LocalTrack, error) {
	d.calls = append(d.calls, kinds)
	if d.fail(kinds) {
		return nil, errors.New("permission denied")
	}
	var out []*LocalTrack
	for _, k := range kinds {
		t, err := newLocalTrack(k)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func TestAcquireMedia_DegradesStepByStep(t *testing.T) {
	logger := zap.NewNop().Sugar()

	devices := &scriptedDevices{fail: func([]domain.MediaKind) bool { return false }}
	tracks, degraded := AcquireMedia(context.Background(), devices, logger)
	assert.Len(t, tracks, 2)
	assert.False(t, degraded)
	assert.Len(t, devices.calls, 1)

	devices = &scriptedDevices{fail: func(k []domain.MediaKind) bool { return len(k) == 2 }}
	tracks, degraded = AcquireMedia(context.Background(), devices, logger)
	require.Len(t, tracks, 1)
	assert.Equal(t, domain.MediaAudio, tracks[0].Kind)
	assert.True(t, degraded)

	devices = &scriptedDevices{fail: func([]domain.MediaKind) bool { return true }}
	tracks, degraded = AcquireMedia(context.Background(), devices, logger)
	assert.Empty(t, tracks)
	assert.True(t, degraded)
	assert.Equal(t, [][]domain.MediaKind{{domain.MediaAudio, domain.MediaVideo}, {domain.MediaAudio}}, devices.calls)
}

func TestSyntheticDevices_Open(t *testing.T) {
	d := NewSyntheticDevices(zap.NewNop().Sugar(), domain.MediaAudio)

	_, err := d.Open(context.Background(), domain.MediaAudio, domain.MediaVideo)
	assert.ErrorIs(t, err, domain.ErrMediaUnavailable)

	tracks, err := d.Open(context.Background(), domain.MediaAudio)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	info := tracks[0].Info()
	assert.Equal(t, domain.MediaAudio, info.Kind)
	assert.True(t, info.Enabled)
	assert.Contains(t, info.ID, "audio-")
	assert.Equal(t, mediaStreamID, tracks[0].Track.StreamID())
}

func TestLocalTrack_DisabledAndStopped(t *testing.T) {
	tr, err := newLocalTrack(domain.MediaAudio)
	require.NoError(t, err)

	// unbound sample tracks accept writes
	require.NoError(t, tr.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}))

	tr.SetEnabled(false)
	assert.False(t, tr.Enabled())
	assert.NoError(t, tr.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrame}))

	tr.Stop()
	tr.Stop()
	select {
	case <-tr.Stopped():
	case <-time.After(time.Second):
		t.Fatal("stop channel not closed")
	}
}

func TestSyntheticDevices_SilencePumpStopsWithTrack(t *testing.T) {
	d := NewSyntheticDevices(zap.NewNop().Sugar(), domain.MediaAudio)
	d.SilencePump = true

	tracks, err := d.Open(context.Background(), domain.MediaAudio)
	require.NoError(t, err)
	time.Sleep(3 * opusFrame)
	stopAll(tracks)
}
