package media

import (
	"context"
	"fmt"
	"testing"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDevice struct {
	fail    map[webrtc.RTPCodecType]bool
	stopped map[string]bool
	n       int
}

func newStubDevice() *stubDevice {
	return &stubDevice{fail: map[webrtc.RTPCodecType]bool{}, stopped: map[string]bool{}}
}

func (d *stubDevice) Acquire(_ context.Context, kind webrtc.RTPCodecType) (*core.LocalTrack, error) {
	if d.fail[kind] {
		return nil, fmt.Errorf("%w: denied", core.ErrDeviceUnavailable)
	}
	d.n++
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	id := fmt.Sprintf("%s-%d", kind, d.n)
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "local")
	if err != nil {
		return nil, err
	}
	return core.NewLocalTrack(track, func() { d.stopped[id] = true }), nil
}

type stubSender struct{ track webrtc.TrackLocal }

func (s *stubSender) Track() webrtc.TrackLocal { return s.track }

func (s *stubSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.track = t
	return nil
}

// stubConn implements only what Toggle touches.
type stubConn struct {
	core.PeerConnection
	senders []*stubSender
}

func (c *stubConn) Senders() []core.TrackSender {
	out := make([]core.TrackSender, 0, len(c.senders))
	for _, s := range c.senders {
		out = append(out, s)
	}
	return out
}

func (c *stubConn) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	s := &stubSender{track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func TestStartIsBestEffort(t *testing.T) {
	dev := newStubDevice()
	dev.fail[webrtc.RTPCodecTypeVideo] = true
	m := NewManager(dev)

	err := m.Start(context.Background(), true, true)
	var derr *DeviceError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, derr.Kind)
	assert.ErrorIs(t, err, core.ErrDeviceUnavailable)

	assert.True(t, m.IsMicrophoneOn())
	assert.False(t, m.IsCameraOn())
	assert.Len(t, m.Tracks(), 1)
	assert.Nil(t, m.Stream().Video)
}

func TestStartWithoutDevice(t *testing.T) {
	m := NewManager(nil)
	err := m.Start(context.Background(), true, false)
	assert.ErrorIs(t, err, core.ErrDeviceUnavailable)
	assert.Empty(t, m.Tracks())
}

func TestToggleFlipsInPlace(t *testing.T) {
	m := NewManager(newStubDevice())
	require.NoError(t, m.Start(context.Background(), true, true))
	video := m.Stream().Video
	conn := &stubConn{}
	_, err := conn.AddTrack(video.Track)
	require.NoError(t, err)
	conns := map[domain.ParticipantID]core.PeerConnection{"b": conn}

	on, added, err := m.Toggle(context.Background(), webrtc.RTPCodecTypeVideo, conns)
	require.NoError(t, err)
	assert.False(t, on)
	assert.Empty(t, added)
	assert.Equal(t, core.TrackStateMuted, video.State())
	assert.Same(t, video, m.Stream().Video)
	assert.Len(t, conn.senders, 1)
	// Muted tracks stay attachable.
	assert.Len(t, m.Tracks(), 2)

	on, _, err = m.Toggle(context.Background(), webrtc.RTPCodecTypeVideo, conns)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, m.IsCameraOn())
}

func TestToggleAcquiresMissingTrack(t *testing.T) {
	m := NewManager(newStubDevice())
	require.NoError(t, m.Start(context.Background(), true, false))

	withVideo := &stubConn{}
	stale, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "old", "local")
	require.NoError(t, err)
	_, err = withVideo.AddTrack(stale)
	require.NoError(t, err)
	audioOnly := &stubConn{}

	on, added, err := m.Toggle(context.Background(), webrtc.RTPCodecTypeVideo, map[domain.ParticipantID]core.PeerConnection{
		"b": audioOnly,
		"c": withVideo,
	})
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, []domain.ParticipantID{"b"}, added)

	video := m.Stream().Video
	require.NotNil(t, video)
	assert.Equal(t, video.Track, audioOnly.senders[0].Track())
	assert.Len(t, withVideo.senders, 1)
	assert.Equal(t, video.Track, withVideo.senders[0].Track())
}

func TestToggleDeviceFailure(t *testing.T) {
	dev := newStubDevice()
	dev.fail[webrtc.RTPCodecTypeAudio] = true
	m := NewManager(dev)

	on, added, err := m.Toggle(context.Background(), webrtc.RTPCodecTypeAudio, nil)
	assert.False(t, on)
	assert.Empty(t, added)
	assert.ErrorIs(t, err, core.ErrDeviceUnavailable)
	assert.False(t, m.IsMicrophoneOn())
}

func TestReleaseStopsTracks(t *testing.T) {
	dev := newStubDevice()
	m := NewManager(dev)
	require.NoError(t, m.Start(context.Background(), true, true))
	s := m.Stream()

	m.Release()
	assert.Equal(t, core.TrackStateStopped, s.Audio.State())
	assert.Equal(t, core.TrackStateStopped, s.Video.State())
	assert.True(t, dev.stopped[s.Audio.ID()])
	assert.True(t, dev.stopped[s.Video.ID()])
	assert.Empty(t, m.Tracks())
	assert.False(t, m.IsCameraOn())
}
