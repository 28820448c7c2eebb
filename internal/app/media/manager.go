package media

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// DeviceError is a capture failure surfaced to the user. It is never
// fatal to the session.
type DeviceError struct {
	Kind webrtc.RTPCodecType
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Stream is the local capture. The same track objects are attached to
// every peer connection.
type Stream struct {
	Audio *core.LocalTrack
	Video *core.LocalTrack
}

// Manager owns local capture state. Mutations are expected to run on the
// session actor; the getters are safe from any goroutine.
type Manager struct {
	device core.CaptureDevice

	mu     sync.RWMutex
	stream Stream
}

func NewManager(device core.CaptureDevice) *Manager {
	return &Manager{device: device}
}

// Start acquires the requested kinds best-effort. Every failure is
// returned joined; successfully acquired tracks are kept.
func (m *Manager) Start(ctx context.Context, audio, video bool) error {
	var errs []error
	if audio {
		if _, err := m.acquire(ctx, webrtc.RTPCodecTypeAudio); err != nil {
			errs = append(errs, err)
		}
	}
	if video {
		if _, err := m.acquire(ctx, webrtc.RTPCodecTypeVideo); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Stream() Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stream
}

// Tracks returns the tracks that can still be attached, audio first.
func (m *Manager) Tracks() []*core.LocalTrack {
	s := m.Stream()
	out := make([]*core.LocalTrack, 0, 2)
	for _, t := range []*core.LocalTrack{s.Audio, s.Video} {
		if t != nil && t.State() != core.TrackStateStopped {
			out = append(out, t)
		}
	}
	return out
}

func (m *Manager) IsCameraOn() bool { return enabled(m.Stream().Video) }

func (m *Manager) IsMicrophoneOn() bool { return enabled(m.Stream().Audio) }

// Toggle flips an existing track of kind in place. Without one it acquires
// a new track and puts it on every connection, replacing a sender of the
// same kind or adding one. added lists the connections that gained a
// sender and therefore need a fresh offer.
func (m *Manager) Toggle(ctx context.Context, kind webrtc.RTPCodecType, conns map[domain.ParticipantID]core.PeerConnection) (on bool, added []domain.ParticipantID, err error) {
	if t := m.track(kind); t != nil && t.State() != core.TrackStateStopped {
		t.SetEnabled(!t.Enabled())
		log.Info().Str("module", "media").Str("kind", kind.String()).Bool("enabled", t.Enabled()).Msg("track toggled")
		return t.Enabled(), nil, nil
	}

	t, err := m.acquire(ctx, kind)
	if err != nil {
		return false, nil, err
	}

	ids := make([]domain.ParticipantID, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		replaced, err := replaceSender(conns[id], t)
		if err != nil {
			log.Warn().Err(err).Str("module", "media").Str("remote", string(id)).Msg("replace track")
			continue
		}
		if replaced {
			continue
		}
		if _, err := conns[id].AddTrack(t.Track); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("remote", string(id)).Msg("add track")
			continue
		}
		added = append(added, id)
	}
	return true, added, nil
}

// Release stops every capture pump and forgets the stream.
func (m *Manager) Release() {
	m.mu.Lock()
	s := m.stream
	m.stream = Stream{}
	m.mu.Unlock()
	for _, t := range []*core.LocalTrack{s.Audio, s.Video} {
		if t != nil {
			t.Stop()
		}
	}
	log.Info().Str("module", "media").Msg("capture released")
}

func (m *Manager) acquire(ctx context.Context, kind webrtc.RTPCodecType) (*core.LocalTrack, error) {
	if kind != webrtc.RTPCodecTypeAudio && kind != webrtc.RTPCodecTypeVideo {
		return nil, &DeviceError{Kind: kind, Err: core.ErrUnsupportedKind}
	}
	if m.device == nil {
		return nil, &DeviceError{Kind: kind, Err: core.ErrDeviceUnavailable}
	}
	t, err := m.device.Acquire(ctx, kind)
	if err != nil {
		log.Warn().Err(err).Str("module", "media").Str("kind", kind.String()).Msg("capture failed")
		return nil, &DeviceError{Kind: kind, Err: err}
	}

	m.mu.Lock()
	slot := m.slot(kind)
	prev := *slot
	*slot = t
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	log.Info().Str("module", "media").Str("kind", kind.String()).Str("track_id", t.ID()).Msg("capture acquired")
	return t, nil
}

func (m *Manager) track(kind webrtc.RTPCodecType) *core.LocalTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == webrtc.RTPCodecTypeAudio {
		return m.stream.Audio
	}
	return m.stream.Video
}

// slot must be called with mu held.
func (m *Manager) slot(kind webrtc.RTPCodecType) **core.LocalTrack {
	if kind == webrtc.RTPCodecTypeAudio {
		return &m.stream.Audio
	}
	return &m.stream.Video
}

// replaceSender swaps t onto the first sender that already carries a track
// of the same kind.
func replaceSender(conn core.PeerConnection, t *core.LocalTrack) (bool, error) {
	for _, s := range conn.Senders() {
		if s == nil {
			continue
		}
		cur := s.Track()
		if cur == nil || cur.Kind() != t.Kind() {
			continue
		}
		if cur == t.Track {
			return true, nil
		}
		return true, s.ReplaceTrack(t.Track)
	}
	return false, nil
}

func enabled(t *core.LocalTrack) bool {
	return t != nil && t.Enabled()
}
