package core

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateMuted:
		return "muted"
	case TrackStateStopped:
		return "stopped"
	}
	return "unknown"
}

// LocalTrack is a captured track shared by reference across every peer
// connection. Muting flips the state in place; senders stay attached.
type LocalTrack struct {
	Track webrtc.TrackLocal
	state atomic.Int32 // Zero by default (TrackStateLive)

	stopOnce sync.Once
	stop     func()
}

func NewLocalTrack(track webrtc.TrackLocal, stop func()) *LocalTrack {
	return &LocalTrack{Track: track, stop: stop}
}

func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.Track.Kind() }

func (t *LocalTrack) ID() string { return t.Track.ID() }

func (t *LocalTrack) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *LocalTrack) Enabled() bool {
	return t.State() == TrackStateLive
}

// SetEnabled is a no-op once the track has been stopped.
func (t *LocalTrack) SetEnabled(on bool) {
	next := TrackStateMuted
	if on {
		next = TrackStateLive
	}
	for {
		cur := t.state.Load()
		if TrackState(cur) == TrackStateStopped {
			return
		}
		if t.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.state.Store(int32(TrackStateStopped))
		if t.stop != nil {
			t.stop()
		}
	})
}
