package mesh

import (
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// event is anything the session actor processes. Transport callbacks and
// channel callbacks only build events; all state changes happen in handle.
type event interface{}

type signalEvent struct {
	msg domain.SignalMessage
}

type presenceEvent struct {
	ev core.PresenceEvent
}

// Transport events remember the connection that raised them so that a
// callback from a replaced connection can be recognised and dropped.
type localCandidateEvent struct {
	remote domain.ParticipantID
	conn   core.PeerConnection
	cand   webrtc.ICECandidateInit
}

type transportStateEvent struct {
	remote domain.ParticipantID
	conn   core.PeerConnection
	state  webrtc.PeerConnectionState
}

type remoteTrackEvent struct {
	remote domain.ParticipantID
	conn   core.PeerConnection
	track  core.RemoteTrack
}

type negotiationTimeoutEvent struct {
	remote domain.ParticipantID
	conn   core.PeerConnection
}

type commandEvent struct {
	fn   func()
	done chan struct{}
}

// eventQueue is unbounded so producers never block; pion invokes some
// callbacks synchronously from calls the actor itself makes.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	closed bool
	wake   chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
}
