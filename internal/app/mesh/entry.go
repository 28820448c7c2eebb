package mesh

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrInvalidTransition = errors.New("invalid negotiation transition")

// transitions lists the forward moves of the negotiation state machine.
// Every non-terminal state may additionally move to a terminal one.
var transitions = map[domain.NegotiationState][]domain.NegotiationState{
	domain.StateNew:           {domain.StateOfferSent, domain.StateOfferReceived},
	domain.StateOfferSent:     {domain.StateAnswered},
	domain.StateOfferReceived: {domain.StateAnswered},
	domain.StateAnswered:      {domain.StateConnected},
	domain.StateConnected:     nil,
}

func canTransition(from, to domain.NegotiationState) bool {
	if from.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// PeerEntry is the negotiation state and connection handle for one remote
// participant. Only the session actor mutates it. Fields above mu are
// actor-only; other goroutines go through the locked accessors.
type PeerEntry struct {
	RemoteID domain.ParticipantID

	conn core.PeerConnection
	// session is the remote join the entry was negotiated with, empty
	// until a message carrying one arrives.
	session string
	// pending holds remote candidates received before the remote
	// description was applied, in arrival order.
	pending []webrtc.ICECandidateInit
	// renegotiating is set while a local re-offer on a connected entry
	// awaits its answer; renegotiate defers one until Connected.
	renegotiating bool
	renegotiate   bool
	deadline      *time.Timer

	mu           sync.RWMutex
	displayName  string
	state        domain.NegotiationState
	remoteTracks map[string]core.RemoteTrack
}

func newPeerEntry(remote domain.ParticipantID, conn core.PeerConnection) *PeerEntry {
	return &PeerEntry{
		RemoteID:     remote,
		conn:         conn,
		state:        domain.StateNew,
		remoteTracks: make(map[string]core.RemoteTrack),
	}
}

func (e *PeerEntry) State() domain.NegotiationState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *PeerEntry) DisplayName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.displayName
}

func (e *PeerEntry) setDisplayName(name string) {
	if name == "" {
		return
	}
	e.mu.Lock()
	e.displayName = name
	e.mu.Unlock()
}

// pendingCandidates returns a copy of the queued remote candidates.
// Actor-only.
func (e *PeerEntry) pendingCandidates() []webrtc.ICECandidateInit {
	return slices.Clone(e.pending)
}

func (e *PeerEntry) transition(to domain.NegotiationState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !canTransition(e.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.state, to)
	}
	e.state = to
	return nil
}

func (e *PeerEntry) addRemoteTrack(t core.RemoteTrack) {
	e.mu.Lock()
	e.remoteTracks[t.ID()] = t
	e.mu.Unlock()
}

func (e *PeerEntry) RemoteTracks() []core.RemoteTrack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]core.RemoteTrack, 0, len(e.remoteTracks))
	for _, t := range e.remoteTracks {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b core.RemoteTrack) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return out
}

func (e *PeerEntry) discardRemoteMedia() {
	e.mu.Lock()
	clear(e.remoteTracks)
	e.mu.Unlock()
}

// hasLocalTrack reports whether some sender already carries track.
func (e *PeerEntry) hasLocalTrack(track webrtc.TrackLocal) bool {
	for _, s := range e.conn.Senders() {
		if s != nil && s.Track() == track {
			return true
		}
	}
	return false
}
