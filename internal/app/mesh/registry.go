package mesh

import (
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// PeerStatus is a read-only view of an entry for observers.
type PeerStatus struct {
	RemoteID    domain.ParticipantID    `json:"remoteId"`
	DisplayName string                  `json:"displayName,omitempty"`
	State       domain.NegotiationState `json:"state"`
	Tracks      int                     `json:"tracks"`
}

// RemoteStream groups the media received from one participant.
type RemoteStream struct {
	Participant domain.ParticipantID
	DisplayName string
	Tracks      []core.RemoteTrack
}

// Registry maps remote participant ids to their PeerEntry. It enforces at
// most one live entry per remote id and owns every connection handle.
//
// A mesh of N participants holds N-1 entries per side and N·(N−1)/2
// connections overall, which is only reasonable for small rooms.
type Registry struct {
	factory core.ConnectionFactory

	mu      sync.RWMutex
	entries map[domain.ParticipantID]*PeerEntry
}

func NewRegistry(factory core.ConnectionFactory) *Registry {
	return &Registry{
		factory: factory,
		entries: make(map[domain.ParticipantID]*PeerEntry),
	}
}

func (r *Registry) Get(remote domain.ParticipantID) (*PeerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[remote]
	return e, ok
}

// GetOrCreate reuses the live entry for remote or builds a fresh one with
// a new connection. created reports which happened.
func (r *Registry) GetOrCreate(remote domain.ParticipantID) (entry *PeerEntry, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[remote]; ok && !e.State().IsTerminal() {
		return e, false, nil
	}
	conn, err := r.factory.NewConnection(remote)
	if err != nil {
		return nil, false, err
	}
	e := newPeerEntry(remote, conn)
	r.entries[remote] = e
	log.Info().Str("module", "mesh.registry").Str("remote", string(remote)).Msg("created peer entry")
	return e, true, nil
}

// Remove moves the entry into the terminal state final, discards its
// remote media, closes its connection and drops it from the map.
func (r *Registry) Remove(remote domain.ParticipantID, final domain.NegotiationState) (*PeerEntry, bool) {
	r.mu.Lock()
	e, ok := r.entries[remote]
	if ok {
		delete(r.entries, remote)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	r.closeEntry(e, final)
	log.Info().Str("module", "mesh.registry").Str("remote", string(remote)).Str("state", final.String()).Msg("removed peer entry")
	return e, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Connections returns the live connection of every entry.
func (r *Registry) Connections() map[domain.ParticipantID]core.PeerConnection {
	out := make(map[domain.ParticipantID]core.PeerConnection)
	for _, e := range r.snapshot() {
		if !e.State().IsTerminal() {
			out[e.RemoteID] = e.conn
		}
	}
	return out
}

func (r *Registry) Statuses() []PeerStatus {
	entries := r.snapshot()
	out := make([]PeerStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, PeerStatus{
			RemoteID:    e.RemoteID,
			DisplayName: e.DisplayName(),
			State:       e.State(),
			Tracks:      len(e.RemoteTracks()),
		})
	}
	return out
}

// RemoteStreams lists participants that currently deliver media.
func (r *Registry) RemoteStreams() map[domain.ParticipantID]RemoteStream {
	out := make(map[domain.ParticipantID]RemoteStream)
	for _, e := range r.snapshot() {
		tracks := e.RemoteTracks()
		if len(tracks) == 0 {
			continue
		}
		out[e.RemoteID] = RemoteStream{
			Participant: e.RemoteID,
			DisplayName: e.DisplayName(),
			Tracks:      tracks,
		}
	}
	return out
}

// CloseAll tears every entry down in parallel and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := make([]*PeerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	clear(r.entries)
	r.mu.Unlock()

	var wg conc.WaitGroup
	for _, e := range entries {
		wg.Go(func() { r.closeEntry(e, domain.StateClosed) })
	}
	wg.Wait()
	log.Info().Str("module", "mesh.registry").Int("closed", len(entries)).Msg("closed all peer entries")
}

func (r *Registry) closeEntry(e *PeerEntry, final domain.NegotiationState) {
	_ = e.transition(final)
	e.discardRemoteMedia()
	e.pending = nil
	if e.deadline != nil {
		e.deadline.Stop()
	}
	// Detach first: pion reports the closed state synchronously from Close.
	e.conn.OnICECandidate(nil)
	e.conn.OnConnectionStateChange(nil)
	e.conn.OnTrack(nil)
	if err := e.conn.Close(); err != nil {
		log.Warn().Err(err).Str("module", "mesh.registry").Str("remote", string(e.RemoteID)).Msg("close connection")
	}
}

func (r *Registry) snapshot() []*PeerEntry {
	r.mu.RLock()
	out := make([]*PeerEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out
}
