package mesh

import (
	"errors"
	"testing"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.NegotiationState
		ok       bool
	}{
		{domain.StateNew, domain.StateOfferSent, true},
		{domain.StateNew, domain.StateOfferReceived, true},
		{domain.StateNew, domain.StateAnswered, false},
		{domain.StateOfferSent, domain.StateAnswered, true},
		{domain.StateOfferSent, domain.StateOfferReceived, false},
		{domain.StateOfferReceived, domain.StateAnswered, true},
		{domain.StateAnswered, domain.StateConnected, true},
		{domain.StateAnswered, domain.StateNew, false},
		{domain.StateConnected, domain.StateOfferSent, false},
		{domain.StateConnected, domain.StateDisconnected, true},
		{domain.StateNew, domain.StateFailed, true},
		{domain.StateClosed, domain.StateNew, false},
		{domain.StateFailed, domain.StateClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.ok, canTransition(tt.from, tt.to))
		})
	}
}

func TestEntryTransitionError(t *testing.T) {
	e := newPeerEntry("b", nil)
	require.NoError(t, e.transition(domain.StateOfferSent))
	err := e.transition(domain.StateConnected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, domain.StateOfferSent, e.State())
}

func TestRegistryGetOrCreateReusesLiveEntry(t *testing.T) {
	n := newFakeNet()
	r := NewRegistry(n.factory("a"))

	e, created, err := r.GetOrCreate("b")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StateNew, e.State())

	again, created, err := r.GetOrCreate("b")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, e, again)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemoveClosesConnection(t *testing.T) {
	n := newFakeNet()
	r := NewRegistry(n.factory("a"))
	e, _, err := r.GetOrCreate("b")
	require.NoError(t, err)
	e.pending = append(e.pending, webrtc.ICECandidateInit{Candidate: "c1"})
	e.addRemoteTrack(fakeRemoteTrack{id: "t1", stream: "b", kind: webrtc.RTPCodecTypeAudio})

	removed, ok := r.Remove("b", domain.StateFailed)
	require.True(t, ok)
	assert.Same(t, e, removed)
	assert.Equal(t, domain.StateFailed, e.State())
	assert.Empty(t, e.RemoteTracks())
	assert.Empty(t, e.pendingCandidates())
	assert.True(t, n.conn("a", "b").Closed())
	assert.Zero(t, r.Len())

	_, ok = r.Remove("b", domain.StateClosed)
	assert.False(t, ok)

	fresh, created, err := r.GetOrCreate("b")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, e, fresh)
}

func TestRegistryFactoryError(t *testing.T) {
	n := newFakeNet()
	n.failCreate["a"] = errors.New("boom")
	r := NewRegistry(n.factory("a"))

	_, _, err := r.GetOrCreate("b")
	require.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistryViewsAndCloseAll(t *testing.T) {
	n := newFakeNet()
	r := NewRegistry(n.factory("a"))
	for _, id := range []domain.ParticipantID{"d", "b", "c"} {
		_, _, err := r.GetOrCreate(id)
		require.NoError(t, err)
	}
	c, _ := r.Get("c")
	c.setDisplayName("Carol")
	c.addRemoteTrack(fakeRemoteTrack{id: "v", stream: "c", kind: webrtc.RTPCodecTypeVideo})
	c.addRemoteTrack(fakeRemoteTrack{id: "a", stream: "c", kind: webrtc.RTPCodecTypeAudio})

	statuses := r.Statuses()
	require.Len(t, statuses, 3)
	assert.Equal(t, []domain.ParticipantID{"b", "c", "d"},
		[]domain.ParticipantID{statuses[0].RemoteID, statuses[1].RemoteID, statuses[2].RemoteID})
	assert.Equal(t, PeerStatus{RemoteID: "c", DisplayName: "Carol", State: domain.StateNew, Tracks: 2}, statuses[1])

	streams := r.RemoteStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, "Carol", streams["c"].DisplayName)
	assert.Equal(t, "a", streams["c"].Tracks[0].ID())

	assert.Len(t, r.Connections(), 3)

	r.CloseAll()
	assert.Zero(t, r.Len())
	for _, id := range []domain.ParticipantID{"b", "c", "d"} {
		assert.True(t, n.conn("a", id).Closed(), "connection to %s", id)
	}
}
