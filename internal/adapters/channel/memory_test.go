package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	quiet   = 100 * time.Millisecond
)

// recorder collects everything a subscription delivers.
type recorder struct {
	msgs     chan domain.SignalMessage
	presence chan core.PresenceEvent
}

func record(sub core.Subscription) *recorder {
	r := &recorder{
		msgs:     make(chan domain.SignalMessage, 64),
		presence: make(chan core.PresenceEvent, 64),
	}
	sub.OnMessage(func(m domain.SignalMessage) { r.msgs <- m })
	sub.OnPresenceChange(func(ev core.PresenceEvent) { r.presence <- ev })
	return r
}

func (r *recorder) message(t *testing.T) domain.SignalMessage {
	t.Helper()
	select {
	case m := <-r.msgs:
		return m
	case <-time.After(waitFor):
		t.Fatal("no message delivered")
		return domain.SignalMessage{}
	}
}

func (r *recorder) presenceEvent(t *testing.T) core.PresenceEvent {
	t.Helper()
	select {
	case ev := <-r.presence:
		return ev
	case <-time.After(waitFor):
		t.Fatal("no presence event delivered")
		return core.PresenceEvent{}
	}
}

func (r *recorder) noMessage(t *testing.T) {
	t.Helper()
	select {
	case m := <-r.msgs:
		t.Fatalf("unexpected %s from %s", m.Kind, m.SenderID)
	case <-time.After(quiet):
	}
}

func TestHubTargetedAndBroadcast(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	subs := make(map[domain.ParticipantID]core.Subscription)
	recs := make(map[domain.ParticipantID]*recorder)
	for _, id := range []domain.ParticipantID{"a", "b", "c"} {
		sub, err := hub.Subscribe(ctx, "r", id)
		require.NoError(t, err)
		subs[id], recs[id] = sub, record(sub)
	}
	assert.Equal(t, []domain.ParticipantID{"a", "b", "c"}, subs["b"].Presence())

	offer := domain.NewOffer("a", "b", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
	require.NoError(t, subs["a"].Publish(ctx, offer))
	assert.Equal(t, offer, recs["b"].message(t))
	recs["c"].noMessage(t)
	recs["a"].noMessage(t)

	require.NoError(t, subs["c"].Publish(ctx, domain.NewAnnounce("c", "")))
	assert.Equal(t, domain.KindAnnounce, recs["a"].message(t).Kind)
	assert.Equal(t, domain.KindAnnounce, recs["b"].message(t).Kind)
	recs["c"].noMessage(t)
}

func TestHubPresence(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	a, err := hub.Subscribe(ctx, "r", "a")
	require.NoError(t, err)
	ra := record(a)

	b, err := hub.Subscribe(ctx, "r", "b")
	require.NoError(t, err)
	assert.Equal(t, core.PresenceEvent{Kind: core.PresenceJoin, Participant: "b"}, ra.presenceEvent(t))

	_, err = hub.Subscribe(ctx, "r", "b")
	assert.ErrorIs(t, err, core.ErrSubscribe)

	require.NoError(t, b.Unsubscribe())
	assert.Equal(t, core.PresenceEvent{Kind: core.PresenceLeave, Participant: "b"}, ra.presenceEvent(t))
	assert.ErrorIs(t, b.Unsubscribe(), core.ErrNotSubscribed)
	assert.ErrorIs(t, b.Publish(ctx, domain.NewDeparted("b")), core.ErrChannelClosed)

	assert.True(t, hub.Disconnect("r", "a"))
	assert.False(t, hub.Disconnect("r", "a"))
	assert.Empty(t, hub.Members("r"))
}

func TestHubFailSubscribe(t *testing.T) {
	hub := NewHub()
	hub.FailSubscribe(errors.New("offline"))
	_, err := hub.Subscribe(context.Background(), "r", "a")
	assert.ErrorIs(t, err, core.ErrSubscribe)
	assert.ErrorContains(t, err, "offline")

	hub.FailSubscribe(nil)
	_, err = hub.Subscribe(context.Background(), "r", "a")
	assert.NoError(t, err)
}

func TestDispatcherHoldsEventsUntilCallback(t *testing.T) {
	d := newDispatcher()
	defer d.close()

	d.message(domain.NewAnnounce("a", ""))
	d.message(domain.NewDeparted("a"))
	d.presence(core.PresenceEvent{Kind: core.PresenceJoin, Participant: "b"})

	got := make(chan string, 8)
	d.setOnMessage(func(m domain.SignalMessage) { got <- string(m.Kind) })
	// The presence event is at the head now and waits for its callback.
	time.Sleep(quiet)
	d.setOnPresence(func(ev core.PresenceEvent) { got <- string(ev.Kind) })
	d.message(domain.NewAnnounce("c", ""))

	var order []string
	for range 4 {
		select {
		case k := <-got:
			order = append(order, k)
		case <-time.After(waitFor):
			t.Fatalf("delivered only %v", order)
		}
	}
	assert.Equal(t, []string{"announce", "departed", "join", "announce"}, order)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	cand := domain.NewCandidate("a", "b", webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host"})
	data, err := encodeEnvelope(envelope{Sender: "a", Signal: &cand})
	require.NoError(t, err)

	env, err := decodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("a"), env.Sender)
	require.NotNil(t, env.Signal)
	assert.Equal(t, cand, *env.Signal)
	assert.Nil(t, env.Presence)

	_, err = decodeEnvelope([]byte{0xc1})
	assert.Error(t, err)
}
