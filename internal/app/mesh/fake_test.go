package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/VoiceMesh/internal/adapters/channel"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

// fakeNet pairs fake connections by (owner, remote) and declares a pair
// connected once each side holds the other's local description.
type fakeNet struct {
	mu         sync.Mutex
	conns      map[[2]domain.ParticipantID]*fakeConn
	seq        atomic.Int64
	violations []string
	failCreate map[domain.ParticipantID]error
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		conns:      make(map[[2]domain.ParticipantID]*fakeConn),
		failCreate: make(map[domain.ParticipantID]error),
	}
}

func (n *fakeNet) factory(owner domain.ParticipantID) core.ConnectionFactory {
	return fakeFactory{net: n, owner: owner}
}

func (n *fakeNet) Violations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.violations...)
}

func (n *fakeNet) violate(format string, args ...any) {
	n.mu.Lock()
	n.violations = append(n.violations, fmt.Sprintf(format, args...))
	n.mu.Unlock()
}

// conn returns the latest connection owner holds toward remote.
func (n *fakeNet) conn(owner, remote domain.ParticipantID) *fakeConn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[[2]domain.ParticipantID{owner, remote}]
}

type fakeFactory struct {
	net   *fakeNet
	owner domain.ParticipantID
}

func (f fakeFactory) NewConnection(remote domain.ParticipantID) (core.PeerConnection, error) {
	f.net.mu.Lock()
	defer f.net.mu.Unlock()
	if err := f.net.failCreate[f.owner]; err != nil {
		return nil, err
	}
	c := &fakeConn{
		net:    f.net,
		id:     f.net.seq.Add(1),
		owner:  f.owner,
		remote: remote,
	}
	f.net.conns[[2]domain.ParticipantID{f.owner, remote}] = c
	return c, nil
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	s.track = t
	s.mu.Unlock()
	return nil
}

type fakeRemoteTrack struct {
	id, stream string
	kind       webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return t.stream }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

type fakeConn struct {
	net    *fakeNet
	id     int64
	owner  domain.ParticipantID
	remote domain.ParticipantID

	mu        sync.Mutex
	version   int
	local     *webrtc.SessionDescription
	remoteSD  *webrtc.SessionDescription
	senders   []*fakeSender
	applied   []webrtc.ICECandidateInit
	connected bool
	closed    bool
	emitted   map[string]bool
	offers    int
	// haveLocalOffer mirrors pion's have-local-offer signaling state.
	haveLocalOffer bool

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack)
}

func (c *fakeConn) newLocal(t webrtc.SDPType) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return webrtc.SessionDescription{}, core.ErrConnectionClosed
	}
	c.version++
	sd := webrtc.SessionDescription{Type: t, SDP: fmt.Sprintf("%s/%d/%d", c.owner, c.id, c.version)}
	c.local = &sd
	if t == webrtc.SDPTypeOffer {
		c.offers++
		c.haveLocalOffer = true
	}
	cand := webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d:%d", c.id, c.version)}
	fn := c.onICE
	c.mu.Unlock()

	if fn != nil {
		go fn(cand)
	}
	c.net.tryConnect(c)
	return sd, nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.newLocal(webrtc.SDPTypeOffer)
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	ok := c.remoteSD != nil && c.remoteSD.Type == webrtc.SDPTypeOffer
	c.mu.Unlock()
	if !ok {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return c.newLocal(webrtc.SDPTypeAnswer)
}

func (c *fakeConn) SetRemoteDescription(sd webrtc.SessionDescription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.ErrConnectionClosed
	}
	switch {
	case sd.Type == webrtc.SDPTypeAnswer && !c.haveLocalOffer:
		c.mu.Unlock()
		return errors.New("answer without local offer")
	case sd.Type == webrtc.SDPTypeOffer && c.haveLocalOffer:
		c.mu.Unlock()
		return errors.New("remote offer while local offer pending")
	}
	if sd.Type == webrtc.SDPTypeAnswer {
		c.haveLocalOffer = false
	}
	c.remoteSD = &sd
	c.mu.Unlock()
	c.net.tryConnect(c)
	return nil
}

func (c *fakeConn) HasRemoteDescription() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteSD != nil
}

func (c *fakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteSD == nil {
		c.net.violate("%s applied candidate from %s before remote description", c.owner, c.remote)
		return core.ErrNoRemoteDescription
	}
	c.applied = append(c.applied, ci)
	return nil
}

func (c *fakeConn) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, core.ErrConnectionClosed
	}
	s := &fakeSender{track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) Senders() []core.TrackSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.TrackSender, 0, len(c.senders))
	for _, s := range c.senders {
		out = append(out, s)
	}
	return out
}

func (c *fakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *fakeConn) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	fn := c.onState
	c.mu.Unlock()
	// pion reports the closed state synchronously from Close.
	if fn != nil {
		fn(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Applied() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.applied...)
}

func (c *fakeConn) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

// emitState reports a transport state as if it came from the network.
func (c *fakeConn) emitState(st webrtc.PeerConnectionState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		go fn(st)
	}
}

func (c *fakeConn) sendingTracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []webrtc.TrackLocal
	for _, s := range c.senders {
		if t := s.Track(); t != nil {
			out = append(out, t)
		}
	}
	return out
}

// tryConnect connects c with its counterpart once both descriptions
// match crosswise, then delivers each side's tracks to the other.
func (n *fakeNet) tryConnect(c *fakeConn) {
	peer := n.conn(c.remote, c.owner)
	if peer == nil || peer == c {
		return
	}
	first, second := c, peer
	if second.id < first.id {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	matched := !c.closed && !peer.closed &&
		c.local != nil && c.remoteSD != nil && peer.local != nil && peer.remoteSD != nil &&
		c.local.SDP == peer.remoteSD.SDP && peer.local.SDP == c.remoteSD.SDP &&
		c.local.Type != peer.local.Type
	newly := matched && !c.connected
	if matched {
		c.connected, peer.connected = true, true
	}
	second.mu.Unlock()
	first.mu.Unlock()
	if !matched {
		return
	}
	if newly {
		c.emitState(webrtc.PeerConnectionStateConnected)
		peer.emitState(webrtc.PeerConnectionStateConnected)
	}
	deliverTracks(peer, c)
	deliverTracks(c, peer)
}

func deliverTracks(from, to *fakeConn) {
	for _, t := range from.sendingTracks() {
		to.mu.Lock()
		if to.emitted == nil {
			to.emitted = make(map[string]bool)
		}
		seen := to.emitted[t.ID()]
		to.emitted[t.ID()] = true
		fn := to.onTrack
		to.mu.Unlock()
		if !seen && fn != nil {
			go fn(fakeRemoteTrack{id: t.ID(), stream: string(from.owner), kind: t.Kind()})
		}
	}
}

// fakeDevice hands out sample tracks; failing kinds report unavailable.
type fakeDevice struct {
	mu       sync.Mutex
	fail     map[webrtc.RTPCodecType]bool
	acquired int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{fail: make(map[webrtc.RTPCodecType]bool)}
}

func (d *fakeDevice) setFail(kind webrtc.RTPCodecType, fail bool) {
	d.mu.Lock()
	d.fail[kind] = fail
	d.mu.Unlock()
}

func (d *fakeDevice) Acquire(_ context.Context, kind webrtc.RTPCodecType) (*core.LocalTrack, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[kind] {
		return nil, fmt.Errorf("%w: permission denied", core.ErrDeviceUnavailable)
	}
	d.acquired++
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, fmt.Sprintf("%s-%d", kind, d.acquired), "local")
	if err != nil {
		return nil, err
	}
	return core.NewLocalTrack(track, nil), nil
}

// harness wires sessions to one in-memory hub and one fake network.
type harness struct {
	t   *testing.T
	hub *channel.Hub
	net *fakeNet
	// timeout is the negotiation timeout handed to joined sessions.
	timeout time.Duration
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, hub: channel.NewHub(), net: newFakeNet()}
}

func (h *harness) join(room domain.RoomID, id domain.ParticipantID, dev core.CaptureDevice) *Session {
	h.t.Helper()
	s, err := Join(context.Background(), Config{Room: room, Self: id, Audio: true, Video: true, NegotiationTimeout: h.timeout},
		Deps{Channel: h.hub, Connections: h.net.factory(id), Device: dev})
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = s.Leave() })
	return s
}

func connectedTo(s *Session) map[domain.ParticipantID]bool {
	out := make(map[domain.ParticipantID]bool)
	for _, p := range s.Peers() {
		if p.State == domain.StateConnected {
			out[p.RemoteID] = true
		}
	}
	return out
}

// fullMesh reports whether every session is Connected to every other.
func fullMesh(sessions ...*Session) bool {
	for _, s := range sessions {
		got := connectedTo(s)
		if len(got) != len(sessions)-1 || len(s.Peers()) != len(sessions)-1 {
			return false
		}
		for _, o := range sessions {
			if o != s && !got[o.Self().ID] {
				return false
			}
		}
	}
	return true
}

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)
