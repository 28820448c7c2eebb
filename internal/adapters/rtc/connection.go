package rtc

import (
	"strings"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ICEServerConfig is the STUN/TURN surface consumed from configuration.
type ICEServerConfig struct {
	URLs       []string
	Username   string
	Credential string
	ForceRelay bool
}

// WebRTCConfig turns configured URIs into a pion configuration. TURN
// credentials are only attached to turn:/turns: entries.
func WebRTCConfig(cfg ICEServerConfig) webrtc.Configuration {
	var stun, turn []string
	for _, u := range cfg.URLs {
		u = strings.TrimSpace(u)
		switch {
		case u == "":
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			turn = append(turn, u)
		default:
			stun = append(stun, u)
		}
	}
	if len(stun) == 0 && len(turn) == 0 {
		stun = []string{"stun:stun.l.google.com:19302"}
	}

	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   cfg.Username,
			Credential: cfg.Credential,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay && len(turn) > 0 {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{ICEServers: servers, ICETransportPolicy: policy}
}

// Factory creates pion-backed connections sharing one configuration.
type Factory struct {
	cfg webrtc.Configuration
	api *webrtc.API
}

func NewFactory(cfg webrtc.Configuration) *Factory {
	return &Factory{cfg: cfg}
}

// WithAPI lets callers supply a custom media engine or setting engine.
func (f *Factory) WithAPI(api *webrtc.API) *Factory {
	f.api = api
	return f
}

func (f *Factory) NewConnection(remote domain.ParticipantID) (core.PeerConnection, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if f.api != nil {
		pc, err = f.api.NewPeerConnection(f.cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(f.cfg)
	}
	if err != nil {
		return nil, err
	}
	return newConnection(pc, remote), nil
}

// WebRTCConnection adapts *webrtc.PeerConnection to core.PeerConnection.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.ParticipantID

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(core.RemoteTrack)
}

func newConnection(pc *webrtc.PeerConnection, remote domain.ParticipantID) *WebRTCConnection {
	c := &WebRTCConnection{pc: pc, remote: remote}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("remote", string(remote)).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("remote", string(remote)).Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("remote", string(remote)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(track)
		}
		// Nothing renders media here; reading keeps receiver reports flowing.
		go drainRemote(track)
	})

	return c
}

// CreateOffer makes sure the offer carries an audio and a video section
// even before local capture exists, so the remote side can always send.
func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	if err := c.ensureTransceivers(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *WebRTCConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddTrack attaches a local track; pion reuses an idle transceiver of the
// same kind when one exists.
func (c *WebRTCConnection) AddTrack(track webrtc.TrackLocal) (core.TrackSender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)
	return sender, nil
}

func (c *WebRTCConnection) Senders() []core.TrackSender {
	senders := c.pc.GetSenders()
	out := make([]core.TrackSender, 0, len(senders))
	for _, s := range senders {
		out = append(out, s)
	}
	return out
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) Close() error {
	err := c.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("remote", string(c.remote)).Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Str("remote", string(c.remote)).Msg("closed")
	}
	return err
}

func (c *WebRTCConnection) ensureTransceivers() error {
	have := map[webrtc.RTPCodecType]bool{}
	for _, t := range c.pc.GetTransceivers() {
		have[t.Kind()] = true
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if have[kind] {
			continue
		}
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

// drainRTCP keeps interceptors (NACK, reports) running for a sender.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func drainRemote(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
