package mesh

import (
	"fmt"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

func (s *Session) handle(ev event) {
	switch ev := ev.(type) {
	case signalEvent:
		s.handleSignal(ev.msg)
	case presenceEvent:
		s.handlePresence(ev.ev)
	case localCandidateEvent:
		s.onLocalCandidate(ev)
	case transportStateEvent:
		s.onTransportState(ev)
	case remoteTrackEvent:
		s.onRemoteTrack(ev)
	case negotiationTimeoutEvent:
		s.onNegotiationTimeout(ev)
	case commandEvent:
		ev.fn()
		close(ev.done)
	}
}

func (s *Session) handleSignal(msg domain.SignalMessage) {
	if msg.SenderID == s.self.ID || !msg.AddressedTo(s.self.ID) {
		return
	}
	if err := msg.Validate(); err != nil {
		s.log.Warn().Err(err).Str("remote", string(msg.SenderID)).Msg("dropping signal")
		return
	}
	if !s.admit(msg) {
		return
	}
	switch msg.Kind {
	case domain.KindAnnounce:
		s.onAnnounce(msg)
	case domain.KindOffer:
		s.onOffer(msg)
	case domain.KindAnswer:
		s.onAnswer(msg)
	case domain.KindCandidate:
		s.onRemoteCandidate(msg)
	case domain.KindDeparted:
		s.depart(msg.SenderID, msg.Session, "departed")
	}
}

// admit filters signals that belong to a join the sender has already
// left. A departed participant comes back only through an announce from a
// new session; an announce from a new session while an entry exists
// replaces that entry. Messages without a session are always admitted.
func (s *Session) admit(msg domain.SignalMessage) bool {
	remote := msg.SenderID
	if last, ok := s.gone[remote]; ok {
		if msg.Kind != domain.KindAnnounce || (msg.Session != "" && msg.Session == last) {
			s.log.Debug().Str("remote", string(remote)).Str("kind", string(msg.Kind)).Msg("signal from departed peer ignored")
			return false
		}
		delete(s.gone, remote)
		return true
	}
	e, ok := s.registry.Get(remote)
	if !ok || e.session == "" || msg.Session == "" || msg.Session == e.session {
		return true
	}
	if msg.Kind == domain.KindAnnounce {
		s.drop(remote, domain.StateClosed, "rejoined")
		return true
	}
	s.log.Debug().Str("remote", string(remote)).Str("kind", string(msg.Kind)).Msg("signal from previous session ignored")
	return false
}

func (s *Session) handlePresence(ev core.PresenceEvent) {
	if ev.Participant == s.self.ID {
		return
	}
	switch ev.Kind {
	case core.PresenceLeave:
		s.depart(ev.Participant, "", "presence leave")
	case core.PresenceJoin:
		s.log.Debug().Str("remote", string(ev.Participant)).Msg("presence join")
	}
}

// onAnnounce makes an existing participant offer to the newcomer. A
// repeated announce from the same join is ignored once the entry is past
// New; admit has already replaced the entry if the sender rejoined.
func (s *Session) onAnnounce(msg domain.SignalMessage) {
	e, err := s.entryFor(msg)
	if err != nil {
		s.fail(msg.SenderID, err)
		return
	}
	if msg.Payload != nil {
		e.setDisplayName(msg.Payload.DisplayName)
	}
	if st := e.State(); st != domain.StateNew {
		s.log.Debug().Str("remote", string(e.RemoteID)).Str("state", st.String()).Msg("duplicate announce ignored")
		return
	}
	s.sendOffer(e)
}

func (s *Session) onOffer(msg domain.SignalMessage) {
	remote := msg.SenderID
	var carried []webrtc.ICECandidateInit

	if e, ok := s.registry.Get(remote); ok {
		switch st := e.State(); st {
		case domain.StateNew:
		case domain.StateOfferSent:
			// Glare: the smaller id keeps its offer.
			if s.self.ID < remote {
				s.log.Info().Str("remote", string(remote)).Msg("glare: keeping local offer")
				return
			}
			s.log.Info().Str("remote", string(remote)).Msg("glare: yielding to remote offer")
			carried = e.pendingCandidates()
			s.registry.Remove(remote, domain.StateClosed)
		case domain.StateConnected:
			s.onRenegotiationOffer(e, msg)
			return
		default:
			s.log.Debug().Str("remote", string(remote)).Str("state", st.String()).Msg("duplicate offer ignored")
			return
		}
	}

	e, err := s.entryFor(msg)
	if err != nil {
		s.fail(remote, err)
		return
	}
	e.pending = append(carried, e.pending...)

	if err := e.conn.SetRemoteDescription(*msg.Payload.Offer); err != nil {
		s.abandon(e, fmt.Errorf("apply offer: %w", err))
		return
	}
	s.drain(e)
	if err := e.transition(domain.StateOfferReceived); err != nil {
		s.abandon(e, err)
		return
	}
	if err := s.answer(e); err != nil {
		s.abandon(e, err)
		return
	}
	if err := e.transition(domain.StateAnswered); err != nil {
		s.abandon(e, err)
	}
}

// onRenegotiationOffer applies an offer on a live connection without
// leaving Connected.
func (s *Session) onRenegotiationOffer(e *PeerEntry, msg domain.SignalMessage) {
	if e.renegotiating {
		// Both sides re-offered. A pending local offer cannot be rolled
		// back, so both replace the connection and the smaller id offers
		// on the new one. Current tracks ride along on the fresh offer.
		s.log.Info().Str("remote", string(e.RemoteID)).Msg("renegotiation glare: restarting connection")
		s.restart(e, s.self.ID < e.RemoteID)
		return
	}
	if err := e.conn.SetRemoteDescription(*msg.Payload.Offer); err != nil {
		s.abandon(e, fmt.Errorf("apply offer: %w", err))
		return
	}
	s.drain(e)
	if err := s.answer(e); err != nil {
		s.abandon(e, err)
		return
	}
	s.flushRenegotiation(e)
}

func (s *Session) onAnswer(msg domain.SignalMessage) {
	e, ok := s.registry.Get(msg.SenderID)
	if !ok {
		s.log.Debug().Str("remote", string(msg.SenderID)).Msg("answer for unknown peer")
		return
	}
	learn(e, msg)
	switch st := e.State(); {
	case st == domain.StateOfferSent:
		if err := e.conn.SetRemoteDescription(*msg.Payload.Answer); err != nil {
			s.abandon(e, fmt.Errorf("apply answer: %w", err))
			return
		}
		s.drain(e)
		if err := e.transition(domain.StateAnswered); err != nil {
			s.abandon(e, err)
		}
	case st == domain.StateConnected && e.renegotiating:
		if err := e.conn.SetRemoteDescription(*msg.Payload.Answer); err != nil {
			s.abandon(e, fmt.Errorf("apply answer: %w", err))
			return
		}
		e.renegotiating = false
		s.drain(e)
		s.flushRenegotiation(e)
	default:
		s.log.Debug().Str("remote", string(e.RemoteID)).Str("state", st.String()).Msg("unexpected answer ignored")
	}
}

// onRemoteCandidate applies a candidate once a remote description exists
// and queues it otherwise. Failures are logged and swallowed.
func (s *Session) onRemoteCandidate(msg domain.SignalMessage) {
	e, err := s.entryFor(msg)
	if err != nil {
		s.fail(msg.SenderID, err)
		return
	}
	cand := *msg.Payload.Candidate
	if !e.conn.HasRemoteDescription() {
		e.pending = append(e.pending, cand)
		return
	}
	if err := e.conn.AddICECandidate(cand); err != nil {
		s.log.Warn().Err(err).Str("remote", string(e.RemoteID)).Msg("add candidate")
	}
}

func (s *Session) onLocalCandidate(ev localCandidateEvent) {
	if _, ok := s.current(ev.remote, ev.conn); !ok {
		return
	}
	if err := s.publish(s.ctx, domain.NewCandidate(s.self.ID, ev.remote, ev.cand)); err != nil {
		s.log.Warn().Err(err).Str("remote", string(ev.remote)).Msg("publish candidate")
	}
}

func (s *Session) onTransportState(ev transportStateEvent) {
	e, ok := s.current(ev.remote, ev.conn)
	if !ok {
		s.log.Debug().Str("remote", string(ev.remote)).Str("peer_connection_state", ev.state.String()).Msg("stale transport state")
		return
	}
	switch ev.state {
	case webrtc.PeerConnectionStateConnected:
		if e.State() != domain.StateAnswered {
			return
		}
		if err := e.transition(domain.StateConnected); err != nil {
			s.abandon(e, err)
			return
		}
		s.log.Info().Str("remote", string(e.RemoteID)).Msg("peer connected")
		s.flushRenegotiation(e)
	case webrtc.PeerConnectionStateDisconnected:
		s.drop(e.RemoteID, domain.StateDisconnected, "transport disconnected")
	case webrtc.PeerConnectionStateFailed:
		s.drop(e.RemoteID, domain.StateFailed, "transport failed")
	case webrtc.PeerConnectionStateClosed:
		s.drop(e.RemoteID, domain.StateClosed, "transport closed")
	}
}

// onNegotiationTimeout fails an entry that never reached Connected, for
// instance because an offer or answer was lost.
func (s *Session) onNegotiationTimeout(ev negotiationTimeoutEvent) {
	e, ok := s.current(ev.remote, ev.conn)
	if !ok || e.State() == domain.StateConnected {
		return
	}
	s.log.Warn().Str("remote", string(e.RemoteID)).Str("state", e.State().String()).Dur("timeout", s.timeout).Msg("negotiation timed out")
	s.setLastError(fmt.Errorf("negotiate with %s: %w", e.RemoteID, ErrNegotiationTimeout))
	s.drop(e.RemoteID, domain.StateFailed, "negotiation timeout")
}

func (s *Session) onRemoteTrack(ev remoteTrackEvent) {
	e, ok := s.current(ev.remote, ev.conn)
	if !ok {
		return
	}
	e.addRemoteTrack(ev.track)
	s.log.Info().Str("remote", string(e.RemoteID)).Str("kind", ev.track.Kind().String()).Str("track_id", ev.track.ID()).Msg("remote track")
}

// sendOffer attaches local media and publishes an offer. On a Connected
// entry this is a renegotiation and the state does not move.
func (s *Session) sendOffer(e *PeerEntry) {
	renegotiation := e.State() == domain.StateConnected
	if err := s.attachLocalTracks(e); err != nil {
		s.abandon(e, err)
		return
	}
	offer, err := e.conn.CreateOffer()
	if err != nil {
		s.abandon(e, fmt.Errorf("create offer: %w", err))
		return
	}
	if renegotiation {
		e.renegotiating = true
	} else if err := e.transition(domain.StateOfferSent); err != nil {
		s.abandon(e, err)
		return
	}
	if err := s.publish(s.ctx, domain.NewOffer(s.self.ID, e.RemoteID, offer)); err != nil {
		s.abandon(e, fmt.Errorf("publish offer: %w", err))
	}
}

func (s *Session) answer(e *PeerEntry) error {
	if err := s.attachLocalTracks(e); err != nil {
		return err
	}
	answer, err := e.conn.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.publish(s.ctx, domain.NewAnswer(s.self.ID, e.RemoteID, answer)); err != nil {
		return fmt.Errorf("publish answer: %w", err)
	}
	return nil
}

func (s *Session) attachLocalTracks(e *PeerEntry) error {
	for _, t := range s.media.Tracks() {
		if e.hasLocalTrack(t.Track) {
			continue
		}
		if _, err := e.conn.AddTrack(t.Track); err != nil {
			return fmt.Errorf("attach %s track: %w", t.Kind(), err)
		}
	}
	return nil
}

// drain applies queued remote candidates in arrival order.
func (s *Session) drain(e *PeerEntry) {
	pending := e.pending
	e.pending = nil
	for _, c := range pending {
		if err := e.conn.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Str("remote", string(e.RemoteID)).Msg("add queued candidate")
		}
	}
}

// requestRenegotiation re-offers a Connected entry now and defers the
// request for one that is still negotiating.
func (s *Session) requestRenegotiation(e *PeerEntry) {
	switch st := e.State(); {
	case st == domain.StateConnected && !e.renegotiating:
		s.sendOffer(e)
	case st == domain.StateNew, st.IsTerminal():
	default:
		e.renegotiate = true
	}
}

func (s *Session) flushRenegotiation(e *PeerEntry) {
	if !e.renegotiate || e.renegotiating || e.State() != domain.StateConnected {
		return
	}
	e.renegotiate = false
	s.sendOffer(e)
}

// entryFor is entry for the sender of msg, remembering its session.
func (s *Session) entryFor(msg domain.SignalMessage) (*PeerEntry, error) {
	e, err := s.entry(msg.SenderID)
	if err != nil {
		return nil, err
	}
	learn(e, msg)
	return e, nil
}

func learn(e *PeerEntry, msg domain.SignalMessage) {
	if e.session == "" {
		e.session = msg.Session
	}
}

// restart swaps the connection to old.RemoteID for a fresh one in New,
// keeping what is known about the remote. With offer set it also sends
// the first offer on the new connection.
func (s *Session) restart(old *PeerEntry, offer bool) {
	remote, session, name := old.RemoteID, old.session, old.DisplayName()
	s.drop(remote, domain.StateClosed, "restart")
	e, err := s.entry(remote)
	if err != nil {
		s.fail(remote, err)
		return
	}
	e.session = session
	e.setDisplayName(name)
	if offer {
		s.sendOffer(e)
	}
}

// entry returns the live entry for remote, creating and binding a new one
// when needed.
func (s *Session) entry(remote domain.ParticipantID) (*PeerEntry, error) {
	e, created, err := s.registry.GetOrCreate(remote)
	if err != nil {
		return nil, err
	}
	if created {
		s.bind(e)
	}
	return e, nil
}

// bind routes transport callbacks into the event queue and arms the
// negotiation deadline.
func (s *Session) bind(e *PeerEntry) {
	remote, conn := e.RemoteID, e.conn
	e.deadline = time.AfterFunc(s.timeout, func() {
		s.queue.push(negotiationTimeoutEvent{remote: remote, conn: conn})
	})
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.queue.push(localCandidateEvent{remote: remote, conn: conn, cand: c})
	})
	conn.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.queue.push(transportStateEvent{remote: remote, conn: conn, state: st})
	})
	conn.OnTrack(func(t core.RemoteTrack) {
		s.queue.push(remoteTrackEvent{remote: remote, conn: conn, track: t})
	})
}

// current returns the entry for remote only if it still owns conn.
func (s *Session) current(remote domain.ParticipantID, conn core.PeerConnection) (*PeerEntry, bool) {
	e, ok := s.registry.Get(remote)
	if !ok || e.conn != conn || e.State().IsTerminal() {
		return nil, false
	}
	return e, true
}

// depart drops remote for good. session is the join it left with, taken
// from the entry when the caller does not know it.
func (s *Session) depart(remote domain.ParticipantID, session, reason string) {
	if e, ok := s.registry.Get(remote); ok && session == "" {
		session = e.session
	}
	s.gone[remote] = session
	s.drop(remote, domain.StateClosed, reason)
}

func (s *Session) drop(remote domain.ParticipantID, final domain.NegotiationState, reason string) {
	if _, ok := s.registry.Remove(remote, final); ok {
		s.log.Info().Str("remote", string(remote)).Str("reason", reason).Msg("peer dropped")
	}
}

// abandon gives up on one entry; the rest of the mesh is unaffected.
func (s *Session) abandon(e *PeerEntry, err error) {
	s.log.Error().Err(err).Str("remote", string(e.RemoteID)).Str("state", e.State().String()).Msg("negotiation failed")
	s.setLastError(fmt.Errorf("negotiate with %s: %w", e.RemoteID, err))
	if cur, ok := s.registry.Get(e.RemoteID); ok && cur == e {
		s.registry.Remove(e.RemoteID, domain.StateFailed)
	}
}

func (s *Session) fail(remote domain.ParticipantID, err error) {
	s.log.Error().Err(err).Str("remote", string(remote)).Msg("create peer connection")
	s.setLastError(fmt.Errorf("connect to %s: %w", remote, err))
}
