package signal

import (
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/rs/zerolog/log"
)

// handlePublish relays a signaling message. The sender id is always the
// participant bound to the connection.
func (ctl *SignalWSController) handlePublish(
	sid core.SessionID,
	conn *WsSignalConn,
	frame core.RelayFrame,
) {
	if frame.Signal == nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	pid, ok := ctl.Orch.Registry.ParticipantOf(sid)
	if !ok {
		return
	}
	msg := *frame.Signal
	msg.SenderID = pid
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("invalid signal")
		ctl.sendError(conn, "invalid_signal")
		return
	}
	if l := ctl.opts.Limiter; l != nil && !l.Allow(pid) {
		log.Warn().Str("module", "signal").Str("participant", string(pid)).Str("kind", string(msg.Kind)).Msg("rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	ctl.Orch.Publish(sid, msg)
}
