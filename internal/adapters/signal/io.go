package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		// Closing the socket unblocks readPump after a kick.
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		if pid, ok := ctl.Orch.Registry.ParticipantOf(sid); ok && ctl.opts.Limiter != nil {
			ctl.opts.Limiter.Forget(pid)
		}
		ctl.Orch.KickBySID(sid)
		ctl.Orch.Registry.Unbind(sid)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			if !ctl.handleSignal(sid, c, data) {
				return
			}
		}
	}
}

// handleSignal dispatches one client frame; false ends the connection.
func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) bool {
	var frame core.RelayFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad_json")
		return true
	}

	switch frame.Type {
	case core.FramePublish:
		ctl.handlePublish(sid, c, frame)
	case core.FramePing:
		ctl.handlePing(c)
	case core.FrameLeave:
		ctl.handleLeave(sid)
		return false
	default:
		log.Warn().Str("module", "signal").Str("type", string(frame.Type)).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
	return true
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, core.RelayFrame{Type: core.FrameError, Error: msg})
}
