package signal

import (
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// handleJoin subscribes sid to the room and writes the welcome frame with
// the presence snapshot straight to the socket.
func (ctl *SignalWSController) handleJoin(
	sid core.SessionID,
	conn *WsSignalConn,
	roomID domain.RoomID,
) error {
	members := ctl.Orch.Join(sid, roomID)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Int("members", len(members)).Msg("join")

	if err := conn.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return conn.conn.WriteJSON(core.RelayFrame{
		Type:    core.FrameWelcome,
		Members: members,
	})
}

// handleLeave ends the subscription; the read pump closes the socket.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.Orch.KickBySID(sid)
}
