package signal

import "github.com/dkeye/VoiceMesh/internal/core"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, core.RelayFrame{Type: core.FramePong})
}
