package core

import "github.com/dkeye/VoiceMesh/internal/domain"

// RelayFrameType tags frames exchanged with the websocket relay.
type RelayFrameType string

const (
	// client -> relay
	FramePublish RelayFrameType = "publish"
	FramePing    RelayFrameType = "ping"
	FrameLeave   RelayFrameType = "leave"

	// relay -> client
	FrameWelcome  RelayFrameType = "welcome"
	FrameSignal   RelayFrameType = "signal"
	FramePresence RelayFrameType = "presence"
	FramePong     RelayFrameType = "pong"
	FrameError    RelayFrameType = "error"
)

// RelayFrame is the JSON envelope on the relay websocket. Welcome carries
// the presence snapshot in Members.
type RelayFrame struct {
	Type     RelayFrameType         `json:"type"`
	Signal   *domain.SignalMessage  `json:"signal,omitempty"`
	Presence *PresenceEvent         `json:"presence,omitempty"`
	Members  []domain.ParticipantID `json:"members,omitempty"`
	Error    string                 `json:"error,omitempty"`
}
