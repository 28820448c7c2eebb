package orch

import (
	"encoding/json"

	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator routes relay frames between the sessions of a room. It
// never looks inside negotiation payloads.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

// Publish relays msg from sid to its room: to one member when targeted,
// to every other member otherwise.
func (o *Orchestrator) Publish(sid core.SessionID, msg domain.SignalMessage) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	data, err := encode(core.RelayFrame{Type: core.FrameSignal, Signal: &msg})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode signal frame")
		return
	}
	room := o.Rooms.GetOrCreate(roomID)

	if msg.TargetID != "" {
		if room.SendTo(msg.TargetID, data) {
			return
		}
		log.Debug().Str("module", "orch").Str("room", string(roomID)).Str("target", string(msg.TargetID)).Msg("targeted frame not delivered")
		if tsid, ok := o.Registry.FindParticipant(roomID, msg.TargetID); ok {
			if sess, ok := o.Registry.GetSession(tsid); ok {
				o.onSlow(room, sess)
			}
		}
		return
	}
	o.OnFrame(sid, data)
}

func (o *Orchestrator) OnFrame(sid core.SessionID, data core.Frame) {
	roomID, _, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	room := o.Rooms.GetOrCreate(roomID)

	res := room.Broadcast(sid, data)
	for _, slow := range res.Dropped {
		o.onSlow(room, slow)
	}
}

func (o *Orchestrator) onSlow(room core.RoomService, slow core.MemberSession) {
	if o.Policy == nil {
		return
	}
	action := o.Policy.OnBackPressure(room, slow)
	log.Warn().Str("module", "orch").Str("room", string(room.Room().ID)).Str("participant", string(slow.Meta().Participant.ID)).Str("action", action.String()).Msg("backpressure")
	switch action {
	case app.KickMember:
		for _, snap := range o.Registry.MembersOfRoom(room.Room().ID) {
			if snap.Session == slow {
				o.KickBySID(snap.SID)
			}
		}
	case app.MarkSlow, app.DropFrame, app.NoAction:
	}
}

// notify sends a presence event to every member of room except sid.
func (o *Orchestrator) notify(sid core.SessionID, roomID domain.RoomID, ev core.PresenceEvent) {
	room, ok := o.Rooms.GetRoom(roomID)
	if !ok {
		return
	}
	data, err := encode(core.RelayFrame{Type: core.FramePresence, Presence: &ev})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode presence frame")
		return
	}
	room.Broadcast(sid, data)
}

func encode(frame core.RelayFrame) (core.Frame, error) {
	return json.Marshal(frame)
}
