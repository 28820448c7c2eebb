package orch

import (
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join subscribes sid to roomID and returns the presence snapshot, self
// included. A previous connection of the same participant is kicked.
func (o *Orchestrator) Join(sid core.SessionID, roomID domain.RoomID) []domain.ParticipantID {
	if current, _, ok := o.Registry.RoomOf(sid); ok {
		o.KickBySID(sid)
		log.Info().Str("sid", string(sid)).Str("from_room", string(current)).Msg("kicked from room")
	}
	session, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil
	}
	pid := session.Meta().Participant.ID
	if prev, ok := o.Registry.FindParticipant(roomID, pid); ok && prev != sid {
		log.Info().Str("sid", string(prev)).Str("participant", string(pid)).Msg("replacing stale connection")
		o.KickBySID(prev)
	}

	room := o.Rooms.GetOrCreate(roomID)
	room.AddMember(sid, session)
	o.Registry.UpdateRoom(sid, roomID)
	log.Info().Str("sid", string(sid)).Str("room", string(roomID)).Str("participant", string(pid)).Msg("added to room")

	o.notify(sid, roomID, core.PresenceEvent{Kind: core.PresenceJoin, Participant: pid})
	return room.Presence()
}

// KickBySID removes sid from its room, tells the rest of the room and
// cancels the connection.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.cleanupMembership(sid)
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) cleanupMembership(sid core.SessionID) {
	roomID, session, ok := o.Registry.RoomOf(sid)
	if !ok {
		return
	}
	room := o.Rooms.GetOrCreate(roomID)
	room.RemoveMember(sid)
	o.Registry.RemoveRoom(sid)

	pid := session.Meta().Participant.ID
	o.notify(sid, roomID, core.PresenceEvent{Kind: core.PresenceLeave, Participant: pid})
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomID)
	}
}

func (o *Orchestrator) EvictRoom(roomID domain.RoomID) {
	for _, snap := range o.Registry.MembersOfRoom(roomID) {
		o.KickBySID(snap.SID)
	}
	o.Rooms.StopRoom(roomID)
}
