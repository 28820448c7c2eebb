package core

import (
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room          *domain.Room
	mu            sync.RWMutex
	bySID         map[SessionID]MemberSession
	byParticipant map[domain.ParticipantID]SessionID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:          room,
		bySID:         make(map[SessionID]MemberSession),
		byParticipant: make(map[domain.ParticipantID]SessionID),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) {
	pid := ms.Meta().Participant.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[sid] = ms
	r.byParticipant[pid] = sid
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Str("participant", string(pid)).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ms, ok := r.bySID[sid]; ok {
		pid := ms.Meta().Participant.ID
		if r.byParticipant[pid] == sid {
			delete(r.byParticipant, pid)
		}
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("sid", string(sid)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if sid == from {
			continue
		}
		sc := m.Signal()
		if sc == nil {
			continue
		}
		if err := sc.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// SendTo delivers to a single participant; false when absent or congested.
func (r *roomImpl) SendTo(target domain.ParticipantID, data Frame) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byParticipant[target]
	if !ok {
		return false
	}
	sc := r.bySID[sid].Signal()
	return sc != nil && sc.TrySend(data) == nil
}

func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.bySID))
	for _, ms := range r.bySID {
		p := ms.Meta().Participant
		out = append(out, MemberDTO{ID: p.ID, DisplayName: p.DisplayName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *roomImpl) Presence() []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(r.byParticipant))
	for pid := range r.byParticipant {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
