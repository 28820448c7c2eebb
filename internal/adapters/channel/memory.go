package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Hub is an in-process SignalingChannel. Every room is a set of
// subscriptions; publishing fans out synchronously into their queues.
type Hub struct {
	mu            sync.Mutex
	rooms         map[domain.RoomID]map[domain.ParticipantID]*memorySub
	failSubscribe error
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[domain.RoomID]map[domain.ParticipantID]*memorySub)}
}

// FailSubscribe makes every following Subscribe return err; nil restores
// normal behaviour.
func (h *Hub) FailSubscribe(err error) {
	h.mu.Lock()
	h.failSubscribe = err
	h.mu.Unlock()
}

func (h *Hub) Subscribe(ctx context.Context, room domain.RoomID, self domain.ParticipantID) (core.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSubscribe, err)
	}
	h.mu.Lock()
	if h.failSubscribe != nil {
		err := h.failSubscribe
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", core.ErrSubscribe, err)
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[domain.ParticipantID]*memorySub)
		h.rooms[room] = members
	}
	if _, dup := members[self]; dup {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s already in room %s", core.ErrSubscribe, self, room)
	}
	sub := &memorySub{hub: h, room: room, self: self, d: newDispatcher()}
	for _, other := range members {
		other.d.presence(core.PresenceEvent{Kind: core.PresenceJoin, Participant: self})
	}
	members[self] = sub
	h.mu.Unlock()

	log.Info().Str("module", "channel.memory").Str("room", string(room)).Str("participant", string(self)).Msg("subscribed")
	return sub, nil
}

// Disconnect drops a subscriber without a departed message, the way a
// lost connection looks to the rest of the room.
func (h *Hub) Disconnect(room domain.RoomID, id domain.ParticipantID) bool {
	h.mu.Lock()
	sub, ok := h.rooms[room][id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	return sub.Unsubscribe() == nil
}

// Members lists the current subscribers of room.
func (h *Hub) Members(room domain.RoomID) []domain.ParticipantID {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.ParticipantID, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type memorySub struct {
	hub  *Hub
	room domain.RoomID
	self domain.ParticipantID
	d    *dispatcher
}

func (s *memorySub) Publish(ctx context.Context, msg domain.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	members := s.hub.rooms[s.room]
	if members[s.self] != s {
		return core.ErrChannelClosed
	}
	for id, other := range members {
		if id == s.self || !msg.AddressedTo(id) {
			continue
		}
		other.d.message(msg)
	}
	return nil
}

func (s *memorySub) OnMessage(fn func(domain.SignalMessage)) { s.d.setOnMessage(fn) }

func (s *memorySub) OnPresenceChange(fn func(core.PresenceEvent)) { s.d.setOnPresence(fn) }

func (s *memorySub) Presence() []domain.ParticipantID { return s.hub.Members(s.room) }

func (s *memorySub) Unsubscribe() error {
	s.hub.mu.Lock()
	members := s.hub.rooms[s.room]
	if members[s.self] != s {
		s.hub.mu.Unlock()
		return core.ErrNotSubscribed
	}
	delete(members, s.self)
	if len(members) == 0 {
		delete(s.hub.rooms, s.room)
	}
	for _, other := range members {
		other.d.presence(core.PresenceEvent{Kind: core.PresenceLeave, Participant: s.self})
	}
	s.hub.mu.Unlock()

	s.d.close()
	log.Info().Str("module", "channel.memory").Str("room", string(s.room)).Str("participant", string(s.self)).Msg("unsubscribed")
	return nil
}
