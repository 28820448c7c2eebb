package channel

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	keyPrefix     = "mesh:room:"
	membersTTL    = 24 * time.Hour
	presenceQuery = 2 * time.Second
)

func signalKey(room domain.RoomID) string   { return keyPrefix + string(room) + ":signal" }
func presenceKey(room domain.RoomID) string { return keyPrefix + string(room) + ":presence" }
func membersKey(room domain.RoomID) string  { return keyPrefix + string(room) + ":members" }

// envelope is the frame carried on both redis channels. Field names follow
// the websocket JSON shape.
type envelope struct {
	Sender   domain.ParticipantID  `json:"sender"`
	Signal   *domain.SignalMessage `json:"signal,omitempty"`
	Presence *core.PresenceEvent   `json:"presence,omitempty"`
}

func encodeEnvelope(env envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&env)
	return env, err
}

// Redis is a SignalingChannel over redis pub/sub. Room membership lives in
// a set so late joiners can read a presence snapshot.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Subscribe(ctx context.Context, room domain.RoomID, self domain.ParticipantID) (core.Subscription, error) {
	ps := r.client.Subscribe(ctx, signalKey(room), presenceKey(room))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrSubscribe, err)
	}
	if err := r.client.SAdd(ctx, membersKey(room), string(self)).Err(); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrSubscribe, err)
	}
	r.client.Expire(ctx, membersKey(room), membersTTL)

	sub := &redisSub{
		client: r.client,
		ps:     ps,
		room:   room,
		self:   self,
		d:      newDispatcher(),
		done:   make(chan struct{}),
	}
	go sub.pump()

	if err := sub.publish(ctx, presenceKey(room), envelope{
		Sender:   self,
		Presence: &core.PresenceEvent{Kind: core.PresenceJoin, Participant: self},
	}); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("%w: %w", core.ErrSubscribe, err)
	}
	log.Info().Str("module", "channel.redis").Str("room", string(room)).Str("participant", string(self)).Msg("subscribed")
	return sub, nil
}

type redisSub struct {
	client *redis.Client
	ps     *redis.PubSub
	room   domain.RoomID
	self   domain.ParticipantID
	d      *dispatcher

	closeOnce sync.Once
	done      chan struct{}
}

func (s *redisSub) Publish(ctx context.Context, msg domain.SignalMessage) error {
	select {
	case <-s.done:
		return core.ErrChannelClosed
	default:
	}
	return s.publish(ctx, signalKey(s.room), envelope{Sender: s.self, Signal: &msg})
}

func (s *redisSub) OnMessage(fn func(domain.SignalMessage)) { s.d.setOnMessage(fn) }

func (s *redisSub) OnPresenceChange(fn func(core.PresenceEvent)) { s.d.setOnPresence(fn) }

func (s *redisSub) Presence() []domain.ParticipantID {
	ctx, cancel := context.WithTimeout(context.Background(), presenceQuery)
	defer cancel()
	ids, err := s.client.SMembers(ctx, membersKey(s.room)).Result()
	if err != nil {
		log.Warn().Err(err).Str("module", "channel.redis").Str("room", string(s.room)).Msg("presence snapshot")
		return nil
	}
	out := make([]domain.ParticipantID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.ParticipantID(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *redisSub) Unsubscribe() error {
	err := core.ErrNotSubscribed
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), presenceQuery)
		defer cancel()
		s.client.SRem(ctx, membersKey(s.room), string(s.self))
		if perr := s.publish(ctx, presenceKey(s.room), envelope{
			Sender:   s.self,
			Presence: &core.PresenceEvent{Kind: core.PresenceLeave, Participant: s.self},
		}); perr != nil {
			log.Warn().Err(perr).Str("module", "channel.redis").Msg("publish presence leave")
		}
		close(s.done)
		err = s.ps.Close()
		s.d.close()
		log.Info().Str("module", "channel.redis").Str("room", string(s.room)).Str("participant", string(s.self)).Msg("unsubscribed")
	})
	return err
}

func (s *redisSub) publish(ctx context.Context, channel string, env envelope) error {
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

func (s *redisSub) pump() {
	for m := range s.ps.Channel() {
		env, err := decodeEnvelope([]byte(m.Payload))
		if err != nil {
			log.Warn().Err(err).Str("module", "channel.redis").Str("channel", m.Channel).Msg("bad frame")
			continue
		}
		if env.Sender == s.self {
			continue
		}
		switch {
		case env.Signal != nil:
			if env.Signal.AddressedTo(s.self) {
				s.d.message(*env.Signal)
			}
		case env.Presence != nil:
			s.d.presence(*env.Presence)
		}
	}
}
