package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/app/media"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrJoinFailed         = errors.New("join failed")
	ErrSessionClosed      = errors.New("session closed")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
)

const (
	leaveTimeout = 3 * time.Second

	DefaultNegotiationTimeout = 30 * time.Second
)

type Config struct {
	Room        domain.RoomID
	Self        domain.ParticipantID
	DisplayName string
	// Audio and Video request capture at join time.
	Audio bool
	Video bool
	// NegotiationTimeout bounds how long an entry may take to reach
	// Connected. Zero means DefaultNegotiationTimeout.
	NegotiationTimeout time.Duration
}

type Deps struct {
	Channel     core.SignalingChannel
	Connections core.ConnectionFactory
	Device      core.CaptureDevice
}

// Session is one participant's presence in one room. A single actor
// goroutine owns the registry and the capture stream; everything else
// talks to it through the event queue.
type Session struct {
	room  domain.RoomID
	self  *domain.Participant
	epoch string

	timeout time.Duration
	// gone remembers participants that departed, with the session they
	// left, so late or repeated signals cannot resurrect them. Actor-only.
	gone map[domain.ParticipantID]string

	sub      core.Subscription
	registry *Registry
	media    *media.Manager
	queue    *eventQueue
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	done   chan struct{}

	leaveOnce sync.Once
	leaveErr  error

	errMu   sync.RWMutex
	lastErr error
}

// Join subscribes to the room, acquires local media best-effort and
// announces self. The session leaves on its own when ctx is cancelled.
func Join(ctx context.Context, cfg Config, deps Deps) (*Session, error) {
	self, err := domain.NewParticipant(cfg.Self, cfg.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}
	if err := cfg.Room.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}
	if deps.Channel == nil || deps.Connections == nil {
		return nil, fmt.Errorf("%w: missing channel or connection factory", ErrJoinFailed)
	}

	sub, err := deps.Channel.Subscribe(ctx, cfg.Room, self.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrJoinFailed, err)
	}

	timeout := cfg.NegotiationTimeout
	if timeout <= 0 {
		timeout = DefaultNegotiationTimeout
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		room:     cfg.Room,
		self:     self,
		epoch:    uuid.NewString(),
		timeout:  timeout,
		gone:     make(map[domain.ParticipantID]string),
		sub:      sub,
		registry: NewRegistry(deps.Connections),
		media:    media.NewManager(deps.Device),
		queue:    newEventQueue(),
		log:      log.With().Str("module", "mesh").Str("room", string(cfg.Room)).Str("participant", string(self.ID)).Logger(),
		ctx:      sctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	sub.OnMessage(func(msg domain.SignalMessage) { s.queue.push(signalEvent{msg: msg}) })
	sub.OnPresenceChange(func(ev core.PresenceEvent) { s.queue.push(presenceEvent{ev: ev}) })
	go s.run()

	if cfg.Audio || cfg.Video {
		_ = s.exec(func() {
			if err := s.media.Start(ctx, cfg.Audio, cfg.Video); err != nil {
				s.setLastError(err)
			}
		})
	}

	if err := s.publish(ctx, domain.NewAnnounce(self.ID, self.DisplayName)); err != nil {
		s.shutdown()
		if uerr := sub.Unsubscribe(); uerr != nil {
			s.log.Warn().Err(uerr).Msg("unsubscribe after failed announce")
		}
		return nil, fmt.Errorf("%w: announce: %w", ErrJoinFailed, err)
	}
	s.log.Info().Strs("presence", idStrings(sub.Presence())).Msg("joined room")

	go func() {
		select {
		case <-ctx.Done():
			if err := s.Leave(); err != nil {
				s.log.Warn().Err(err).Msg("leave on context cancel")
			}
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *Session) Self() domain.Participant { return *s.self }

func (s *Session) Room() domain.RoomID { return s.room }

// Leave publishes departed, unsubscribes, closes every connection and
// stops capture. It is safe to call more than once.
func (s *Session) Leave() error {
	s.leaveOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()

		var errs []error
		if err := s.publish(ctx, domain.NewDeparted(s.self.ID)); err != nil {
			errs = append(errs, fmt.Errorf("publish departed: %w", err))
		}
		if err := s.sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe: %w", err))
		}
		s.shutdown()
		s.leaveErr = errors.Join(errs...)
		s.log.Info().Msg("left room")
	})
	return s.leaveErr
}

// Done is closed once the session actor has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) LocalStream() media.Stream { return s.media.Stream() }

func (s *Session) RemoteStreams() map[domain.ParticipantID]RemoteStream {
	return s.registry.RemoteStreams()
}

func (s *Session) Peers() []PeerStatus { return s.registry.Statuses() }

func (s *Session) IsCameraOn() bool { return s.media.IsCameraOn() }

func (s *Session) IsMicrophoneOn() bool { return s.media.IsMicrophoneOn() }

func (s *Session) ToggleCamera() (bool, error) {
	return s.toggle(webrtc.RTPCodecTypeVideo)
}

func (s *Session) ToggleMicrophone() (bool, error) {
	return s.toggle(webrtc.RTPCodecTypeAudio)
}

// LastError is the most recent non-fatal failure, nil when none occurred.
func (s *Session) LastError() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.lastErr
}

func (s *Session) setLastError(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

func (s *Session) toggle(kind webrtc.RTPCodecType) (on bool, err error) {
	xerr := s.exec(func() {
		var added []domain.ParticipantID
		on, added, err = s.media.Toggle(s.ctx, kind, s.registry.Connections())
		if err != nil {
			s.setLastError(err)
			return
		}
		for _, id := range added {
			if e, ok := s.registry.Get(id); ok {
				s.requestRenegotiation(e)
			}
		}
	})
	if xerr != nil {
		return false, xerr
	}
	return on, err
}

// publish stamps msg with this join's session before sending it.
func (s *Session) publish(ctx context.Context, msg domain.SignalMessage) error {
	msg.Session = s.epoch
	return s.sub.Publish(ctx, msg)
}

// exec runs fn on the actor and waits for it.
func (s *Session) exec(fn func()) error {
	done := make(chan struct{})
	if !s.queue.push(commandEvent{fn: fn, done: done}) {
		return ErrSessionClosed
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.queue.wake:
		}
		for _, ev := range s.queue.drain() {
			select {
			case <-s.stop:
				return
			default:
			}
			s.handle(ev)
		}
	}
}

// shutdown stops the actor, then tears down connections and capture.
func (s *Session) shutdown() {
	s.queue.close()
	close(s.stop)
	s.cancel()
	<-s.done
	s.registry.CloseAll()
	s.media.Release()
}

func idStrings(ids []domain.ParticipantID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
