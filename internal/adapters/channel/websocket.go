package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// WebSocket is a SignalingChannel backed by the relay server. One
// websocket connection carries one room subscription.
type WebSocket struct {
	// BaseURL is the relay endpoint, e.g. ws://host:8080/api/ws/signal.
	BaseURL string
	Dialer  *websocket.Dialer
}

func NewWebSocket(baseURL string) *WebSocket {
	return &WebSocket{BaseURL: baseURL, Dialer: websocket.DefaultDialer}
}

func (w *WebSocket) Subscribe(ctx context.Context, room domain.RoomID, self domain.ParticipantID) (core.Subscription, error) {
	u, err := url.Parse(w.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid relay url: %w", core.ErrSubscribe, err)
	}
	q := u.Query()
	q.Set("room", string(room))
	q.Set("id", string(self))
	u.RawQuery = q.Encode()

	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrSubscribe, err)
	}
	conn.SetReadLimit(maxMessageSize)

	// The relay answers with a welcome frame holding the room snapshot.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(writeWait))
	}
	var welcome core.RelayFrame
	if err := conn.ReadJSON(&welcome); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: read welcome: %w", core.ErrSubscribe, err)
	}
	if welcome.Type != core.FrameWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: relay refused: %s", core.ErrSubscribe, welcome.Error)
	}

	s := &wsSub{
		conn:     conn,
		room:     room,
		self:     self,
		d:        newDispatcher(),
		outgoing: make(chan core.RelayFrame, sendBuffer),
		done:     make(chan struct{}),
		members:  make(map[domain.ParticipantID]struct{}),
	}
	for _, id := range welcome.Members {
		s.members[id] = struct{}{}
	}
	s.members[self] = struct{}{}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))

	s.pumps.Go(s.readPump)
	s.pumps.Go(s.writePump)
	log.Info().Str("module", "channel.ws").Str("room", string(room)).Str("participant", string(self)).Int("members", len(s.members)).Msg("subscribed")
	return s, nil
}

type wsSub struct {
	conn *websocket.Conn
	room domain.RoomID
	self domain.ParticipantID
	d    *dispatcher

	outgoing chan core.RelayFrame
	done     chan struct{}
	once     sync.Once
	pumps    conc.WaitGroup

	mu      sync.RWMutex
	members map[domain.ParticipantID]struct{}
}

func (s *wsSub) Publish(ctx context.Context, msg domain.SignalMessage) error {
	frame := core.RelayFrame{Type: core.FramePublish, Signal: &msg}
	select {
	case <-s.done:
		return core.ErrChannelClosed
	default:
	}
	select {
	case s.outgoing <- frame:
		return nil
	case <-s.done:
		return core.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *wsSub) OnMessage(fn func(domain.SignalMessage)) { s.d.setOnMessage(fn) }

func (s *wsSub) OnPresenceChange(fn func(core.PresenceEvent)) { s.d.setOnPresence(fn) }

func (s *wsSub) Presence() []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ParticipantID, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *wsSub) Unsubscribe() error {
	err := core.ErrNotSubscribed
	s.once.Do(func() {
		close(s.done)
		s.pumps.Wait()
		err = s.conn.Close()
		s.d.close()
		log.Info().Str("module", "channel.ws").Str("room", string(s.room)).Str("participant", string(s.self)).Msg("unsubscribed")
	})
	return err
}

func (s *wsSub) readPump() {
	for {
		var frame core.RelayFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				log.Warn().Err(err).Str("module", "channel.ws").Str("room", string(s.room)).Msg("read pump stopped")
			}
			return
		}
		switch frame.Type {
		case core.FrameSignal:
			if frame.Signal == nil || frame.Signal.SenderID == s.self || !frame.Signal.AddressedTo(s.self) {
				continue
			}
			s.d.message(*frame.Signal)
		case core.FramePresence:
			if frame.Presence == nil {
				continue
			}
			s.trackPresence(*frame.Presence)
			s.d.presence(*frame.Presence)
		case core.FramePong:
		case core.FrameError:
			log.Warn().Str("module", "channel.ws").Str("error", frame.Error).Msg("relay error")
		default:
			log.Debug().Str("module", "channel.ws").Str("type", string(frame.Type)).Msg("unknown frame")
		}
	}
}

func (s *wsSub) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Unblock readPump.
		_ = s.conn.SetReadDeadline(time.Now())
	}()
	for {
		select {
		case frame := <-s.outgoing:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.writeJSON(frame); err != nil {
				log.Warn().Err(err).Str("module", "channel.ws").Msg("write pump stopped")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.writeJSON(core.RelayFrame{Type: core.FrameLeave})
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames queued before Unsubscribe, such as departed.
func (s *wsSub) flush() {
	for {
		select {
		case frame := <-s.outgoing:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.writeJSON(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *wsSub) writeJSON(frame core.RelayFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSub) trackPresence(ev core.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Kind {
	case core.PresenceJoin:
		s.members[ev.Participant] = struct{}{}
	case core.PresenceLeave:
		delete(s.members, ev.Participant)
	}
}
