package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/app/orch"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// Limiter caps published frames per participant; nil disables it.
	Limiter *RoomRateLimiter
}

type SignalWSController struct {
	Orch *orch.Orchestrator
	opts Options
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{Orch: o, opts: opts}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrChannelClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades /api/ws/signal?room=<id>&id=<participant> and
// subscribes the connection to the room.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Query("room"))
	if err := roomID.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	participant, err := domain.NewParticipant(domain.ParticipantID(c.Query("id")), c.Query("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sid := core.SessionID(c.GetString("client_token") + ":" + uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(roomID)).Str("participant", string(participant.ID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	sess := core.NewMemberSession(domain.NewMember(participant)).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, sess, cancel)

	// The welcome is written before the write pump starts so that it
	// precedes any frame room mates queue for this connection.
	if err := ctl.handleJoin(sid, conn, roomID); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("write welcome")
		ctl.Orch.KickBySID(sid)
		ctl.Orch.Registry.Unbind(sid)
		conn.Close()
		return
	}
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
