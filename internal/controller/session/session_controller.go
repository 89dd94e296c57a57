package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/examly/hallpass/config"
	"github.com/examly/hallpass/internal/auth"
	"github.com/examly/hallpass/internal/bridge"
	"github.com/examly/hallpass/internal/model"
	"github.com/examly/hallpass/internal/repository"
	"github.com/examly/hallpass/internal/service"
	"github.com/examly/hallpass/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// SessionController upgrades exam session sockets and pumps their
// inbound frames. Authentication happens after the upgrade so the
// client receives a proper close code instead of a failed handshake.
type SessionController struct {
	cfg         *config.Config
	manager     *ws.Manager
	checkpoints service.CheckpointService
	attemptRepo repository.AttemptRepository
	jwtManager  *auth.JWTManager
	bridge      bridge.Bridge
	upgrader    websocket.Upgrader
}

func NewSessionController(
	cfg *config.Config,
	manager *ws.Manager,
	checkpoints service.CheckpointService,
	attemptRepo repository.AttemptRepository,
	jwtManager *auth.JWTManager,
	b bridge.Bridge,
) *SessionController {
	c := &SessionController{
		cfg:         cfg,
		manager:     manager,
		checkpoints: checkpoints,
		attemptRepo: attemptRepo,
		jwtManager:  jwtManager,
		bridge:      b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Exam clients run on lab workstations behind arbitrary
			// hostnames; origin policy is enforced upstream.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	checkpoints.SetNotifier(&checkpointBroadcaster{manager: manager})
	return c
}

// checkpointBroadcaster delivers the outcome of debounced commits. The
// connection that queued the save may be gone by the time it fires, so
// the result goes to every live connection for the attempt.
type checkpointBroadcaster struct {
	manager *ws.Manager
}

func (b *checkpointBroadcaster) CheckpointCommitted(attemptID uint, r service.CheckpointResult) {
	b.manager.BroadcastToAttempt(attemptID, ws.NewCheckpointAck(r.QuestionID, r.Sequence, r.SavedAt, r.TimeRemainingSeconds), "")
}

func (b *checkpointBroadcaster) CheckpointRejected(attemptID uint, r service.CheckpointResult) {
	b.manager.BroadcastToAttempt(attemptID, ws.NewCheckpointError(r.QuestionID, r.ErrorMessage, r.ErrorCode), "")
}

// closePolicy rejects a socket after the upgrade with 1008 so the
// client can distinguish policy rejections from network failures.
func closePolicy(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	conn.Close()
}

// Handle godoc
// @Summary Open the real-time session socket for an attempt
// @Tags Sessions
// @Param attempt_id path int true "Attempt ID"
// @Param token query string true "JWT access token"
// @Router /ws/attempts/{attempt_id} [get]
func (c *SessionController) Handle(ctx *gin.Context) {
	attemptID64, err := strconv.ParseUint(ctx.Param("attempt_id"), 10, 32)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID format"})
		return
	}
	attemptID := uint(attemptID64)

	socket, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	claims, err := c.jwtManager.Validate(ctx.Query("token"))
	if err != nil {
		closePolicy(socket, "invalid authentication token")
		return
	}
	user := claims.User()

	attempt, err := c.attemptRepo.FindByID(attemptID)
	if err != nil {
		closePolicy(socket, "attempt not found")
		return
	}
	if !user.IsStaff() && attempt.StudentID != user.ID {
		log.Warn().
			Uint("user_id", user.ID).
			Uint("attempt_id", attemptID).
			Msg("Session rejected: attempt belongs to another student")
		closePolicy(socket, "attempt does not belong to this user")
		return
	}
	if attempt.Status != model.AttemptNotStarted && attempt.Status != model.AttemptInProgress {
		closePolicy(socket, "attempt is "+string(attempt.Status))
		return
	}

	conn, err := c.manager.Connect(socket, attemptID, user.ID)
	if err != nil {
		closePolicy(socket, "connection limit exceeded")
		return
	}
	defer c.manager.Disconnect(conn.ID)

	// Transfer events for this attempt may be published by another
	// process; forward them verbatim onto this socket.
	unsubscribe, err := c.bridge.Subscribe(context.Background(), bridge.AttemptTopic(attemptID), func(topic string, payload []byte) {
		c.manager.SendToOne(conn.ID, json.RawMessage(payload))
	})
	if err != nil {
		log.Error().Err(err).Uint("attempt_id", attemptID).Msg("Bridge subscription failed")
		closePolicy(socket, "session event stream unavailable")
		return
	}
	defer unsubscribe()

	c.manager.SendToOne(conn.ID, ws.ConnectedMessage{
		Type:                 ws.TypeConnected,
		ConnectionID:         conn.ID,
		AttemptID:            attemptID,
		ServerTime:           time.Now(),
		TimeRemainingSeconds: attempt.TimeRemainingSeconds(),
		HeartbeatInterval:    int(c.cfg.Session.HeartbeatInterval.Seconds()),
		CheckpointDebounce:   int(c.cfg.Session.CheckpointDebounce.Seconds()),
	})

	c.readLoop(socket, conn, attemptID)
}

// readLoop owns all reads on the socket. It exits on the first read
// error; the deferred cleanup in Handle tears the connection down.
func (c *SessionController) readLoop(socket *websocket.Conn, conn *ws.Connection, attemptID uint) {
	for {
		var msg ws.ClientMessage
		if err := socket.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("connection_id", conn.ID).Msg("WebSocket read error")
			}
			return
		}
		conn.Touch()

		switch msg.Type {
		case ws.TypePong:
			// Touch above is the whole point of a pong.

		case ws.TypeCheckpoint:
			c.handleCheckpoint(conn, attemptID, msg)

		case ws.TypeFlag:
			c.handleFlag(conn, attemptID, msg)

		case ws.TypeTimeSync:
			c.handleTimeSync(conn, attemptID)

		default:
			c.manager.SendToOne(conn.ID, ws.NewError("unknown message type: "+string(msg.Type), "UNKNOWN_MESSAGE_TYPE"))
		}
	}
}

func (c *SessionController) handleCheckpoint(conn *ws.Connection, attemptID uint, msg ws.ClientMessage) {
	result := c.checkpoints.ProcessCheckpoint(attemptID, service.CheckpointRequest{
		QuestionID:       msg.QuestionID,
		Answer:           msg.Answer,
		IsFlagged:        msg.IsFlagged,
		TimeSpentSeconds: msg.TimeSpentSeconds,
		Sequence:         msg.Sequence,
	})
	if !result.Accepted {
		c.manager.SendToOne(conn.ID, ws.NewCheckpointError(result.QuestionID, result.ErrorMessage, result.ErrorCode))
		return
	}
	if result.Debounced {
		// The ack arrives via the notifier once the coalesced save commits.
		return
	}
	ack := ws.NewCheckpointAck(result.QuestionID, result.Sequence, result.SavedAt, result.TimeRemainingSeconds)
	c.manager.SendToOne(conn.ID, ack)
	// Keep any other screen on this attempt (a workstation mid-transfer)
	// in sync with the saved state.
	c.manager.BroadcastToAttempt(attemptID, ack, conn.ID)
}

func (c *SessionController) handleFlag(conn *ws.Connection, attemptID uint, msg ws.ClientMessage) {
	result := c.checkpoints.ProcessFlag(attemptID, msg.QuestionID, msg.IsFlagged)
	if !result.Accepted {
		c.manager.SendToOne(conn.ID, ws.NewCheckpointError(result.QuestionID, result.ErrorMessage, result.ErrorCode))
		return
	}
	c.manager.SendToOne(conn.ID, ws.NewCheckpointAck(result.QuestionID, result.Sequence, time.Now(), result.TimeRemainingSeconds))
}

func (c *SessionController) handleTimeSync(conn *ws.Connection, attemptID uint) {
	attempt, err := c.attemptRepo.FindByID(attemptID)
	if err != nil {
		c.manager.SendToOne(conn.ID, ws.NewError("failed to load attempt", "INTERNAL_ERROR"))
		return
	}
	expired := attempt.IsExpired()
	c.manager.SendToOne(conn.ID, ws.NewTimeUpdate(attempt.TimeRemainingSeconds(), attempt.ElapsedSeconds(), expired))
	if expired {
		// Every screen for the attempt learns the clock ran out, not just
		// the one that asked.
		c.manager.BroadcastToAttempt(attemptID, ws.NewExamEvent("time_expired", map[string]interface{}{
			"attempt_id": attemptID,
		}), "")
	}
}
