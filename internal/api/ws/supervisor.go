// Package ws is the connection supervisor: it owns the websocket lifecycle,
// dispatches inbound events to the hub, chat, signalling, and SFU layers,
// and unwinds everything in order on disconnect.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/meshcall/core/internal/callsignal"
	"github.com/meshcall/core/internal/chat"
	"github.com/meshcall/core/internal/hub"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/recording"
	"github.com/meshcall/core/internal/sfu"
)

type Supervisor struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	registry   *hub.Registry
	fanout     *hub.Fanout
	chat       *chat.Service
	calls      *callsignal.Service
	media      *sfu.Orchestrator
	recordings *recording.Controller
}

func NewSupervisor(
	registry *hub.Registry,
	fanout *hub.Fanout,
	chatSvc *chat.Service,
	calls *callsignal.Service,
	media *sfu.Orchestrator,
	recordings *recording.Controller,
	log *slog.Logger,
) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		registry:   registry,
		fanout:     fanout,
		chat:       chatSvc,
		calls:      calls,
		media:      media,
		recordings: recordings,
	}
}

// Handle upgrades the HTTP request and runs the session until disconnect.
func (s *Supervisor) Handle(ctx *gin.Context) {
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", sl.Err(err))
		return
	}

	client := newClient(conn)
	s.registry.Attach(client)
	s.log.Info("session connected", slog.String("session_id", client.id))

	go client.writePump()
	s.readLoop(client)
	s.disconnect(client)
}

func (s *Supervisor) readLoop(c *Client) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read error", slog.String("session_id", c.id), sl.Err(err))
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Debug("malformed frame", slog.String("session_id", c.id), sl.Err(err))
			continue
		}
		s.dispatch(c, env)
	}
}

// disconnect unwinds in order: media peers first (which may stop a
// recording), then the registry entry with its presence broadcast and fresh
// online snapshot. No handler observes a half-torn-down session because
// each step is atomic under its owner's lock.
func (s *Supervisor) disconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.media.RemoveSession(ctx, c.id)
	s.registry.Unregister(ctx, c.id)
	s.log.Info("session disconnected", slog.String("session_id", c.id))
}

// dispatch routes one inbound event. Handlers catch their own errors and
// answer acks; nothing here may panic the read loop.
func (s *Supervisor) dispatch(c *Client, env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch env.Event {
	case "register_user":
		s.handleRegisterUser(ctx, c, env)
	case "get_online_users":
		c.Emit("users_online", s.registry.OnlineUsers())
	case "typing_start":
		s.handleTyping(ctx, c, env, "user_typing")
	case "typing_stop":
		s.handleTyping(ctx, c, env, "user_stopped_typing")
	case "send_group_message":
		s.handleSendMessage(ctx, c, env, "receive_group_message")
	case "send_private_message":
		s.handleSendMessage(ctx, c, env, "receive_private_message")
	case "get_messages":
		s.handleGetMessages(ctx, c, env)
	case "message_delivered":
		s.handleMessageDelivered(ctx, c, env)
	case "mark_read":
		s.handleMarkRead(ctx, c, env)
	case "get_rooms":
		s.handleGetRooms(ctx, c, env)
	case "start_private_chat":
		s.handleStartPrivateChat(ctx, c, env)
	case "create_group":
		s.handleCreateGroup(ctx, c, env)
	case "edit_message":
		s.handleEditMessage(ctx, c, env)
	case "join_media_room":
		s.handleJoinMediaRoom(c, env)
	case "set_rtp_capabilities":
		s.handleSetRTPCapabilities(c, env)
	case "create_transport":
		s.handleCreateTransport(c, env)
	case "connect_transport":
		s.handleConnectTransport(c, env)
	case "produce":
		s.handleProduce(ctx, c, env)
	case "consume":
		s.handleConsume(c, env)
	case "resume_consumer":
		s.handleResumeConsumer(c, env)
	case "get_producers":
		s.handleGetProducers(c, env)
	case "leave_media_room":
		s.handleLeaveMediaRoom(ctx, c, env)
	case "call_user":
		s.handleCallUser(ctx, c, env)
	case "answer_call":
		s.handleAnswerCall(ctx, c, env)
	case "reject_call":
		s.handleRejectCall(ctx, c, env)
	case "end_call":
		s.handleEndCall(ctx, c, env)
	case "ice_candidate":
		s.handleICECandidate(c, env)
	case "get_call_history":
		s.handleGetCallHistory(ctx, c, env)
	case "get_recordings":
		s.handleGetRecordings(ctx, c, env)
	default:
		s.log.Debug("unknown event", slog.String("event", env.Event), slog.String("session_id", c.id))
	}
}

func okAck(fields map[string]any) map[string]any {
	out := map[string]any{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func errAck(err error) map[string]any {
	return map[string]any{"success": false, "error": err.Error()}
}
