package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/sfu"
)

var errNotRegistered = errors.New("session is not registered")

// sessionOf returns the authenticated identity behind the client, or an
// error: unregistered sessions may observe but never originate chat or
// calls.
func (s *Supervisor) sessionOf(c *Client) (domain.Session, error) {
	sess, ok := s.registry.UserOf(c.id)
	if !ok || !sess.Authenticated() {
		return domain.Session{}, errNotRegistered
	}
	return sess, nil
}

func decode[T any](env envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, errors.New("missing payload")
	}
	err := json.Unmarshal(env.Data, &v)
	return v, err
}

// --- presence & typing ---

func (s *Supervisor) handleRegisterUser(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}](env)
	if err != nil || req.UserID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("userId is required")))
		return
	}
	if err := s.registry.Register(ctx, c.id, req.UserID, req.Username); err != nil {
		s.log.Error("register_user failed", slog.String("session_id", c.id), sl.Err(err))
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(nil))
}

func (s *Supervisor) handleTyping(ctx context.Context, c *Client, env envelope, event string) {
	req, err := decode[struct {
		RoomID string `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		return
	}
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	s.fanout.ToRoom(ctx, req.RoomID, event, map[string]any{
		"roomId":   req.RoomID,
		"userId":   sess.UserID,
		"username": sess.Username,
	}, c.id)
}

// --- chat ---

func (s *Supervisor) handleSendMessage(ctx context.Context, c *Client, env envelope, wireEvent string) {
	req, err := decode[struct {
		RoomID      string `json:"roomId"`
		RecipientID string `json:"recipientId"`
		Text        string `json:"text"`
		MessageType string `json:"messageType"`
		FileURL     string `json:"fileUrl"`
	}](env)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	sess, err := s.sessionOf(c)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}

	payload, err := s.chat.Send(ctx, req.RoomID, sess.UserID, sess.Username, req.Text,
		domain.MessageType(req.MessageType), req.FileURL, wireEvent)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"message": payload}))
}

func (s *Supervisor) handleGetMessages(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		RoomID string `json:"roomId"`
		Before string `json:"before"`
		Limit  int    `json:"limit"`
	}](env)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	var before time.Time
	if req.Before != "" {
		before, _ = time.Parse(time.RFC3339Nano, req.Before)
	}
	msgs, err := s.chat.History(ctx, req.RoomID, before, req.Limit)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"messages": msgs}))
}

func (s *Supervisor) handleMessageDelivered(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		MessageID string `json:"messageId"`
	}](env)
	if err != nil || req.MessageID == "" {
		return
	}
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	if err := s.chat.MarkDelivered(ctx, req.MessageID, sess.UserID); err != nil {
		s.log.Warn("message_delivered failed", slog.String("message_id", req.MessageID), sl.Err(err))
	}
}

func (s *Supervisor) handleMarkRead(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		RoomID string `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		return
	}
	sess, err := s.sessionOf(c)
	if err != nil {
		return
	}
	if err := s.chat.MarkRead(ctx, req.RoomID, sess.UserID); err != nil {
		s.log.Warn("mark_read failed", slog.String("room_id", req.RoomID), sl.Err(err))
	}
}

func (s *Supervisor) handleGetRooms(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		UserID string `json:"userId"`
	}](env)
	if err != nil || req.UserID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("userId is required")))
		return
	}
	rooms, err := s.chat.RoomsForUser(ctx, req.UserID)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"rooms": rooms}))
}

func (s *Supervisor) handleStartPrivateChat(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		UserID       string `json:"userId"`
		TargetUserID string `json:"targetUserId"`
	}](env)
	if err != nil || req.UserID == "" || req.TargetUserID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("userId and targetUserId are required")))
		return
	}
	room, other, created, err := s.chat.StartPrivateChat(ctx, req.UserID, req.TargetUserID)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{
		"room":      room,
		"otherUser": other,
		"created":   created,
	}))
}

func (s *Supervisor) handleCreateGroup(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
		CreatedBy string   `json:"createdBy"`
	}](env)
	if err != nil || req.Name == "" || req.CreatedBy == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("name and createdBy are required")))
		return
	}
	room, err := s.chat.CreateGroup(ctx, req.Name, req.CreatedBy, req.MemberIDs)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"room": room}))
}

func (s *Supervisor) handleEditMessage(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		MessageID string `json:"messageId"`
		Content   string `json:"content"`
	}](env)
	if err != nil || req.MessageID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("messageId is required")))
		return
	}
	sess, err := s.sessionOf(c)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	payload, err := s.chat.Edit(ctx, req.MessageID, sess.UserID, req.Content)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"message": payload}))
}

// --- media ---

func (s *Supervisor) handleJoinMediaRoom(c *Client, env envelope) {
	req, err := decode[struct {
		RoomID string `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("roomId is required")))
		return
	}
	username := ""
	if sess, ok := s.registry.UserOf(c.id); ok {
		username = sess.Username
	}
	caps, err := s.media.Join(req.RoomID, c.id, username)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"routerRtpCapabilities": caps}))
}

func (s *Supervisor) handleSetRTPCapabilities(c *Client, env envelope) {
	req, err := decode[struct {
		RoomID          string              `json:"roomId"`
		RTPCapabilities sfu.RTPCapabilities `json:"rtpCapabilities"`
	}](env)
	if err != nil || req.RoomID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("roomId is required")))
		return
	}
	if err := s.media.SetRTPCapabilities(req.RoomID, c.id, req.RTPCapabilities); err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(nil))
}

func (s *Supervisor) handleCreateTransport(c *Client, env envelope) {
	req, err := decode[struct {
		RoomID    string `json:"roomId"`
		Direction string `json:"direction"`
	}](env)
	if err != nil || req.RoomID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("roomId is required")))
		return
	}
	direction := sfu.TransportDirection(req.Direction)
	if direction != sfu.DirectionSend && direction != sfu.DirectionRecv {
		c.ack(env.AckID, env.Event, errAck(errors.New("direction must be send or recv")))
		return
	}
	desc, err := s.media.CreateTransport(req.RoomID, c.id, direction)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{
		"id":             desc.ID,
		"iceParameters":  desc.ICEParameters,
		"iceCandidates":  desc.ICECandidates,
		"dtlsParameters": desc.DTLSParameters,
	}))
}

func (s *Supervisor) handleConnectTransport(c *Client, env envelope) {
	req, err := decode[struct {
		RoomID      string                `json:"roomId"`
		TransportID string                `json:"transportId"`
		Params      sfu.ConnectParameters `json:"dtlsParameters"`
	}](env)
	if err != nil || req.TransportID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("transportId is required")))
		return
	}
	if err := s.media.ConnectTransport(req.RoomID, req.TransportID, req.Params); err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(nil))
}

func (s *Supervisor) handleProduce(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		RoomID        string            `json:"roomId"`
		TransportID   string            `json:"transportId"`
		Kind          string            `json:"kind"`
		RTPParameters sfu.RTPParameters `json:"rtpParameters"`
		AppData       map[string]any    `json:"appData"`
	}](env)
	if err != nil || req.RoomID == "" || req.TransportID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("roomId and transportId are required")))
		return
	}
	producerID, err := s.media.Produce(ctx, req.RoomID, c.id, req.TransportID,
		sfu.MediaKind(req.Kind), req.RTPParameters, req.AppData)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"id": producerID}))
}

func (s *Supervisor) handleConsume(c *Client, env envelope) {
	req, err := decode[struct {
		RoomID     string `json:"roomId"`
		ProducerID string `json:"producerId"`
	}](env)
	if err != nil || req.RoomID == "" || req.ProducerID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("roomId and producerId are required")))
		return
	}
	desc, err := s.media.Consume(req.RoomID, c.id, req.ProducerID)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"consumer": desc}))
}

func (s *Supervisor) handleResumeConsumer(c *Client, env envelope) {
	req, err := decode[struct {
		RoomID     string `json:"roomId"`
		ConsumerID string `json:"consumerId"`
	}](env)
	if err != nil || req.ConsumerID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("consumerId is required")))
		return
	}
	if err := s.media.ResumeConsumer(req.RoomID, c.id, req.ConsumerID); err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(nil))
}

func (s *Supervisor) handleGetProducers(c *Client, env envelope) {
	req, err := decode[struct {
		RoomID string `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("roomId is required")))
		return
	}
	producers, err := s.media.Producers(req.RoomID, c.id)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"producers": producers}))
}

func (s *Supervisor) handleLeaveMediaRoom(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		RoomID string `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		return
	}
	if err := s.media.RemovePeer(ctx, req.RoomID, c.id); err != nil &&
		!errors.Is(err, sfu.ErrRoomNotFound) && !errors.Is(err, sfu.ErrPeerNotFound) {
		s.log.Warn("leave_media_room failed", slog.String("room_id", req.RoomID), sl.Err(err))
	}
}

// --- calls ---

func (s *Supervisor) handleCallUser(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		To      string          `json:"to"`
		Signal  json.RawMessage `json:"signal"`
		IsVideo bool            `json:"isVideo"`
		RoomID  string          `json:"roomId"`
	}](env)
	if err != nil || req.To == "" || req.RoomID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("to and roomId are required")))
		return
	}
	sess, err := s.sessionOf(c)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	if err := s.calls.CallUser(ctx, sess, req.To, req.RoomID, req.Signal, req.IsVideo); err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(nil))
}

func (s *Supervisor) handleAnswerCall(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		To     string          `json:"to"`
		Signal json.RawMessage `json:"signal"`
		RoomID string          `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		return
	}
	sess, _ := s.registry.UserOf(c.id)
	if err := s.calls.Answer(ctx, sess, req.To, req.RoomID, req.Signal); err != nil {
		s.log.Warn("answer_call failed", slog.String("room_id", req.RoomID), sl.Err(err))
	}
}

func (s *Supervisor) handleRejectCall(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		To     string `json:"to"`
		RoomID string `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		return
	}
	sess, _ := s.registry.UserOf(c.id)
	if err := s.calls.Reject(ctx, sess, req.To, req.RoomID); err != nil {
		s.log.Warn("reject_call failed", slog.String("room_id", req.RoomID), sl.Err(err))
	}
}

func (s *Supervisor) handleEndCall(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		To     string `json:"to"`
		RoomID string `json:"roomId"`
	}](env)
	if err != nil || req.RoomID == "" {
		return
	}
	sess, _ := s.registry.UserOf(c.id)
	if err := s.calls.End(ctx, sess, req.To, req.RoomID); err != nil {
		s.log.Warn("end_call failed", slog.String("room_id", req.RoomID), sl.Err(err))
	}
}

func (s *Supervisor) handleICECandidate(c *Client, env envelope) {
	req, err := decode[struct {
		Candidate json.RawMessage `json:"candidate"`
		To        string          `json:"to"`
	}](env)
	if err != nil || req.To == "" {
		return
	}
	sess, _ := s.registry.UserOf(c.id)
	s.calls.ForwardICE(sess, req.To, req.Candidate)
}

func (s *Supervisor) handleGetCallHistory(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		RoomID string `json:"roomId"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}](env)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	calls, err := s.calls.History(ctx, req.RoomID, req.Limit, req.Offset)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"calls": calls}))
}

func (s *Supervisor) handleGetRecordings(ctx context.Context, c *Client, env envelope) {
	req, err := decode[struct {
		CallID string `json:"callId"`
	}](env)
	if err != nil || req.CallID == "" {
		c.ack(env.AckID, env.Event, errAck(errors.New("callId is required")))
		return
	}
	recs, err := s.recordings.ListByCall(ctx, req.CallID)
	if err != nil {
		c.ack(env.AckID, env.Event, errAck(err))
		return
	}
	c.ack(env.AckID, env.Event, okAck(map[string]any{"recordings": recs}))
}
