// Package chat drives message persistence, the per-recipient
// sent -> delivered -> read state machine, and the room/private-chat
// bookkeeping behind it.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/hub"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/metrics"
	"github.com/meshcall/core/internal/repository"
)

var (
	ErrNotAuthenticated = errors.New("sender is not authenticated")
	ErrRoomRequired     = errors.New("room id is required")
)

type Service struct {
	log      *slog.Logger
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	registry *hub.Registry
	fanout   *hub.Fanout
	metrics  *metrics.Metrics
}

func NewService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	users repository.UserRepository,
	registry *hub.Registry,
	fanout *hub.Fanout,
	m *metrics.Metrics,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, rooms: rooms, messages: messages, users: users, registry: registry, fanout: fanout, metrics: m}
}

// MessagePayload is the wire shape of receive_*_message events and history
// entries.
type MessagePayload struct {
	MessageID      string `json:"messageId"`
	RoomID         string `json:"roomId"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername,omitempty"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType"`
	FileURL        string `json:"fileUrl,omitempty"`
	Timestamp      string `json:"timestamp"`
	DeliveryStatus string `json:"deliveryStatus,omitempty"`
	EditedAt       string `json:"editedAt,omitempty"`
}

// Send persists the message, seeds a "sent" status row per recipient, and
// fans the payload out to the room under wireEvent. The sender gets an echo;
// clients deduplicate by messageId. Persistence failure does not block the
// real-time fan-out — the message just loses durability and receipts.
func (s *Service) Send(ctx context.Context, roomID, senderID, senderUsername, content string, msgType domain.MessageType, fileURL, wireEvent string) (*MessagePayload, error) {
	const op = "chat.send"
	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID), slog.String("sender_id", senderID))

	if senderID == "" {
		return nil, ErrNotAuthenticated
	}
	if roomID == "" {
		return nil, ErrRoomRequired
	}
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Content:   content,
		Type:      msgType,
		FileURL:   fileURL,
		CreatedAt: time.Now().UTC(),
	}

	persisted := true
	if err := s.messages.Create(ctx, msg); err != nil {
		persisted = false
		log.Error("failed to persist message, fanning out anyway", sl.Err(err))
	}

	if persisted {
		if participants, err := s.rooms.ActiveParticipants(ctx, roomID); err != nil {
			log.Warn("failed to seed status rows", sl.Err(err))
		} else {
			for _, p := range participants {
				if p.UserID == senderID {
					continue
				}
				if err := s.messages.UpsertStatus(ctx, msg.ID, p.UserID, domain.StatusSent); err != nil {
					log.Warn("failed to seed status row", slog.String("recipient", p.UserID), sl.Err(err))
				}
			}
		}
	}

	payload := s.toPayload(msg, domain.StatusSent)
	payload.SenderUsername = senderUsername
	s.fanout.ToRoom(ctx, roomID, wireEvent, payload, "")
	s.metrics.MessageSent()
	return payload, nil
}

// MarkDelivered advances one recipient's status row to "delivered" and tells
// the sender. Downgrades are no-ops at the storage layer, so replays and
// reordered receipts are harmless.
func (s *Service) MarkDelivered(ctx context.Context, messageID, recipientID string) error {
	const op = "chat.markDelivered"
	log := s.log.With(slog.String("op", op), slog.String("message_id", messageID))

	if err := s.messages.UpsertStatus(ctx, messageID, recipientID, domain.StatusDelivered); err != nil {
		log.Error("failed to upsert delivered status", sl.Err(err))
		return err
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		log.Warn("message lookup failed, sender not notified", sl.Err(err))
		return nil
	}

	if sid, ok := s.registry.SessionOf(msg.SenderID); ok {
		s.registry.EmitTo(sid, "message_status_update", map[string]any{
			"messageId": messageID,
			"userId":    recipientID,
			"status":    string(domain.StatusDelivered),
			"roomId":    msg.RoomID,
		})
	}
	return nil
}

// MarkRead bulk-advances every message in the room not authored by readerID
// to "read", then notifies each distinct sender in the room's history.
func (s *Service) MarkRead(ctx context.Context, roomID, readerID string) error {
	const op = "chat.markRead"
	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID), slog.String("reader_id", readerID))

	ids, err := s.messages.UnreadByOthers(ctx, roomID, readerID)
	if err != nil {
		log.Error("failed to list unread messages", sl.Err(err))
		return err
	}
	for _, id := range ids {
		if err := s.messages.UpsertStatus(ctx, id, readerID, domain.StatusRead); err != nil {
			log.Warn("failed to mark message read", slog.String("message_id", id), sl.Err(err))
		}
	}

	senders, err := s.messages.SendersInRoom(ctx, roomID)
	if err != nil {
		log.Warn("failed to list senders for read notification", sl.Err(err))
		return nil
	}
	for _, senderID := range senders {
		if senderID == readerID {
			continue
		}
		if sid, ok := s.registry.SessionOf(senderID); ok {
			s.registry.EmitTo(sid, "message_status_update", map[string]any{
				"roomId": roomID,
				"userId": readerID,
				"status": string(domain.StatusRead),
			})
		}
	}
	return nil
}

// History returns the room's messages newest-first with their aggregated
// delivery status (min across recipients, "sent" when no rows exist).
func (s *Service) History(ctx context.Context, roomID string, before time.Time, limit int) ([]*MessagePayload, error) {
	msgs, err := s.messages.History(ctx, roomID, before, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		statuses, err := s.messages.StatusesFor(ctx, m.ID)
		if err != nil {
			s.log.Warn("status aggregation failed", slog.String("message_id", m.ID), sl.Err(err))
			statuses = nil
		}
		levels := make([]domain.DeliveryStatus, 0, len(statuses))
		for _, st := range statuses {
			levels = append(levels, st.Status)
		}
		out = append(out, s.toPayload(m, domain.Aggregate(levels)))
	}
	return out, nil
}

// Edit updates a message's content in place and fans the edited payload out
// so connected clients can replace their copy.
func (s *Service) Edit(ctx context.Context, messageID, editorID, content string) (*MessagePayload, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != editorID {
		return nil, ErrNotAuthenticated
	}
	editedAt := time.Now().UTC()
	if err := s.messages.Edit(ctx, messageID, content, editedAt); err != nil {
		return nil, err
	}
	msg.Content = content
	msg.EditedAt = &editedAt

	payload := s.toPayload(msg, "")
	s.fanout.ToRoom(ctx, msg.RoomID, "message_edited", payload, "")
	return payload, nil
}

// StartPrivateChat returns the unique private room for (userID, targetID),
// creating it with both users as members on first call.
func (s *Service) StartPrivateChat(ctx context.Context, userID, targetID string) (*domain.Room, *domain.User, bool, error) {
	const op = "chat.startPrivateChat"

	room, created, err := s.rooms.GetOrCreatePrivate(ctx, userID, targetID)
	if err != nil {
		s.log.Error("failed to get or create private room", slog.String("op", op), sl.Err(err))
		return nil, nil, false, err
	}

	other, err := s.users.GetByID(ctx, targetID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, false, err
	}
	return room, other, created, nil
}

// CreateGroup creates a group room with createdBy as admin and memberIDs as
// members.
func (s *Service) CreateGroup(ctx context.Context, name, createdBy string, memberIDs []string) (*domain.Room, error) {
	const op = "chat.createGroup"
	log := s.log.With(slog.String("op", op), slog.String("created_by", createdBy))

	room := &domain.Room{ID: uuid.New().String(), Type: domain.RoomTypeGroup, Name: name}
	if err := s.rooms.Create(ctx, room); err != nil {
		log.Error("failed to create group room", sl.Err(err))
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.rooms.AddParticipant(ctx, &domain.Participant{
		RoomID: room.ID, UserID: createdBy, Role: domain.ParticipantRoleAdmin, JoinedAt: now,
	}); err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		if id == createdBy {
			continue
		}
		if err := s.rooms.AddParticipant(ctx, &domain.Participant{
			RoomID: room.ID, UserID: id, Role: domain.ParticipantRoleMember, JoinedAt: now,
		}); err != nil {
			log.Warn("failed to add member", slog.String("user_id", id), sl.Err(err))
		}
	}
	log.Info("group created", slog.String("room_id", room.ID), slog.Int("members", len(memberIDs)))
	return room, nil
}

// RoomWithParticipants is the get_rooms ack shape.
type RoomWithParticipants struct {
	Room         *domain.Room          `json:"room"`
	Participants []*domain.Participant `json:"participants"`
}

func (s *Service) RoomsForUser(ctx context.Context, userID string) ([]*RoomWithParticipants, error) {
	rooms, err := s.rooms.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*RoomWithParticipants, 0, len(rooms))
	for _, room := range rooms {
		participants, err := s.rooms.ActiveParticipants(ctx, room.ID)
		if err != nil {
			s.log.Warn("participant list failed", slog.String("room_id", room.ID), sl.Err(err))
		}
		out = append(out, &RoomWithParticipants{Room: room, Participants: participants})
	}
	return out, nil
}

func (s *Service) toPayload(m *domain.Message, status domain.DeliveryStatus) *MessagePayload {
	p := &MessagePayload{
		MessageID:      m.ID,
		RoomID:         m.RoomID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    string(m.Type),
		FileURL:        m.FileURL,
		Timestamp:      m.CreatedAt.UTC().Format(time.RFC3339Nano),
		DeliveryStatus: string(status),
	}
	if m.EditedAt != nil {
		p.EditedAt = m.EditedAt.UTC().Format(time.RFC3339Nano)
	}
	return p
}
