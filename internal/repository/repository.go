// Package repository defines the typed query surface over the relational
// store. The core never issues raw SQL; every durable read/write goes through
// one of these interfaces, each backed by a gorm implementation
// (postgres.go) with an in-memory twin (memory.go) used in tests.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/meshcall/core/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	SetOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error
	List(ctx context.Context, limit, offset int) ([]*domain.User, error)
	ListByStatus(ctx context.Context, status domain.UserStatus, limit, offset int) ([]*domain.User, error)
	SetStatus(ctx context.Context, id string, status domain.UserStatus) error
}

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id string) (*domain.Room, error)
	// GetOrCreatePrivate returns the unique private room for the unordered
	// pair (userA, userB), creating it on first call. created reports
	// whether this call created it.
	GetOrCreatePrivate(ctx context.Context, userA, userB string) (room *domain.Room, created bool, err error)
	ListForUser(ctx context.Context, userID string) ([]*domain.Room, error)
	AddParticipant(ctx context.Context, p *domain.Participant) error
	RemoveParticipant(ctx context.Context, roomID, userID string) error
	ActiveParticipants(ctx context.Context, roomID string) ([]*domain.Participant, error)
	IsActiveParticipant(ctx context.Context, roomID, userID string) (bool, error)
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	Edit(ctx context.Context, id, content string, editedAt time.Time) error
	History(ctx context.Context, roomID string, before time.Time, limit int) ([]*domain.Message, error)
	// UpsertStatus advances a recipient's status for a message, no-op if the
	// requested status does not advance the current one.
	UpsertStatus(ctx context.Context, messageID, userID string, status domain.DeliveryStatus) error
	StatusesFor(ctx context.Context, messageID string) ([]domain.MessageStatus, error)
	// SendersInRoom returns the distinct sender ids among the room's whole
	// history, used to fan out read receipts.
	SendersInRoom(ctx context.Context, roomID string) ([]string, error)
	// UnreadByOthers returns the ids of every message in roomID authored by
	// someone other than excludeSenderID. It does not filter by delivery
	// status; messages already read are left as they are by UpsertStatus.
	UnreadByOthers(ctx context.Context, roomID, excludeSenderID string) ([]string, error)
}

type RecordingRepository interface {
	Create(ctx context.Context, rec *domain.RecordingArtifact) error
	ListByCall(ctx context.Context, callID string) ([]*domain.RecordingArtifact, error)
}

type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, id string) (*domain.Call, error)
	GetByRoomID(ctx context.Context, roomID string) (*domain.Call, error)
	UpdateStatus(ctx context.Context, id string, status domain.CallStatus, endedAt *time.Time) error
	AddParticipant(ctx context.Context, p *domain.CallParticipant) error
	MarkAnswered(ctx context.Context, callID, userID string) error
	History(ctx context.Context, roomID string, limit, offset int) ([]*domain.Call, error)
}
