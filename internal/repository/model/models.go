// Package model holds the gorm row structs. Conversion to/from
// internal/domain types happens in the repository package.
package model

import "time"

// User carries the credential columns (email, password hash) alongside the
// identity ones; domain.User deliberately never exposes them — only the
// identity service reads those two.
type User struct {
	ID           string `gorm:"primaryKey;size:64"`
	Username     string `gorm:"size:255;uniqueIndex;not null"`
	Email        string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255"`
	Status       string `gorm:"size:16;not null;default:pending"`
	Role         string `gorm:"size:16;not null;default:user"`
	IsOnline     bool   `gorm:"not null;default:false"`
	LastSeen     time.Time
}

type Room struct {
	ID           string `gorm:"primaryKey;size:64"`
	Type         string `gorm:"size:16;not null"`
	Name         string `gorm:"size:255"`
	PrivateKey   string `gorm:"size:129;uniqueIndex"` // sorted "userA:userB" for private rooms, empty for group
	Participants []Participant
}

type Participant struct {
	RoomID   string `gorm:"primaryKey;size:64"`
	UserID   string `gorm:"primaryKey;size:64"`
	Role     string `gorm:"size:16;not null;default:member"`
	JoinedAt time.Time
	LeftAt   *time.Time
}

type Message struct {
	ID        string `gorm:"primaryKey;size:64"`
	RoomID    string `gorm:"size:64;index;not null"`
	SenderID  string `gorm:"size:64;index;not null"`
	Content   string
	Type      string `gorm:"size:16;not null"`
	FileURL   string
	CreatedAt time.Time `gorm:"index"`
	EditedAt  *time.Time
}

type MessageStatus struct {
	MessageID string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	Status    string `gorm:"size:16;not null"`
}

type Call struct {
	ID          string `gorm:"primaryKey;size:64"`
	RoomID      string `gorm:"size:64;index;not null"`
	InitiatorID string `gorm:"size:64;not null"`
	CallType    string `gorm:"size:16;not null"`
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      string `gorm:"size:16;not null"`
}

type CallParticipant struct {
	CallID   string `gorm:"primaryKey;size:64"`
	UserID   string `gorm:"primaryKey;size:64"`
	JoinedAt time.Time
	LeftAt   *time.Time
	Answered bool
}

type RecordingArtifact struct {
	ID         string `gorm:"primaryKey;size:128"`
	RoomID     string `gorm:"size:64;index;not null"`
	CallID     string `gorm:"size:64;index"`
	Path       string `gorm:"not null"`
	HasVideo   bool
	StartedAt  time.Time
	EndedAt    time.Time
	DurationMS int64
}
