package domain

import "time"

type RoomType string

const (
	RoomTypePrivate RoomType = "private"
	RoomTypeGroup   RoomType = "group"
)

type ParticipantRole string

const (
	ParticipantRoleAdmin  ParticipantRole = "admin"
	ParticipantRoleMember ParticipantRole = "member"
)

// Room is the unit of chat addressing and media grouping. Private rooms hold
// exactly two active participants and are unique per unordered pair of users
// (enforced by the repository layer, see repository.RoomRepository.GetOrCreatePrivate).
type Room struct {
	ID   string
	Type RoomType
	Name string
}

// Participant is a row in a room's membership set. It is active iff LeftAt
// is nil.
type Participant struct {
	RoomID   string
	UserID   string
	Role     ParticipantRole
	JoinedAt time.Time
	LeftAt   *time.Time
}

func (p Participant) Active() bool {
	return p.LeftAt == nil
}
