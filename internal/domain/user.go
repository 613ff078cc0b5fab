package domain

import "time"

type UserStatus string

const (
	UserStatusPending  UserStatus = "pending"
	UserStatusActive   UserStatus = "active"
	UserStatusRejected UserStatus = "rejected"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// User is the durable identity the core reads but never creates. Registration,
// password verification and token issuance live in the identity package;
// this struct mirrors only the columns the rest of the core needs.
type User struct {
	ID       string
	Username string
	Status   UserStatus
	Role     UserRole
	IsOnline bool
	LastSeen time.Time
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == UserRoleAdmin
}
