package domain

import "time"

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusOngoing   CallStatus = "ongoing"
	CallStatusCompleted CallStatus = "completed"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
)

// Call is keyed by RoomID for the lifetime of a single signalling session;
// see callsignal.Service for the state machine that drives Status.
type Call struct {
	ID          string
	RoomID      string
	InitiatorID string
	CallType    CallType
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      CallStatus
}

func (c *Call) Terminal() bool {
	switch c.Status {
	case CallStatusCompleted, CallStatusMissed, CallStatusRejected:
		return true
	default:
		return false
	}
}

type CallParticipant struct {
	CallID   string
	UserID   string
	JoinedAt time.Time
	LeftAt   *time.Time
	Answered bool
}
