package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		statuses []DeliveryStatus
		want     DeliveryStatus
	}{
		{"no rows defaults to sent", nil, StatusSent},
		{"all read", []DeliveryStatus{StatusRead, StatusRead}, StatusRead},
		{"one lagging recipient wins", []DeliveryStatus{StatusRead, StatusDelivered}, StatusDelivered},
		{"sent dominates", []DeliveryStatus{StatusRead, StatusSent, StatusDelivered}, StatusSent},
		{"single delivered", []DeliveryStatus{StatusDelivered}, StatusDelivered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.statuses))
		})
	}
}

func TestAdvances(t *testing.T) {
	assert.True(t, StatusDelivered.Advances(StatusSent))
	assert.True(t, StatusRead.Advances(StatusSent))
	assert.True(t, StatusRead.Advances(StatusDelivered))

	assert.False(t, StatusSent.Advances(StatusSent))
	assert.False(t, StatusSent.Advances(StatusDelivered))
	assert.False(t, StatusDelivered.Advances(StatusRead))
	assert.False(t, StatusRead.Advances(StatusRead))
}

func TestCallTerminal(t *testing.T) {
	for status, terminal := range map[CallStatus]bool{
		CallStatusRinging:   false,
		CallStatusOngoing:   false,
		CallStatusCompleted: true,
		CallStatusMissed:    true,
		CallStatusRejected:  true,
	} {
		c := Call{Status: status}
		assert.Equal(t, terminal, c.Terminal(), "status %s", status)
	}
}
