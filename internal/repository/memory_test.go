package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/meshcall/core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreatePrivate_Dedup(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx := context.Background()

	r1, created, err := repo.GetOrCreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.RoomTypePrivate, r1.Type)

	// Reversed order resolves to the same room and creates nothing.
	r2, created, err := repo.GetOrCreatePrivate(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r1.ID, r2.ID)

	participants, err := repo.ActiveParticipants(ctx, r1.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestGetOrCreatePrivate_ConcurrentSingleCreation(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx := context.Background()

	const callers = 16
	var wg sync.WaitGroup
	createdCount := make(chan bool, callers)
	ids := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(flip bool) {
			defer wg.Done()
			a, b := "alice", "bob"
			if flip {
				a, b = b, a
			}
			room, created, err := repo.GetOrCreatePrivate(ctx, a, b)
			require.NoError(t, err)
			createdCount <- created
			ids <- room.ID
		}(i%2 == 0)
	}
	wg.Wait()
	close(createdCount)
	close(ids)

	creations := 0
	for c := range createdCount {
		if c {
			creations++
		}
	}
	assert.Equal(t, 1, creations)

	var first string
	for id := range ids {
		if first == "" {
			first = id
		}
		assert.Equal(t, first, id)
	}
}

func TestUpsertStatus_Monotonic(t *testing.T) {
	repo := NewInMemoryMessageRepository()
	ctx := context.Background()

	msg := &domain.Message{RoomID: "r1", SenderID: "alice", Content: "hi", Type: domain.MessageTypeText}
	require.NoError(t, repo.Create(ctx, msg))

	require.NoError(t, repo.UpsertStatus(ctx, msg.ID, "bob", domain.StatusSent))
	require.NoError(t, repo.UpsertStatus(ctx, msg.ID, "bob", domain.StatusRead))
	// Late-arriving delivered receipt must not regress read.
	require.NoError(t, repo.UpsertStatus(ctx, msg.ID, "bob", domain.StatusDelivered))

	statuses, err := repo.StatusesFor(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.StatusRead, statuses[0].Status)
}

func TestUpsertStatus_RandomInterleavings(t *testing.T) {
	repo := NewInMemoryMessageRepository()
	ctx := context.Background()

	msg := &domain.Message{RoomID: "r1", SenderID: "alice", Type: domain.MessageTypeText}
	require.NoError(t, repo.Create(ctx, msg))

	recipients := []string{"bob", "carol", "dave"}
	var wg sync.WaitGroup
	for _, rec := range recipients {
		for _, status := range []domain.DeliveryStatus{domain.StatusSent, domain.StatusDelivered, domain.StatusRead} {
			wg.Add(1)
			go func(rec string, status domain.DeliveryStatus) {
				defer wg.Done()
				_ = repo.UpsertStatus(ctx, msg.ID, rec, status)
			}(rec, status)
		}
	}
	wg.Wait()

	// Whatever the interleaving, every recipient ends at the maximum status
	// it was ever offered.
	statuses, err := repo.StatusesFor(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, statuses, len(recipients))
	for _, st := range statuses {
		assert.Equal(t, domain.StatusRead, st.Status, "recipient %s", st.UserID)
	}
}

func TestUnreadByOthersExcludesOwnMessages(t *testing.T) {
	repo := NewInMemoryMessageRepository()
	ctx := context.Background()

	mine := &domain.Message{RoomID: "r1", SenderID: "bob", Type: domain.MessageTypeText}
	theirs := &domain.Message{RoomID: "r1", SenderID: "alice", Type: domain.MessageTypeText}
	require.NoError(t, repo.Create(ctx, mine))
	require.NoError(t, repo.Create(ctx, theirs))

	ids, err := repo.UnreadByOthers(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{theirs.ID}, ids)
}

func TestCallRepositoryLifecycle(t *testing.T) {
	repo := NewInMemoryCallRepository()
	ctx := context.Background()

	call := &domain.Call{RoomID: "r1", InitiatorID: "alice", CallType: domain.CallTypeAudio, Status: domain.CallStatusRinging}
	require.NoError(t, repo.Create(ctx, call))

	got, err := repo.GetByRoomID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, got.Status)

	// Empty room id yields an empty history.
	empty, err := repo.History(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
