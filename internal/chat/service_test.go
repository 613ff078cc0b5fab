package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/meshcall/core/internal/domain"
	"github.com/meshcall/core/internal/hub"
	"github.com/meshcall/core/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload any
}

type fakeEmitter struct {
	id string

	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) SessionID() string { return f.id }

func (f *fakeEmitter) Emit(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event: event, payload: payload})
}

func (f *fakeEmitter) received(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	rooms    *repository.InMemoryRoomRepository
	messages *repository.InMemoryMessageRepository
	registry *hub.Registry
	emitters map[string]*fakeEmitter
	roomID   string
}

// newFixture wires alice and bob into one private room with live sessions.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	users := repository.NewInMemoryUserRepository(
		&domain.User{ID: "alice", Username: "alice", Status: domain.UserStatusActive},
		&domain.User{ID: "bob", Username: "bob", Status: domain.UserStatusActive},
	)
	rooms := repository.NewInMemoryRoomRepository()
	messages := repository.NewInMemoryMessageRepository()
	registry := hub.NewRegistry(users, nil, nil)
	fanout := hub.NewFanout(registry, rooms, nil, nil)

	room, _, err := rooms.GetOrCreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	f := &fixture{
		svc:      NewService(rooms, messages, users, registry, fanout, nil, nil),
		rooms:    rooms,
		messages: messages,
		registry: registry,
		emitters: map[string]*fakeEmitter{},
		roomID:   room.ID,
	}
	for i, user := range []string{"alice", "bob"} {
		sid := []string{"s-alice", "s-bob"}[i]
		em := &fakeEmitter{id: sid}
		f.emitters[user] = em
		registry.Attach(em)
		require.NoError(t, registry.Register(ctx, sid, user, user))
	}
	return f
}

func TestSend_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload, err := f.svc.Send(ctx, f.roomID, "alice", "alice", "hi", domain.MessageTypeText, "", "receive_group_message")
	require.NoError(t, err)
	require.NotEmpty(t, payload.MessageID)
	assert.Equal(t, "text", payload.MessageType)

	// Both participants receive the message, sender echo included.
	got := f.emitters["bob"].received("receive_group_message")
	require.Len(t, got, 1)
	received := got[0].payload.(*MessagePayload)
	assert.Equal(t, "hi", received.Content)
	assert.Equal(t, payload.MessageID, received.MessageID)
	assert.Len(t, f.emitters["alice"].received("receive_group_message"), 1)

	// Bob got a "sent" status row, alice none.
	statuses, err := f.messages.StatusesFor(ctx, payload.MessageID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "bob", statuses[0].UserID)
	assert.Equal(t, domain.StatusSent, statuses[0].Status)
}

func TestSend_RequiresAuthenticatedSender(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Send(context.Background(), f.roomID, "", "", "hi", domain.MessageTypeText, "", "receive_group_message")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestMarkDelivered_NotifiesSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload, err := f.svc.Send(ctx, f.roomID, "alice", "alice", "hi", domain.MessageTypeText, "", "receive_group_message")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkDelivered(ctx, payload.MessageID, "bob"))

	updates := f.emitters["alice"].received("message_status_update")
	require.Len(t, updates, 1)
	update := updates[0].payload.(map[string]any)
	assert.Equal(t, payload.MessageID, update["messageId"])
	assert.Equal(t, "delivered", update["status"])
	assert.Equal(t, "bob", update["userId"])

	statuses, _ := f.messages.StatusesFor(ctx, payload.MessageID)
	assert.Equal(t, domain.StatusDelivered, statuses[0].Status)
}

func TestMarkRead_NotifiesEverySender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p1, err := f.svc.Send(ctx, f.roomID, "alice", "alice", "one", domain.MessageTypeText, "", "receive_group_message")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, f.roomID, "alice", "alice", "two", domain.MessageTypeText, "", "receive_group_message")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkRead(ctx, f.roomID, "bob"))

	// Alice is the only sender; one read notification.
	updates := f.emitters["alice"].received("message_status_update")
	require.Len(t, updates, 1)
	update := updates[0].payload.(map[string]any)
	assert.Equal(t, "read", update["status"])
	assert.Equal(t, "bob", update["userId"])

	statuses, _ := f.messages.StatusesFor(ctx, p1.MessageID)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.StatusRead, statuses[0].Status)
}

func TestHistory_AggregatesDeliveryStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.svc.Send(ctx, f.roomID, "alice", "alice", "hi", domain.MessageTypeText, "", "receive_group_message")
	require.NoError(t, err)

	history, err := f.svc.History(ctx, f.roomID, timeZero(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "sent", history[0].DeliveryStatus)

	require.NoError(t, f.svc.MarkDelivered(ctx, p.MessageID, "bob"))
	history, err = f.svc.History(ctx, f.roomID, timeZero(), 10)
	require.NoError(t, err)
	assert.Equal(t, "delivered", history[0].DeliveryStatus)
}

func TestStartPrivateChat_CreatedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	room1, _, created, err := f.svc.StartPrivateChat(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, created) // fixture already created it

	room2, other, created, err := f.svc.StartPrivateChat(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room1.ID, room2.ID)
	require.NotNil(t, other)
	assert.Equal(t, "alice", other.ID)
}

func TestCreateGroup_AddsCreatorAsAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	room, err := f.svc.CreateGroup(ctx, "team", "alice", []string{"bob"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoomTypeGroup, room.Type)

	participants, err := f.rooms.ActiveParticipants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, participants, 2)
	roles := map[string]domain.ParticipantRole{}
	for _, p := range participants {
		roles[p.UserID] = p.Role
	}
	assert.Equal(t, domain.ParticipantRoleAdmin, roles["alice"])
	assert.Equal(t, domain.ParticipantRoleMember, roles["bob"])
}

func timeZero() time.Time { return time.Time{} }
