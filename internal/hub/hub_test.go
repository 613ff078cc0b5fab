package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meshcall/core/internal/domain"
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

func newFakeEmitter(id string) *fakeEmitter { return &fakeEmitter{id: id} }

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

func seedUsers(ids ...string) *repository.InMemoryUserRepository {
	users := make([]*domain.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, &domain.User{ID: id, Username: id, Status: domain.UserStatusActive})
	}
	return repository.NewInMemoryUserRepository(users...)
}

func TestRegistry_PresenceFollowsSessions(t *testing.T) {
	ctx := context.Background()
	users := seedUsers("alice")
	reg := NewRegistry(users, nil, nil)

	s1 := newFakeEmitter("s1")
	s2 := newFakeEmitter("s2")
	reg.Attach(s1)
	reg.Attach(s2)

	require.NoError(t, reg.Register(ctx, "s1", "alice", "alice"))
	require.NoError(t, reg.Register(ctx, "s2", "alice", "alice"))

	u, err := users.GetByID(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)

	// First session gone: user still online through the second.
	reg.Unregister(ctx, "s1")
	u, _ = users.GetByID(ctx, "alice")
	assert.True(t, u.IsOnline)

	// Last session gone: user offline, broadcast went out.
	reg.Unregister(ctx, "s2")
	u, _ = users.GetByID(ctx, "alice")
	assert.False(t, u.IsOnline)
}

func TestRegistry_OnlineUsersDeduplicates(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(seedUsers("alice", "bob"), nil, nil)

	for _, sid := range []string{"s1", "s2", "s3"} {
		reg.Attach(newFakeEmitter(sid))
	}
	require.NoError(t, reg.Register(ctx, "s1", "alice", "alice"))
	require.NoError(t, reg.Register(ctx, "s2", "alice", "alice"))
	require.NoError(t, reg.Register(ctx, "s3", "bob", "bob"))

	online := reg.OnlineUsers()
	assert.Len(t, online, 2)
}

func TestRegistry_Resolve(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(seedUsers("alice"), nil, nil)
	reg.Attach(newFakeEmitter("s1"))
	require.NoError(t, reg.Register(ctx, "s1", "alice", "alice"))

	// Session ids resolve to themselves, user ids to a session.
	sid, ok := reg.Resolve("s1")
	assert.True(t, ok)
	assert.Equal(t, "s1", sid)

	sid, ok = reg.Resolve("alice")
	assert.True(t, ok)
	assert.Equal(t, "s1", sid)

	_, ok = reg.Resolve("nobody")
	assert.False(t, ok)
}

func TestRegistry_AnonymousSessionObservesBroadcasts(t *testing.T) {
	reg := NewRegistry(seedUsers(), nil, nil)
	anon := newFakeEmitter("anon")
	reg.Attach(anon)

	reg.BroadcastAll("user_status_changed", map[string]any{"userId": "x"}, "")
	assert.Len(t, anon.received("user_status_changed"), 1)

	sess, ok := reg.UserOf("anon")
	require.True(t, ok)
	assert.False(t, sess.Authenticated())
}

func TestFanout_RoomScoped(t *testing.T) {
	ctx := context.Background()
	rooms := repository.NewInMemoryRoomRepository()
	reg := NewRegistry(seedUsers("alice", "bob", "carol"), nil, nil)

	room, _, err := rooms.GetOrCreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	emitters := map[string]*fakeEmitter{}
	for i, user := range []string{"alice", "bob", "carol"} {
		sid := []string{"s1", "s2", "s3"}[i]
		em := newFakeEmitter(sid)
		emitters[user] = em
		reg.Attach(em)
		require.NoError(t, reg.Register(ctx, sid, user, user))
	}

	f := NewFanout(reg, rooms, nil, nil)
	f.ToRoom(ctx, room.ID, "receive_private_message", map[string]any{"content": "hi"}, "")

	assert.Len(t, emitters["alice"].received("receive_private_message"), 1)
	assert.Len(t, emitters["bob"].received("receive_private_message"), 1)
	assert.Empty(t, emitters["carol"].received("receive_private_message"))
}

func TestFanout_ExcludesOriginator(t *testing.T) {
	ctx := context.Background()
	rooms := repository.NewInMemoryRoomRepository()
	reg := NewRegistry(seedUsers("alice", "bob"), nil, nil)
	room, _, err := rooms.GetOrCreatePrivate(ctx, "alice", "bob")
	require.NoError(t, err)

	a := newFakeEmitter("s1")
	b := newFakeEmitter("s2")
	reg.Attach(a)
	reg.Attach(b)
	require.NoError(t, reg.Register(ctx, "s1", "alice", "alice"))
	require.NoError(t, reg.Register(ctx, "s2", "bob", "bob"))

	f := NewFanout(reg, rooms, nil, nil)
	f.ToRoom(ctx, room.ID, "user_typing", map[string]any{"userId": "alice"}, "s1")

	assert.Empty(t, a.received("user_typing"))
	assert.Len(t, b.received("user_typing"), 1)
}

// failingRooms breaks participant lookup to exercise the broadcast fallback.
type failingRooms struct {
	repository.RoomRepository
}

func (failingRooms) ActiveParticipants(context.Context, string) ([]*domain.Participant, error) {
	return nil, errors.New("boom")
}

func TestFanout_DegradesToBroadcastOnLookupFailure(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(seedUsers("alice", "carol"), nil, nil)

	a := newFakeEmitter("s1")
	c := newFakeEmitter("s3")
	reg.Attach(a)
	reg.Attach(c)
	require.NoError(t, reg.Register(ctx, "s1", "alice", "alice"))
	require.NoError(t, reg.Register(ctx, "s3", "carol", "carol"))

	f := NewFanout(reg, failingRooms{}, nil, nil)
	f.ToRoom(ctx, "whatever", "receive_group_message", map[string]any{"content": "hi"}, "s1")

	// Everyone except the excluded session receives the event.
	assert.Empty(t, a.received("receive_group_message"))
	assert.Len(t, c.received("receive_group_message"), 1)
}

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(seedUsers("alice", "bob"), nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sid := string(rune('a' + i))
		em := newFakeEmitter(sid)
		reg.Attach(em)
		wg.Add(1)
		go func(sid string, user string) {
			defer wg.Done()
			_ = reg.Register(ctx, sid, user, user)
			time.Sleep(time.Millisecond)
			reg.Unregister(ctx, sid)
		}(sid, []string{"alice", "bob"}[i%2])
	}
	wg.Wait()

	assert.Empty(t, reg.OnlineUsers())
}
