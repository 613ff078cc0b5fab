package callsignal

import (
	"context"
	"sync"
	"testing"

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

type callFixture struct {
	svc    *Service
	calls  *repository.InMemoryCallRepository
	caller domain.Session
	callee domain.Session
	emA    *fakeEmitter
	emB    *fakeEmitter
}

func newCallFixture(t *testing.T) *callFixture {
	t.Helper()
	ctx := context.Background()

	users := repository.NewInMemoryUserRepository(
		&domain.User{ID: "alice", Username: "alice", Status: domain.UserStatusActive},
		&domain.User{ID: "bob", Username: "bob", Status: domain.UserStatusActive},
	)
	registry := hub.NewRegistry(users, nil, nil)
	calls := repository.NewInMemoryCallRepository()

	emA := &fakeEmitter{id: "s-alice"}
	emB := &fakeEmitter{id: "s-bob"}
	registry.Attach(emA)
	registry.Attach(emB)
	require.NoError(t, registry.Register(ctx, "s-alice", "alice", "alice"))
	require.NoError(t, registry.Register(ctx, "s-bob", "bob", "bob"))

	return &callFixture{
		svc:    NewService(calls, registry, nil),
		calls:  calls,
		caller: domain.Session{ID: "s-alice", UserID: "alice", Username: "alice"},
		callee: domain.Session{ID: "s-bob", UserID: "bob", Username: "bob"},
		emA:    emA,
		emB:    emB,
	}
}

func TestCallUser_RingsCallee(t *testing.T) {
	ctx := context.Background()
	f := newCallFixture(t)

	require.NoError(t, f.svc.CallUser(ctx, f.caller, "bob", "room1", "offer-sdp", true))

	call, err := f.calls.GetByRoomID(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, call.Status)
	assert.Equal(t, domain.CallTypeVideo, call.CallType)
	assert.Equal(t, "alice", call.InitiatorID)

	require.Len(t, f.emB.received("incoming_call"), 1)
	// Callee is online, so the caller hears ringing.
	require.Len(t, f.emA.received("call_ringing"), 1)
}

func TestCallUser_OfflineCalleeStillPersists(t *testing.T) {
	ctx := context.Background()
	f := newCallFixture(t)

	require.NoError(t, f.svc.CallUser(ctx, f.caller, "nobody", "room1", "offer", false))

	// No ringing back to the caller, but the call row exists.
	assert.Empty(t, f.emA.received("call_ringing"))
	call, err := f.calls.GetByRoomID(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, call.Status)
}

func TestAnswer_MovesCallToOngoing(t *testing.T) {
	ctx := context.Background()
	f := newCallFixture(t)

	require.NoError(t, f.svc.CallUser(ctx, f.caller, "bob", "room1", "offer", false))
	require.NoError(t, f.svc.Answer(ctx, f.callee, "s-alice", "room1", "answer-sdp"))

	call, err := f.calls.GetByRoomID(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusOngoing, call.Status)

	accepted := f.emA.received("call_accepted")
	require.Len(t, accepted, 1)
}

func TestReject_TerminatesRingingCall(t *testing.T) {
	ctx := context.Background()
	f := newCallFixture(t)

	require.NoError(t, f.svc.CallUser(ctx, f.caller, "bob", "room1", "offer", false))
	require.NoError(t, f.svc.Reject(ctx, f.callee, "s-alice", "room1"))

	call, err := f.calls.GetByRoomID(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRejected, call.Status)
	require.NotNil(t, call.EndedAt)

	require.Len(t, f.emA.received("call_rejected"), 1)

	// The mapping is gone; rejecting again finds no active call.
	assert.ErrorIs(t, f.svc.Reject(ctx, f.callee, "s-alice", "room1"), ErrCallNotFound)
}

func TestEnd_RingingBecomesMissed(t *testing.T) {
	ctx := context.Background()
	f := newCallFixture(t)

	require.NoError(t, f.svc.CallUser(ctx, f.caller, "bob", "room1", "offer", false))
	require.NoError(t, f.svc.End(ctx, f.caller, "bob", "room1"))

	call, err := f.calls.GetByRoomID(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusMissed, call.Status)
	require.NotNil(t, call.EndedAt)
	require.Len(t, f.emB.received("call_ended"), 1)
}

func TestEnd_OngoingBecomesCompleted(t *testing.T) {
	ctx := context.Background()
	f := newCallFixture(t)

	require.NoError(t, f.svc.CallUser(ctx, f.caller, "bob", "room1", "offer", false))
	require.NoError(t, f.svc.Answer(ctx, f.callee, "s-alice", "room1", "answer"))
	require.NoError(t, f.svc.End(ctx, f.caller, "bob", "room1"))

	call, err := f.calls.GetByRoomID(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusCompleted, call.Status)
}

func TestForwardICE_TagsSender(t *testing.T) {
	f := newCallFixture(t)

	f.svc.ForwardICE(f.caller, "bob", map[string]any{"candidate": "c"})

	got := f.emB.received("ice_candidate")
	require.Len(t, got, 1)
	payload := got[0].payload.(map[string]any)
	assert.Equal(t, "s-alice", payload["from"])
}

func TestHistory_EmptyWithoutRoom(t *testing.T) {
	f := newCallFixture(t)
	calls, err := f.svc.History(context.Background(), "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, calls)
}
