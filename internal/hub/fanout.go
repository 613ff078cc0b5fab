package hub

import (
	"context"
	"log/slog"

	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/repository"
)

// Fanout resolves a room id to the set of connected sessions whose user is
// an active participant and emits an event to each exactly once. When the
// participant lookup fails it degrades to a full broadcast (minus exclude) —
// availability over privacy, deliberately, and always logged.
type Fanout struct {
	log      *slog.Logger
	registry *Registry
	rooms    repository.RoomRepository
	bridge   *Bridge
}

func NewFanout(registry *Registry, rooms repository.RoomRepository, bridge *Bridge, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{log: log, registry: registry, rooms: rooms, bridge: bridge}
}

// ToRoom emits event to every connected session of every active participant
// of roomID, except the session named by exclude. A user with several
// sessions receives the event on each of them; no session receives it twice.
func (f *Fanout) ToRoom(ctx context.Context, roomID, event string, payload any, exclude string) {
	f.ToRoomLocal(ctx, roomID, event, payload, exclude)
	if f.bridge != nil {
		f.bridge.Publish(ctx, roomID, event, payload, exclude)
	}
}

// ToRoomLocal is the node-local half of ToRoom: it never republishes, so the
// redis bridge uses it to deliver foreign events without echo loops.
func (f *Fanout) ToRoomLocal(ctx context.Context, roomID, event string, payload any, exclude string) {
	const op = "hub.fanout.toRoom"

	participants, err := f.rooms.ActiveParticipants(ctx, roomID)
	if err != nil {
		f.log.Warn("participant lookup failed, degrading to broadcast",
			slog.String("op", op), slog.String("room_id", roomID), slog.String("event", event), sl.Err(err))
		f.registry.BroadcastAll(event, payload, exclude)
		return
	}

	members := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		members[p.UserID] = struct{}{}
	}

	f.registry.mu.RLock()
	targets := make([]Emitter, 0, len(members))
	for sid, s := range f.registry.sessions {
		if sid == exclude || s.userID == "" {
			continue
		}
		if _, ok := members[s.userID]; ok {
			targets = append(targets, s.emitter)
		}
	}
	f.registry.mu.RUnlock()

	for _, em := range targets {
		em.Emit(event, payload)
	}
}
