package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/meshcall/core/internal/logging/sl"
	"github.com/redis/go-redis/v9"
)

const (
	broadcastChannel = "hub:broadcast"
	onlineSetKey     = "hub:online_users"
)

// Presence is the redis-backed online-users cache. The in-process Registry
// stays authoritative for this node; the cache lets other consumers (health
// checks, sibling instances) read presence without touching the database.
type Presence struct {
	rdb *redis.Client
}

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{rdb: rdb}
}

func (p *Presence) SetOnline(ctx context.Context, userID string) error {
	return p.rdb.SAdd(ctx, onlineSetKey, userID).Err()
}

func (p *Presence) SetOffline(ctx context.Context, userID string) error {
	return p.rdb.SRem(ctx, onlineSetKey, userID).Err()
}

func (p *Presence) Online(ctx context.Context) ([]string, error) {
	return p.rdb.SMembers(ctx, onlineSetKey).Result()
}

// envelope is the wire form a room event takes on the redis channel.
type envelope struct {
	Origin  string          `json:"origin"`
	RoomID  string          `json:"roomId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Exclude string          `json:"exclude,omitempty"`
}

// Bridge republishes room events over redis pub/sub so sessions connected to
// a sibling process still receive them. Messages carry the origin instance
// id; the listener drops its own publications to avoid double delivery.
type Bridge struct {
	log      *slog.Logger
	rdb      *redis.Client
	instance string

	// deliver resolves roomID to local targets on the receiving side. Set by
	// Run to the fan-out's local path; kept as a field so tests can stub it.
	deliver func(ctx context.Context, roomID, event string, payload any, exclude string)
}

func NewBridge(rdb *redis.Client, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{
		log:      log,
		rdb:      rdb,
		instance: uuid.NewString(),
	}
}

// Publish pushes a room event onto the shared channel. Publish failures are
// logged, never propagated: the local fan-out already happened.
func (b *Bridge) Publish(ctx context.Context, roomID, event string, payload any, exclude string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("bridge payload marshal failed", slog.String("event", event), sl.Err(err))
		return
	}
	env := envelope{Origin: b.instance, RoomID: roomID, Event: event, Payload: raw, Exclude: exclude}
	data, err := json.Marshal(env)
	if err != nil {
		b.log.Warn("bridge envelope marshal failed", sl.Err(err))
		return
	}
	if err := b.rdb.Publish(ctx, broadcastChannel, data).Err(); err != nil {
		b.log.Warn("bridge publish failed", slog.String("event", event), sl.Err(err))
	}
}

// Run subscribes to the broadcast channel and re-delivers foreign events to
// this node's sessions until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, deliver func(ctx context.Context, roomID, event string, payload any, exclude string)) {
	b.deliver = deliver
	pubsub := b.rdb.Subscribe(ctx, broadcastChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("bridge envelope unmarshal failed", sl.Err(err))
				continue
			}
			if env.Origin == b.instance {
				continue
			}
			deliverCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			b.deliver(deliverCtx, env.RoomID, env.Event, json.RawMessage(env.Payload), env.Exclude)
			cancel()
		}
	}
}
