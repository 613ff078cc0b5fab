// Package sfu hosts the selective forwarding unit: per-room routers, the
// peer transport/producer/consumer graph, echo prevention, and producer
// discovery. Media rooms live only in memory and are owned exclusively by
// the Orchestrator.
package sfu

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/meshcall/core/internal/logging/sl"
	"github.com/meshcall/core/internal/metrics"
)

var (
	ErrRoomNotFound            = errors.New("media room not found")
	ErrPeerNotFound            = errors.New("peer not found in media room")
	ErrAlreadyJoined           = errors.New("peer already joined media room")
	ErrTransportNotFound       = errors.New("transport not found")
	ErrProducerNotFound        = errors.New("producer not found")
	ErrConsumerNotFound        = errors.New("consumer not found")
	ErrNoCapabilities          = errors.New("peer has not set rtp capabilities")
	ErrCannotConsume           = errors.New("cannot consume producer with given capabilities")
	ErrConsumeOwnProducer      = errors.New("Cannot consume own producer")
	ErrTransportWrongDirection = errors.New("transport direction does not allow this operation")
)

// Notifier delivers room-scoped events to sessions. The hub's registry
// satisfies it; tests drop in a recorder.
type Notifier interface {
	EmitTo(sessionID, event string, payload any) bool
}

// Observer receives the lifecycle hooks the recording controller keys its
// trigger policy on. Hooks run synchronously after the orchestrator's own
// state is settled.
type Observer interface {
	ProducerAdded(ctx context.Context, room *Room)
	PeerRemoved(ctx context.Context, room *Room)
	RoomClosed(ctx context.Context, room *Room)
}

type Orchestrator struct {
	log      *slog.Logger
	workers  *WorkerPool
	notifier Notifier
	metrics  *metrics.Metrics

	mu       sync.RWMutex
	rooms    map[string]*Room
	observer Observer
}

func NewOrchestrator(workers *WorkerPool, notifier Notifier, m *metrics.Metrics, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		log:      log,
		workers:  workers,
		notifier: notifier,
		metrics:  m,
		rooms:    make(map[string]*Room),
	}
}

// SetObserver wires the recording controller in. Must be called before any
// peer joins; the field is not guarded after startup.
func (o *Orchestrator) SetObserver(obs Observer) { o.observer = obs }

// getOrCreateRoom lazily allocates a room on the next worker round-robin.
func (o *Orchestrator) getOrCreateRoom(roomID string) *Room {
	o.mu.Lock()
	defer o.mu.Unlock()
	if room, ok := o.rooms[roomID]; ok {
		return room
	}
	room := newRoom(roomID, o.workers.Next())
	o.rooms[roomID] = room
	o.metrics.RoomOpened()
	o.log.Info("media room created", slog.String("room_id", roomID), slog.Int("worker", room.worker.Index))
	return room
}

func (o *Orchestrator) room(roomID string) (*Room, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	room, ok := o.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Join attaches sessionID to the room's peer graph and returns the router's
// RTP capabilities. The peer has no transports yet.
func (o *Orchestrator) Join(roomID, sessionID, username string) (RTPCapabilities, error) {
	room := o.getOrCreateRoom(roomID)
	peer := newPeer(sessionID, username)
	if !room.addPeer(peer) {
		return RTPCapabilities{}, ErrAlreadyJoined
	}
	o.metrics.PeerJoined()
	o.log.Info("peer joined media room",
		slog.String("room_id", roomID), slog.String("session_id", sessionID), slog.String("username", username))
	return room.Capabilities(), nil
}

// SetRTPCapabilities stores the client's decode capabilities; every
// subsequent consume consults them.
func (o *Orchestrator) SetRTPCapabilities(roomID, sessionID string, caps RTPCapabilities) error {
	room, err := o.room(roomID)
	if err != nil {
		return err
	}
	peer := room.peer(sessionID)
	if peer == nil {
		return ErrPeerNotFound
	}
	peer.setCapabilities(caps)
	return nil
}

// CreateTransport builds a WebRTC transport for the given direction and
// stores it on the peer. The returned descriptor carries the ICE/DTLS
// parameters the client needs to connect.
func (o *Orchestrator) CreateTransport(roomID, sessionID string, direction TransportDirection) (TransportDescriptor, error) {
	const op = "sfu.createTransport"

	room, err := o.room(roomID)
	if err != nil {
		return TransportDescriptor{}, err
	}
	peer := room.peer(sessionID)
	if peer == nil {
		return TransportDescriptor{}, ErrPeerNotFound
	}

	t, err := newTransport(room.worker, direction)
	if err != nil {
		o.log.Error("transport creation failed", slog.String("op", op), slog.String("room_id", roomID), sl.Err(err))
		room.worker.markDead(o.log, err)
		return TransportDescriptor{}, err
	}
	if old := peer.transport(direction); old != nil {
		old.Close()
	}
	peer.setTransport(direction, t)

	// A transport that closes underneath us (DTLS teardown) takes its
	// producers or consumers with it.
	t.OnClose(func() {
		if direction == DirectionSend {
			for _, prod := range peer.producerList() {
				prod.Close()
			}
		} else {
			for _, c := range peer.consumerList() {
				c.Close()
			}
		}
	})
	return t.Descriptor(), nil
}

// ConnectTransport performs the DTLS handshake on the transport identified
// by id, searched across all peers of the room.
func (o *Orchestrator) ConnectTransport(roomID, transportID string, params ConnectParameters) error {
	room, err := o.room(roomID)
	if err != nil {
		return err
	}
	t := room.findTransport(transportID)
	if t == nil {
		return ErrTransportNotFound
	}
	return t.Connect(params)
}

// Produce creates a producer on the peer's send transport, notifies every
// other session in the room with new_producer, and fires the recording
// trigger check. The notification is emitted only after the producer is
// installed, so a racing consume always finds it.
func (o *Orchestrator) Produce(ctx context.Context, roomID, sessionID, transportID string, kind MediaKind, params RTPParameters, appData map[string]any) (string, error) {
	const op = "sfu.produce"

	room, err := o.room(roomID)
	if err != nil {
		return "", err
	}
	peer := room.peer(sessionID)
	if peer == nil {
		return "", ErrPeerNotFound
	}
	t := peer.transportByID(transportID)
	if t == nil {
		return "", ErrTransportNotFound
	}
	if t.Direction() != DirectionSend {
		return "", ErrTransportWrongDirection
	}

	if appData == nil {
		appData = make(map[string]any)
	}
	appData["peerId"] = sessionID

	producer, err := newProducer(room.worker, t, sessionID, kind, params, appData, o.log)
	if err != nil {
		o.log.Error("produce failed", slog.String("op", op), slog.String("room_id", roomID), sl.Err(err))
		return "", err
	}
	peer.addProducer(producer)
	o.metrics.ProducerAdded()

	for _, other := range room.peerList() {
		if other.ID == sessionID {
			continue
		}
		o.notifier.EmitTo(other.ID, "new_producer", map[string]any{
			"producerId": producer.ID(),
			"peerId":     sessionID,
			"kind":       string(kind),
			"username":   peer.Username,
		})
	}

	o.log.Info("producer created",
		slog.String("room_id", roomID), slog.String("session_id", sessionID),
		slog.String("producer_id", producer.ID()), slog.String("kind", string(kind)))

	if o.observer != nil {
		o.observer.ProducerAdded(ctx, room)
	}
	return producer.ID(), nil
}

// Consume creates a paused consumer on the peer's recv transport against the
// named producer. Consuming your own producer is refused, and the peer must
// have published capabilities that cover the producer's kind.
func (o *Orchestrator) Consume(roomID, sessionID, producerID string) (ConsumerDescriptor, error) {
	const op = "sfu.consume"

	room, err := o.room(roomID)
	if err != nil {
		return ConsumerDescriptor{}, err
	}
	peer := room.peer(sessionID)
	if peer == nil {
		return ConsumerDescriptor{}, ErrPeerNotFound
	}

	producer, owner := room.ProducerOwner(producerID)
	if producer == nil {
		return ConsumerDescriptor{}, ErrProducerNotFound
	}
	if owner.ID == sessionID {
		return ConsumerDescriptor{}, ErrConsumeOwnProducer
	}

	caps := peer.capabilities()
	if caps == nil {
		return ConsumerDescriptor{}, ErrNoCapabilities
	}
	if !caps.CanConsume(string(producer.Kind())) {
		return ConsumerDescriptor{}, ErrCannotConsume
	}

	recv := peer.transport(DirectionRecv)
	if recv == nil {
		return ConsumerDescriptor{}, ErrTransportNotFound
	}

	consumer, err := newConsumer(room.worker, recv, producer, sessionID)
	if err != nil {
		o.log.Error("consume failed", slog.String("op", op), slog.String("room_id", roomID), sl.Err(err))
		return ConsumerDescriptor{}, err
	}
	peer.addConsumer(consumer)
	o.metrics.ConsumerAdded()

	return consumer.Descriptor(), nil
}

// ResumeConsumer unpauses a consumer once the client is ready to render.
func (o *Orchestrator) ResumeConsumer(roomID, sessionID, consumerID string) error {
	room, err := o.room(roomID)
	if err != nil {
		return err
	}
	peer := room.peer(sessionID)
	if peer == nil {
		return ErrPeerNotFound
	}
	c := peer.consumer(consumerID)
	if c == nil {
		return ErrConsumerNotFound
	}
	c.Resume()
	return nil
}

// Producers lists every producer in the room except the requester's own,
// annotated for subscription by late joiners.
func (o *Orchestrator) Producers(roomID, sessionID string) ([]ProducerInfo, error) {
	room, err := o.room(roomID)
	if err != nil {
		return nil, err
	}
	out := make([]ProducerInfo, 0)
	for _, p := range room.peerList() {
		if p.ID == sessionID {
			continue
		}
		for _, prod := range p.producerList() {
			out = append(out, ProducerInfo{
				ProducerID: prod.ID(),
				PeerID:     p.ID,
				Username:   p.Username,
				Kind:       prod.Kind(),
			})
		}
	}
	return out, nil
}

// RemovePeer tears the peer down (consumers, producers, transports, in that
// order), notifies the room, fires the recording stop policy, and destroys
// the room if it is now empty.
func (o *Orchestrator) RemovePeer(ctx context.Context, roomID, sessionID string) error {
	room, err := o.room(roomID)
	if err != nil {
		return err
	}
	peer := room.removePeer(sessionID)
	if peer == nil {
		return ErrPeerNotFound
	}

	consumers, producers := peer.close()
	for i := 0; i < consumers; i++ {
		o.metrics.ConsumerClosed()
	}
	for i := 0; i < producers; i++ {
		o.metrics.ProducerClosed()
	}
	o.metrics.PeerLeft()

	for _, other := range room.peerList() {
		o.notifier.EmitTo(other.ID, "peer_left", map[string]any{
			"peerId":   sessionID,
			"username": peer.Username,
		})
	}
	o.log.Info("peer left media room", slog.String("room_id", roomID), slog.String("session_id", sessionID))

	if o.observer != nil {
		o.observer.PeerRemoved(ctx, room)
	}

	if room.empty() {
		o.destroyRoom(ctx, roomID, room)
	}
	return nil
}

// RemoveSession removes the session from every room it joined — the
// connection supervisor's disconnect path.
func (o *Orchestrator) RemoveSession(ctx context.Context, sessionID string) {
	o.mu.RLock()
	var joined []string
	for id, room := range o.rooms {
		if room.peer(sessionID) != nil {
			joined = append(joined, id)
		}
	}
	o.mu.RUnlock()

	for _, roomID := range joined {
		if err := o.RemovePeer(ctx, roomID, sessionID); err != nil && !errors.Is(err, ErrPeerNotFound) && !errors.Is(err, ErrRoomNotFound) {
			o.log.Warn("disconnect cleanup failed", slog.String("room_id", roomID), sl.Err(err))
		}
	}
}

func (o *Orchestrator) destroyRoom(ctx context.Context, roomID string, room *Room) {
	o.mu.Lock()
	if current, ok := o.rooms[roomID]; !ok || current != room {
		o.mu.Unlock()
		return
	}
	delete(o.rooms, roomID)
	o.mu.Unlock()

	room.worker.roomCount.Add(-1)
	o.metrics.RoomClosed()
	o.log.Info("media room destroyed", slog.String("room_id", roomID))

	if o.observer != nil {
		o.observer.RoomClosed(ctx, room)
	}
}

// RoomIDs snapshots the live room ids, for shutdown and introspection.
func (o *Orchestrator) RoomIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.rooms))
	for id := range o.rooms {
		out = append(out, id)
	}
	return out
}

// Close drains every room, used on graceful shutdown.
func (o *Orchestrator) Close(ctx context.Context) {
	for _, roomID := range o.RoomIDs() {
		room, err := o.room(roomID)
		if err != nil {
			continue
		}
		for _, peer := range room.peerList() {
			_ = o.RemovePeer(ctx, roomID, peer.ID)
		}
	}
}
