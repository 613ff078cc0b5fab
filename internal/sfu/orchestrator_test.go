package sfu

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notification struct {
	sessionID string
	event     string
	payload   any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (f *fakeNotifier) EmitTo(sessionID, event string, payload any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notification{sessionID, event, payload})
	return true
}

func (f *fakeNotifier) received(sessionID, event string) []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notification
	for _, n := range f.events {
		if n.sessionID == sessionID && n.event == event {
			out = append(out, n)
		}
	}
	return out
}

type fakeObserver struct {
	mu            sync.Mutex
	producerAdded int
	peerRemoved   int
	roomClosed    int
}

func (f *fakeObserver) ProducerAdded(context.Context, *Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producerAdded++
}

func (f *fakeObserver) PeerRemoved(context.Context, *Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peerRemoved++
}

func (f *fakeObserver) RoomClosed(context.Context, *Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomClosed++
}

// testProducer builds a producer without any live media plumbing. The relay
// goroutine never starts; that path is owned by the transport stack.
func testProducer(id, peerID string, kind MediaKind) *Producer {
	codec := RTPCodecParameters{MimeType: webrtc.MimeTypeOpus, PayloadType: 111, ClockRate: 48000, Channels: 2}
	if kind == KindVideo {
		codec = RTPCodecParameters{MimeType: webrtc.MimeTypeVP8, PayloadType: 96, ClockRate: 90000}
	}
	return &Producer{
		id:     id,
		peerID: peerID,
		kind:   kind,
		params: RTPParameters{
			Codecs:    []RTPCodecParameters{codec},
			Encodings: []RTPEncodingParameters{{SSRC: 424242}},
		},
		appData: map[string]any{"peerId": peerID},
		sinks:   make(map[string]rtpSink),
		done:    make(chan struct{}),
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeNotifier, *fakeObserver) {
	t.Helper()
	workers, err := NewWorkerPool("", 0, 0)
	require.NoError(t, err)
	notifier := &fakeNotifier{}
	o := NewOrchestrator(workers, notifier, nil, nil)
	obs := &fakeObserver{}
	o.SetObserver(obs)
	return o, notifier, obs
}

func TestJoin_ReturnsRouterCapabilities(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	caps, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)
	assert.Len(t, caps.Codecs, 3)
	assert.True(t, caps.CanConsume("audio"))
	assert.True(t, caps.CanConsume("video"))

	_, err = o.Join("room1", "s1", "alice")
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestConsume_OwnProducerRefused(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)
	room, err := o.room("room1")
	require.NoError(t, err)

	prod := testProducer("p1", "s1", KindAudio)
	room.peer("s1").addProducer(prod)

	_, err = o.Consume("room1", "s1", "p1")
	assert.ErrorIs(t, err, ErrConsumeOwnProducer)
	assert.Equal(t, "Cannot consume own producer", err.Error())
}

func TestConsume_RequiresCapabilities(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)
	_, err = o.Join("room1", "s2", "bob")
	require.NoError(t, err)

	room, _ := o.room("room1")
	room.peer("s1").addProducer(testProducer("p1", "s1", KindVideo))

	_, err = o.Consume("room1", "s2", "p1")
	assert.ErrorIs(t, err, ErrNoCapabilities)

	// Audio-only capabilities cannot consume a video producer.
	require.NoError(t, o.SetRTPCapabilities("room1", "s2", RTPCapabilities{Codecs: []CodecCapability{
		{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, PayloadType: 111},
	}}))
	_, err = o.Consume("room1", "s2", "p1")
	assert.ErrorIs(t, err, ErrCannotConsume)
}

func TestConsume_UnknownProducer(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	_, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)

	_, err = o.Consume("room1", "s1", "missing")
	assert.ErrorIs(t, err, ErrProducerNotFound)
}

func TestProducers_ExcludesRequester(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)
	_, err = o.Join("room1", "s2", "bob")
	require.NoError(t, err)

	room, _ := o.room("room1")
	room.peer("s1").addProducer(testProducer("p1", "s1", KindAudio))
	room.peer("s2").addProducer(testProducer("p2", "s2", KindVideo))

	list, err := o.Producers("room1", "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "p2", list[0].ProducerID)
	assert.Equal(t, "s2", list[0].PeerID)
	assert.Equal(t, "bob", list[0].Username)
	assert.Equal(t, KindVideo, list[0].Kind)
}

func TestRemovePeer_NotifiesRoomAndDestroysWhenEmpty(t *testing.T) {
	o, notifier, obs := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)
	_, err = o.Join("room1", "s2", "bob")
	require.NoError(t, err)

	require.NoError(t, o.RemovePeer(ctx, "room1", "s1"))
	assert.Len(t, notifier.received("s2", "peer_left"), 1)
	assert.Equal(t, 1, obs.peerRemoved)
	assert.Len(t, o.RoomIDs(), 1)

	// Last peer out: the room entry disappears and the closed hook fires.
	require.NoError(t, o.RemovePeer(ctx, "room1", "s2"))
	assert.Empty(t, o.RoomIDs())
	assert.Equal(t, 1, obs.roomClosed)

	_, err = o.room("room1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRemoveSession_SweepsEveryRoom(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)
	_, err = o.Join("room2", "s1", "alice")
	require.NoError(t, err)

	o.RemoveSession(ctx, "s1")
	assert.Empty(t, o.RoomIDs())
}

func TestProducingPeerCount(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	_, err := o.Join("room1", "s1", "alice")
	require.NoError(t, err)
	_, err = o.Join("room1", "s2", "bob")
	require.NoError(t, err)

	room, _ := o.room("room1")
	assert.Equal(t, 0, room.ProducingPeerCount())

	room.peer("s1").addProducer(testProducer("p1", "s1", KindAudio))
	assert.Equal(t, 1, room.ProducingPeerCount())

	room.peer("s2").addProducer(testProducer("p2", "s2", KindAudio))
	assert.Equal(t, 2, room.ProducingPeerCount())
	assert.Equal(t, 2, room.PeerCount())
}

func TestWorkerPool_RoundRobin(t *testing.T) {
	pool, err := NewWorkerPool("", 0, 0)
	require.NoError(t, err)

	seen := make(map[int]int)
	n := len(pool.Workers())
	for i := 0; i < n*2; i++ {
		seen[pool.Next().Index]++
	}
	for idx, count := range seen {
		assert.Equal(t, 2, count, "worker %d", idx)
	}
}
