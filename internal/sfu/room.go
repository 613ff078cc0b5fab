package sfu

import (
	"sync"
	"time"
)

// Room is the in-memory media room: one router (a worker slot) plus the peer
// graph. The orchestrator is its only owner; everything else reaches rooms
// through orchestrator operations.
type Room struct {
	ID        string
	CreatedAt time.Time

	worker *Worker

	mu    sync.RWMutex
	peers map[string]*Peer
}

func newRoom(id string, w *Worker) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		worker:    w,
		peers:     make(map[string]*Peer),
	}
}

// Capabilities returns the router's RTP capabilities — the fixed codec set
// every room shares.
func (r *Room) Capabilities() RTPCapabilities {
	return routerCapabilities()
}

func (r *Room) addPeer(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.peers[p.ID]; exists {
		return false
	}
	r.peers[p.ID] = p
	return true
}

func (r *Room) peer(sessionID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peers[sessionID]
}

func (r *Room) removePeer(sessionID string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.peers[sessionID]
	delete(r.peers, sessionID)
	return p
}

func (r *Room) peerList() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Room) empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers) == 0
}

// PeerCount is the number of attached peers, producing or not.
func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// ProducingPeerCount counts peers with at least one live producer — the
// quantity the recording trigger policy keys on.
func (r *Room) ProducingPeerCount() int {
	n := 0
	for _, p := range r.peerList() {
		if p.hasProducer() {
			n++
		}
	}
	return n
}

// Producers snapshots every producer in the room; each reports its owning
// peer through PeerID.
func (r *Room) Producers() []*Producer {
	var out []*Producer
	for _, p := range r.peerList() {
		out = append(out, p.producerList()...)
	}
	return out
}

// ProducerOwner locates a producer and the peer that owns it.
func (r *Room) ProducerOwner(producerID string) (*Producer, *Peer) {
	for _, p := range r.peerList() {
		for _, prod := range p.producerList() {
			if prod.ID() == producerID {
				return prod, p
			}
		}
	}
	return nil, nil
}

// findTransport searches all peers for the transport — connect_transport is
// addressed by transport id alone.
func (r *Room) findTransport(transportID string) *Transport {
	for _, p := range r.peerList() {
		if t := p.transportByID(transportID); t != nil {
			return t
		}
	}
	return nil
}

// Worker exposes the worker (router slot) the room was placed on.
func (r *Room) Worker() *Worker { return r.worker }
