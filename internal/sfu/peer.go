package sfu

import "sync"

// Peer is one session's media presence in a room. Its producers and
// consumers hang off its two transports and close transitively with them;
// teardown order is consumers, producers, transports.
type Peer struct {
	ID       string // session id
	Username string

	mu              sync.RWMutex
	rtpCapabilities *RTPCapabilities
	sendTransport   *Transport
	recvTransport   *Transport
	producers       map[string]*Producer
	consumers       map[string]*Consumer
}

func newPeer(sessionID, username string) *Peer {
	return &Peer{
		ID:        sessionID,
		Username:  username,
		producers: make(map[string]*Producer),
		consumers: make(map[string]*Consumer),
	}
}

func (p *Peer) setCapabilities(caps RTPCapabilities) {
	p.mu.Lock()
	p.rtpCapabilities = &caps
	p.mu.Unlock()
}

func (p *Peer) capabilities() *RTPCapabilities {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rtpCapabilities
}

func (p *Peer) setTransport(direction TransportDirection, t *Transport) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if direction == DirectionSend {
		p.sendTransport = t
	} else {
		p.recvTransport = t
	}
}

func (p *Peer) transport(direction TransportDirection) *Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if direction == DirectionSend {
		return p.sendTransport
	}
	return p.recvTransport
}

func (p *Peer) transportByID(id string) *Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.sendTransport != nil && p.sendTransport.ID() == id {
		return p.sendTransport
	}
	if p.recvTransport != nil && p.recvTransport.ID() == id {
		return p.recvTransport
	}
	return nil
}

func (p *Peer) addProducer(prod *Producer) {
	p.mu.Lock()
	p.producers[prod.ID()] = prod
	p.mu.Unlock()
}

func (p *Peer) addConsumer(c *Consumer) {
	p.mu.Lock()
	p.consumers[c.ID()] = c
	p.mu.Unlock()
}

func (p *Peer) consumer(id string) *Consumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consumers[id]
}

func (p *Peer) consumerList() []*Consumer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		out = append(out, c)
	}
	return out
}

func (p *Peer) producerList() []*Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Producer, 0, len(p.producers))
	for _, prod := range p.producers {
		out = append(out, prod)
	}
	return out
}

func (p *Peer) hasProducer() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.producers) > 0
}

// close tears the peer down: consumers first, then producers, then both
// transports. Counts are returned so the orchestrator can settle metrics.
func (p *Peer) close() (consumers, producers int) {
	p.mu.Lock()
	cs := p.consumers
	ps := p.producers
	send, recv := p.sendTransport, p.recvTransport
	p.consumers = make(map[string]*Consumer)
	p.producers = make(map[string]*Producer)
	p.sendTransport, p.recvTransport = nil, nil
	p.mu.Unlock()

	for _, c := range cs {
		c.Close()
	}
	for _, prod := range ps {
		prod.Close()
	}
	if send != nil {
		send.Close()
	}
	if recv != nil {
		recv.Close()
	}
	return len(cs), len(ps)
}
