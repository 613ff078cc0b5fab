package sfu

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

// Transport is one WebRTC transport of a peer, built from the ORTC-level
// pion primitives so the wire contract can exchange ICE/DTLS parameters
// instead of full SDP. The server side is always the controlled ICE agent;
// the client dials in.
type Transport struct {
	id        string
	direction TransportDirection
	worker    *Worker

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	localICE        webrtc.ICEParameters
	localCandidates []webrtc.ICECandidate
	localDTLS       webrtc.DTLSParameters

	mu        sync.Mutex
	connected bool
	closed    bool
	onClose   func()
}

func newTransport(w *Worker, direction TransportDirection) (*Transport, error) {
	gatherer, err := w.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}

	ice := w.api.NewICETransport(gatherer)

	dtls, err := w.api.NewDTLSTransport(ice, []webrtc.Certificate{w.certificate})
	if err != nil {
		return nil, fmt.Errorf("dtls transport: %w", err)
	}

	t := &Transport{
		id:        uuid.New().String(),
		direction: direction,
		worker:    w,
		gatherer:  gatherer,
		ice:       ice,
		dtls:      dtls,
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-gatherDone:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("ice gather timed out")
	}

	t.localCandidates, err = gatherer.GetLocalCandidates()
	if err != nil {
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	t.localICE, err = gatherer.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	t.localDTLS, err = dtls.GetLocalParameters()
	if err != nil {
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	dtls.OnStateChange(func(state webrtc.DTLSTransportState) {
		if state == webrtc.DTLSTransportStateClosed || state == webrtc.DTLSTransportStateFailed {
			t.Close()
		}
	})

	return t, nil
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) Direction() TransportDirection { return t.direction }

func (t *Transport) Descriptor() TransportDescriptor {
	return TransportDescriptor{
		ID:             t.id,
		ICEParameters:  t.localICE,
		ICECandidates:  t.localCandidates,
		DTLSParameters: t.localDTLS,
	}
}

// Connect pairs the transport with the client: ICE first, DTLS on top.
// Calling Connect twice is an error; the transport is single-shot.
func (t *Transport) Connect(params ConnectParameters) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport %s is closed", t.id)
	}
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("transport %s already connected", t.id)
	}
	t.connected = true
	t.mu.Unlock()

	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, params.ICEParameters, &role); err != nil {
		return fmt.Errorf("ice start: %w", err)
	}
	if err := t.dtls.Start(params.DTLSParameters); err != nil {
		return fmt.Errorf("dtls start: %w", err)
	}
	return nil
}

// OnClose registers the teardown hook the owning peer uses to cascade
// producer/consumer closure when the transport goes away underneath them.
func (t *Transport) OnClose(f func()) {
	t.mu.Lock()
	t.onClose = f
	t.mu.Unlock()
}

func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	hook := t.onClose
	t.mu.Unlock()

	if hook != nil {
		hook()
	}
	_ = t.dtls.Stop()
	_ = t.ice.Stop()
}
