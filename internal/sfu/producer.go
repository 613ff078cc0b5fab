package sfu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// rtpSink receives every packet a producer relays. Consumers (WebRTC and
// plain/recording) implement it; a paused sink swallows packets itself.
type rtpSink interface {
	WriteRTP(pkt *rtp.Packet) error
}

// Producer is the server-side handle to one inbound media stream. It owns an
// RTPReceiver bound to the client's SSRC and a relay goroutine that fans
// every packet out to the attached sinks.
type Producer struct {
	id      string
	peerID  string
	kind    MediaKind
	params  RTPParameters
	appData map[string]any

	transport *webrtc.DTLSTransport
	receiver  *webrtc.RTPReceiver
	track     *webrtc.TrackRemote

	mu     sync.RWMutex
	sinks  map[string]rtpSink
	closed bool
	done   chan struct{}
}

func newProducer(w *Worker, transport *Transport, peerID string, kind MediaKind, params RTPParameters, appData map[string]any, log *slog.Logger) (*Producer, error) {
	ssrc := params.primarySSRC()
	if ssrc == 0 {
		return nil, fmt.Errorf("produce: missing ssrc encoding")
	}

	receiver, err := w.api.NewRTPReceiver(kind.codecType(), transport.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: webrtc.SSRC(ssrc)},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("rtp receive: %w", err)
	}

	p := &Producer{
		id:        uuid.New().String(),
		peerID:    peerID,
		kind:      kind,
		params:    params,
		appData:   appData,
		transport: transport.dtls,
		receiver:  receiver,
		track:     receiver.Track(),
		sinks:     make(map[string]rtpSink),
		done:      make(chan struct{}),
	}
	go p.relay(log)
	return p, nil
}

// relay pumps packets from the remote track to every attached sink until the
// track ends. One broken sink never stops the others: writes that fail just
// log and the sink stays until its owner detaches it. Sinks are written one
// after another, so a slow write delays the sinks after it.
func (p *Producer) relay(log *slog.Logger) {
	defer close(p.done)
	for {
		pkt, _, err := p.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("producer relay ended", slog.String("producer_id", p.id), slog.Any("error", err))
			}
			return
		}

		p.mu.RLock()
		for id, sink := range p.sinks {
			if err := sink.WriteRTP(pkt); err != nil {
				log.Debug("sink write failed", slog.String("producer_id", p.id), slog.String("sink", id), slog.Any("error", err))
			}
		}
		p.mu.RUnlock()
	}
}

func (p *Producer) ID() string              { return p.id }
func (p *Producer) PeerID() string          { return p.peerID }
func (p *Producer) Kind() MediaKind         { return p.kind }
func (p *Producer) Params() RTPParameters   { return p.params }
func (p *Producer) AppData() map[string]any { return p.appData }

// RequestKeyFrame asks the sending client for a fresh keyframe via PLI. The
// recording controller calls it right after resuming a video tap so the
// muxer doesn't sit on deltas it cannot decode.
func (p *Producer) RequestKeyFrame() error {
	if p.kind != KindVideo {
		return nil
	}
	_, err := p.transport.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: p.params.primarySSRC()},
	})
	return err
}

func (p *Producer) addSink(id string, s rtpSink) {
	p.mu.Lock()
	p.sinks[id] = s
	p.mu.Unlock()
}

func (p *Producer) removeSink(id string) {
	p.mu.Lock()
	delete(p.sinks, id)
	p.mu.Unlock()
}

// Close stops the receiver and closes every attached sink: a consumer
// outlives its producer only as a dangling handle, so it goes down too.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	snapshot := p.sinks
	p.sinks = make(map[string]rtpSink)
	p.mu.Unlock()

	for _, s := range snapshot {
		if closer, ok := s.(interface{ Close() }); ok {
			closer.Close()
		}
	}
	if p.receiver != nil {
		_ = p.receiver.Stop()
	}
}
