package sfu

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Consumer is the server-side handle to one outbound stream: a local track
// attached to the peer's recv transport, fed by a producer's relay loop.
// Consumers start paused so the client can wire its renderer before the
// first keyframe flows; resume_consumer flips the gate.
type Consumer struct {
	id         string
	producerID string
	peerID     string
	kind       MediaKind
	params     RTPParameters

	track  *webrtc.TrackLocalStaticRTP
	sender *webrtc.RTPSender

	paused atomic.Bool

	mu     sync.Mutex
	closed bool
	detach func()
}

func newConsumer(w *Worker, transport *Transport, producer *Producer, peerID string) (*Consumer, error) {
	codec := producer.Params().primaryCodec()
	capability := webrtc.RTPCodecCapability{
		MimeType:  codec.MimeType,
		ClockRate: codec.ClockRate,
		Channels:  codec.Channels,
	}

	track, err := webrtc.NewTrackLocalStaticRTP(capability, producer.ID(), producer.PeerID())
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}

	sender, err := w.api.NewRTPSender(track, transport.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	if err := sender.Send(sender.GetParameters()); err != nil {
		return nil, fmt.Errorf("rtp send: %w", err)
	}

	c := &Consumer{
		id:         uuid.New().String(),
		producerID: producer.ID(),
		peerID:     peerID,
		kind:       producer.Kind(),
		params:     producer.Params(),
		track:      track,
		sender:     sender,
	}
	c.paused.Store(true)

	producer.addSink(c.id, c)
	c.detach = func() { producer.removeSink(c.id) }
	return c, nil
}

func (c *Consumer) ID() string         { return c.id }
func (c *Consumer) ProducerID() string { return c.producerID }
func (c *Consumer) Kind() MediaKind    { return c.kind }

func (c *Consumer) Descriptor() ConsumerDescriptor {
	return ConsumerDescriptor{
		ID:            c.id,
		ProducerID:    c.producerID,
		Kind:          c.kind,
		RTPParameters: c.params,
		Paused:        c.paused.Load(),
	}
}

// WriteRTP implements rtpSink. Paused consumers drop packets silently;
// srtp not-ready errors during DTLS ramp-up are swallowed the same way so
// the producer's relay never treats them as sink death.
func (c *Consumer) WriteRTP(pkt *rtp.Packet) error {
	if c.paused.Load() {
		return nil
	}
	if err := c.track.WriteRTP(pkt); err != nil {
		if strings.Contains(err.Error(), "not bound") {
			return nil
		}
		return err
	}
	return nil
}

func (c *Consumer) Resume() { c.paused.Store(false) }
func (c *Consumer) Pause()  { c.paused.Store(true) }

func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	detach := c.detach
	c.mu.Unlock()

	if detach != nil {
		detach()
	}
	c.paused.Store(true)
	_ = c.sender.Stop()
}
