package sfu

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// PlainTransport is a non-WebRTC RTP sink: a UDP socket on loopback that the
// recording muxer listens behind. rtcp is muxed onto the same port and
// comedia is off — this side always knows the destination.
type PlainTransport struct {
	id   string
	conn *net.UDPConn
	port int

	mu     sync.Mutex
	closed bool
}

// NewPlainTransport dials ip:port. ProbeUDPPort should have vetted the port
// first; a dial failure here still surfaces so the caller can retry on a
// fresh port.
func NewPlainTransport(ip string, port int) (*PlainTransport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("plain transport dial %s:%d: %w", ip, port, err)
	}
	return &PlainTransport{id: uuid.New().String(), conn: conn, port: port}, nil
}

// ProbeUDPPort reports whether port is currently bindable on loopback. The
// check is best-effort: the muxer binds the port afterwards, so a racing
// process can still steal it, but collisions inside one recording are ruled
// out by the caller tracking its own assignments.
func ProbeUDPPort(port int) bool {
	l, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func (t *PlainTransport) ID() string { return t.id }
func (t *PlainTransport) Port() int  { return t.port }

func (t *PlainTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	_ = t.conn.Close()
}

// PlainConsumer taps one producer and forwards its packets over the plain
// transport, paused until the muxer is known to be listening.
type PlainConsumer struct {
	id         string
	producerID string
	kind       MediaKind
	transport  *PlainTransport

	paused atomic.Bool
	detach func()

	buf sync.Pool
}

// NewPlainConsumer attaches to producer in the paused state.
func NewPlainConsumer(transport *PlainTransport, producer *Producer) *PlainConsumer {
	c := &PlainConsumer{
		id:         uuid.New().String(),
		producerID: producer.ID(),
		kind:       producer.Kind(),
		transport:  transport,
		buf: sync.Pool{New: func() any {
			b := make([]byte, 1500)
			return &b
		}},
	}
	c.paused.Store(true)
	producer.addSink(c.id, c)
	c.detach = func() { producer.removeSink(c.id) }
	return c
}

func (c *PlainConsumer) ID() string      { return c.id }
func (c *PlainConsumer) Kind() MediaKind { return c.kind }

func (c *PlainConsumer) WriteRTP(pkt *rtp.Packet) error {
	if c.paused.Load() {
		return nil
	}
	bp := c.buf.Get().(*[]byte)
	defer c.buf.Put(bp)

	n, err := pkt.MarshalTo(*bp)
	if err != nil {
		return err
	}
	_, err = c.transport.conn.Write((*bp)[:n])
	return err
}

func (c *PlainConsumer) Resume() { c.paused.Store(false) }

func (c *PlainConsumer) Close() {
	c.paused.Store(true)
	if c.detach != nil {
		c.detach()
	}
}
