package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendQueueSize  = 64
)

// envelope is the bidirectional wire frame: clients send named events with a
// JSON payload and an optional ack id; the server echoes the ack id on the
// reply and uses bare events for pushes.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	AckID string `json:"ackId,omitempty"`
}

// Client is one connected transport session. It implements hub.Emitter; all
// writes go through the buffered send queue and a single write pump.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan outbound

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan outbound, sendQueueSize),
		closed: make(chan struct{}),
	}
}

func (c *Client) SessionID() string { return c.id }

// Emit queues an event for the write pump. A full queue drops the event
// rather than blocking the sender: a slow client must not stall room
// fan-out.
func (c *Client) Emit(event string, payload any) {
	select {
	case <-c.closed:
	case c.send <- outbound{Event: event, Data: payload}:
	default:
	}
}

func (c *Client) ack(ackID string, event string, payload any) {
	if ackID == "" {
		return
	}
	select {
	case <-c.closed:
	case c.send <- outbound{Event: event, Data: payload, AckID: ackID}:
	default:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// writePump serializes every outbound frame and keeps the connection alive
// with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
