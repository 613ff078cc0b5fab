package ws

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	env := envelope{Event: "register_user", Data: json.RawMessage(`{"userId":"u1","username":"alice"}`)}
	req, err := decode[struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}](env)
	require.NoError(t, err)
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "alice", req.Username)
}

func TestDecode_MissingPayload(t *testing.T) {
	_, err := decode[struct{}](envelope{Event: "x"})
	assert.Error(t, err)
}

func TestAckShapes(t *testing.T) {
	ok := okAck(map[string]any{"id": "p1"})
	assert.Equal(t, true, ok["success"])
	assert.Equal(t, "p1", ok["id"])

	bad := errAck(errors.New("Cannot consume own producer"))
	assert.Equal(t, false, bad["success"])
	assert.Equal(t, "Cannot consume own producer", bad["error"])
}

func TestClientEmit_DropsWhenQueueFull(t *testing.T) {
	c := &Client{
		send:   make(chan outbound, 1),
		closed: make(chan struct{}),
	}
	c.Emit("a", nil)
	c.Emit("b", nil) // queue full, dropped rather than blocking

	require.Len(t, c.send, 1)
	got := <-c.send
	assert.Equal(t, "a", got.Event)
}
