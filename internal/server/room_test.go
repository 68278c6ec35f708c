package server

import (
	"testing"

	"github.com/npezzotti/go-chatcore/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func Test_addClient_removeClient(t *testing.T) {
	r := newRoom("c1")
	c := &Client{}

	r.addClient(c, "")
	assert.True(t, r.hasClient(c))
	assert.Equal(t, 1, r.size())
	assert.Empty(t, r.userMap, "expected unbound client to stay out of userMap")

	r.addClient(c, "a")
	assert.True(t, r.hasUser("a"))
	assert.Equal(t, 1, r.size())

	r.addClient(c, "b")
	assert.False(t, r.hasUser("a"), "expected old user to be dropped when the binding changes")
	assert.True(t, r.hasUser("b"))

	assert.True(t, r.removeClient(c))
	assert.False(t, r.removeClient(c), "expected second remove to report false")
	assert.Equal(t, 0, r.size())
	assert.Empty(t, r.userMap)
}

func Test_hasUser_multipleConnections(t *testing.T) {
	r := newRoom("c1")
	c1, c2 := &Client{}, &Client{}
	r.addClient(c1, "a")
	r.addClient(c2, "a")

	r.removeClient(c1)
	assert.True(t, r.hasUser("a"), "expected user to remain while a connection is joined")

	r.removeClient(c2)
	assert.False(t, r.hasUser("a"))
}

func Test_broadcast(t *testing.T) {
	r := newRoom("c1")
	sender := &Client{send: make(chan *ServerMessage, 1), log: testutil.TestLogger(t)}
	other := &Client{send: make(chan *ServerMessage, 1), log: testutil.TestLogger(t)}
	r.addClient(sender, "a")
	r.addClient(other, "b")

	msg := NewServerMessage(EventTyping, Typer{Typer: "a"})
	msg.SkipClient = sender
	r.broadcast(msg)

	assert.Len(t, sender.send, 0, "expected skipped client to get nothing")
	assert.Len(t, other.send, 1)

	// a full queue drops the message instead of blocking
	r.broadcast(ReceiverOnline())
	assert.Len(t, other.send, 1)
	assert.Len(t, sender.send, 1)
}
