package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceQueue(t *testing.T) {
	q := newPresenceQueue()

	q.push(presenceEvent{userId: "a", online: true})
	q.push(presenceEvent{userId: "a", online: false})
	q.push(presenceEvent{userId: "b", online: true})

	events, closed := q.drain()
	assert.False(t, closed)
	assert.Equal(t, []presenceEvent{
		{userId: "a", online: true},
		{userId: "a", online: false},
		{userId: "b", online: true},
	}, events, "expected events in push order")
	assert.Len(t, q.notify, 1, "expected a single pending wakeup")

	q.close()
	q.push(presenceEvent{userId: "c", online: true})
	events, closed = q.drain()
	assert.True(t, closed)
	assert.Empty(t, events, "expected pushes after close to be dropped")
}
