package server

import (
	"sync"
	"time"
)

type presenceEvent struct {
	userId string
	online bool
	at     time.Time
}

// presenceQueue is an unbounded FIFO between the hub and the presence
// worker, so the hub never blocks on the store.
type presenceQueue struct {
	mu     sync.Mutex
	events []presenceEvent
	closed bool
	notify chan struct{}
}

func newPresenceQueue() *presenceQueue {
	return &presenceQueue{notify: make(chan struct{}, 1)}
}

func (q *presenceQueue) push(e presenceEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.events = append(q.events, e)
	q.mu.Unlock()
	q.signal()
}

func (q *presenceQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *presenceQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *presenceQueue) drain() ([]presenceEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	events := q.events
	q.events = nil
	return events, q.closed
}

// runPresence applies presence transitions one at a time, in the order the
// hub observed them.
func (cs *ChatServer) runPresence() {
	defer close(cs.presenceDone)

	for range cs.presenceQ.notify {
		events, closed := cs.presenceQ.drain()
		for _, e := range events {
			cs.applyPresence(e)
		}
		if closed {
			return
		}
	}
}

func (cs *ChatServer) applyPresence(e presenceEvent) {
	log := cs.log.With().Str("user_id", e.userId).Bool("online", e.online).Logger()

	ctx, cancel := cs.storeContext()
	defer cancel()

	var err error
	if e.online {
		err = cs.presence.SetOnline(ctx, e.userId)
	} else {
		err = cs.presence.SetOffline(ctx, e.userId, e.at)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to store presence")
	}

	convs, err := cs.db.ListConversationsForUser(ctx, e.userId)
	if err != nil {
		log.Error().Err(err).Msg("failed to list conversations")
		return
	}

	msg := ReceiverOffline()
	if e.online {
		msg = ReceiverOnline()
	}
	for _, conv := range convs {
		cs.BroadcastRoom(conv.Id, msg)
	}
	log.Debug().Int("conversations", len(convs)).Msg("presence broadcast")
}
