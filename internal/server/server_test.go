package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/npezzotti/go-chatcore/internal/testutil"
	"github.com/npezzotti/go-chatcore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestNewChatServer(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		deps := newTestDeps()
		cs, err := NewChatServer(testutil.TestLogger(t), deps.db, deps.ps, deps.responder, deps.su, Config{BotMarker: "bot"})
		require.NoError(t, err)

		assert.Equal(t, defaultStoreTimeout, cs.cfg.StoreTimeout)
		assert.Equal(t, defaultBotTimeout, cs.cfg.BotTimeout)
		assert.NotNil(t, cs.clients, "expected clients map to be initialized")
		assert.NotNil(t, cs.userMap, "expected userMap to be initialized")
		assert.NotNil(t, cs.rooms, "expected rooms map to be initialized")
		deps.su.AssertNumberOfCalls(t, "RegisterMetric", 3)
		deps.su.AssertCalled(t, "RegisterCounter", metricMessagesSent)
		deps.su.AssertCalled(t, "RegisterCounter", metricBotReplies)
	})

	t.Run("missing dependency", func(t *testing.T) {
		deps := newTestDeps()
		cs, err := NewChatServer(testutil.TestLogger(t), deps.db, nil, deps.responder, deps.su, Config{})
		assert.Error(t, err)
		assert.Nil(t, cs)
	})
}

func TestChatServer_bind(t *testing.T) {
	deps := newTestDeps()
	cs := newTestChatServer(t, deps)
	c1 := &Client{}
	c2 := &Client{}

	assert.ErrorIs(t, cs.bind(c1, "a"), errConnectionClosed, "expected unregistered connection to be rejected")

	cs.addClient(c1)
	cs.addClient(c2)

	require.NoError(t, cs.bind(c1, "a"))
	events, _ := cs.presenceQ.drain()
	require.Len(t, events, 1, "expected first connection to go online")
	assert.Equal(t, "a", events[0].userId)
	assert.True(t, events[0].online)

	assert.NoError(t, cs.bind(c1, "a"), "expected rebinding the same user to be a no-op")
	assert.ErrorIs(t, cs.bind(c1, "b"), ErrUserMismatch)

	require.NoError(t, cs.bind(c2, "a"))
	events, _ = cs.presenceQ.drain()
	assert.Empty(t, events, "expected second connection to leave presence alone")
	assert.Len(t, cs.userMap["a"], 2)
}

func TestChatServer_bindUpdatesJoinedRooms(t *testing.T) {
	cs := newTestChatServer(t, newTestDeps())
	c := &Client{}
	cs.addClient(c)

	require.True(t, cs.join(c, "c1"))
	assert.False(t, cs.rooms["c1"].hasUser("a"))

	require.NoError(t, cs.bind(c, "a"))
	assert.True(t, cs.rooms["c1"].hasUser("a"), "expected room to learn the bound user")
}

func TestChatServer_removeClient(t *testing.T) {
	deps := newTestDeps()
	cs := newTestChatServer(t, deps)
	c1 := &Client{}
	c2 := &Client{}
	for _, c := range []*Client{c1, c2} {
		cs.addClient(c)
		require.NoError(t, cs.bind(c, "a"))
		cs.join(c, "c1")
	}
	cs.join(c1, "c2")
	cs.presenceQ.drain()

	cs.removeClient(c1)
	events, _ := cs.presenceQ.drain()
	assert.Empty(t, events, "expected user to stay online with a connection left")
	assert.NotContains(t, cs.rooms, "c2", "expected empty room to be dropped")
	assert.True(t, cs.rooms["c1"].hasClient(c2))
	assert.False(t, cs.rooms["c1"].hasClient(c1))

	before := time.Now().UTC()
	cs.removeClient(c2)
	events, _ = cs.presenceQ.drain()
	require.Len(t, events, 1, "expected last connection to go offline")
	assert.False(t, events[0].online)
	assert.False(t, events[0].at.Before(before), "expected lastSeen to be no earlier than the disconnect")
	assert.Empty(t, cs.rooms)
	assert.Empty(t, cs.userMap)
	assert.Empty(t, cs.clients)

	cs.removeClient(c2)
	events, _ = cs.presenceQ.drain()
	assert.Empty(t, events, "expected repeated teardown to signal nothing")
}

func TestChatServer_leave(t *testing.T) {
	cs := newTestChatServer(t, newTestDeps())
	c := &Client{}
	cs.addClient(c)

	assert.False(t, cs.leave(c, "c1"), "expected leaving an unknown room to report false")

	cs.join(c, "c1")
	assert.True(t, cs.leave(c, "c1"))
	assert.NotContains(t, cs.rooms, "c1")
	assert.Empty(t, cs.clientRooms[c])
}

func TestChatServer_handleBroadcast(t *testing.T) {
	cs := newTestChatServer(t, newTestDeps())
	newClient := func() *Client {
		c := &Client{send: make(chan *ServerMessage, 1), log: testutil.TestLogger(t)}
		cs.addClient(c)
		return c
	}
	a1, a2, b := newClient(), newClient(), newClient()
	require.NoError(t, cs.bind(a1, "a"))
	require.NoError(t, cs.bind(a2, "a"))
	require.NoError(t, cs.bind(b, "b"))

	t.Run("personal room skips client", func(t *testing.T) {
		msg := NewServerMessage(EventGroupDeletedNotification, GroupDeletedNotification{GroupId: "g1"})
		msg.SkipClient = a1
		cs.handleBroadcast(&broadcastRequest{userId: "a", msg: msg})

		assert.Len(t, a1.send, 0)
		assert.Len(t, a2.send, 1)
		assert.Len(t, b.send, 0)
		<-a2.send
	})

	t.Run("conversation room", func(t *testing.T) {
		cs.join(a1, "c1")
		cs.join(b, "c1")
		cs.handleBroadcast(&broadcastRequest{roomId: "c1", msg: ReceiverOnline()})

		assert.Len(t, a1.send, 1)
		assert.Len(t, a2.send, 0)
		assert.Len(t, b.send, 1)
	})

	t.Run("single connection", func(t *testing.T) {
		<-a1.send
		<-b.send
		cs.handleBroadcast(&broadcastRequest{client: b, msg: ErrSendMessage(ErrInternal)})

		assert.Len(t, a1.send, 0)
		assert.Len(t, b.send, 1)

		gone := &Client{send: make(chan *ServerMessage, 1)}
		cs.handleBroadcast(&broadcastRequest{client: gone, msg: ErrSendMessage(ErrInternal)})
		assert.Len(t, gone.send, 0, "expected unregistered connection to be skipped")
	})

	t.Run("unknown room", func(t *testing.T) {
		assert.NotPanics(t, func() {
			cs.handleBroadcast(&broadcastRequest{roomId: "nope", msg: ReceiverOnline()})
		})
	})
}

func TestChatServer_snapshot(t *testing.T) {
	cs := newTestChatServer(t, newTestDeps())
	a, b := &Client{}, &Client{}
	cs.addClient(a)
	cs.addClient(b)
	require.NoError(t, cs.bind(a, "a"))
	require.NoError(t, cs.bind(b, "b"))
	cs.join(b, "c1")
	cs.join(a, "c1")

	snap := cs.snapshot("c1", a)
	assert.Equal(t, []string{"a", "b"}, snap.users, "expected users in sorted order")
	assert.True(t, snap.clientIn)

	snap = cs.snapshot("c2", a)
	assert.Empty(t, snap.users)
	assert.False(t, snap.clientIn)
}

func TestPresenceTransitions(t *testing.T) {
	deps := newTestDeps()
	online := make(chan struct{})
	offline := make(chan time.Time, 1)
	deps.ps.On("SetOnline", mock.Anything, "a").Return(nil).Run(func(mock.Arguments) { close(online) }).Once()
	deps.ps.On("SetOffline", mock.Anything, "a", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		offline <- args.Get(2).(time.Time)
	}).Once()
	deps.db.On("ListConversationsForUser", mock.Anything, "a").Return([]types.Conversation{{Id: "c1"}}, nil)
	deps.allowPresence()

	cs := startTestChatServer(t, deps)
	watcher := bindTestClient(t, cs, "b")
	joinRoom(t, cs, watcher, "c1")

	c := newTestClient(t, cs)
	dispatch(cs, c, EventSetup, "a")

	select {
	case <-online:
	case <-time.After(time.Second):
		t.Fatal("expected user to be marked online")
	}
	assert.Equal(t, EventReceiverOnline, nextMessage(t, watcher).Event)

	disconnectedAt := time.Now().UTC()
	c.cleanup()
	c.cleanup()

	select {
	case lastSeen := <-offline:
		assert.False(t, lastSeen.Before(disconnectedAt), "expected lastSeen at or after the disconnect")
	case <-time.After(time.Second):
		t.Fatal("expected user to be marked offline")
	}
	assert.Equal(t, EventReceiverOffline, nextMessage(t, watcher).Event)
	deps.ps.AssertNumberOfCalls(t, "SetOffline", 1)
}

func TestPresenceStoreFailureStillBroadcasts(t *testing.T) {
	deps := newTestDeps()
	deps.ps.On("SetOnline", mock.Anything, "a").Return(errors.New("redis down"))
	deps.db.On("ListConversationsForUser", mock.Anything, "a").Return([]types.Conversation{{Id: "c1"}}, nil)
	deps.allowPresence()

	cs := startTestChatServer(t, deps)
	watcher := bindTestClient(t, cs, "b")
	joinRoom(t, cs, watcher, "c1")

	bindTestClient(t, cs, "a")
	assert.Equal(t, EventReceiverOnline, nextMessage(t, watcher).Event)
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("flushes offline presence", func(t *testing.T) {
		deps := newTestDeps()
		deps.ps.On("SetOnline", mock.Anything, "a").Return(nil)
		deps.ps.On("SetOffline", mock.Anything, "a", mock.Anything).Return(nil).Once()
		deps.db.On("ListConversationsForUser", mock.Anything, "a").Return([]types.Conversation{}, nil)

		cs := newTestChatServer(t, deps)
		go cs.Run()
		c := newTestClient(t, cs)
		dispatch(cs, c, EventSetup, "a")

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx))

		deps.ps.AssertExpectations(t)
		select {
		case <-c.stop:
		default:
			t.Error("expected client to be stopped")
		}

		// the hub is gone, requests must not block
		cs.UnregisterClient(c)
		assert.False(t, cs.Join(c, "c1"))
		assert.ErrorIs(t, cs.Bind(c, "a"), errConnectionClosed)
	})

	t.Run("context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, newTestDeps())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})
}

func TestChatServerStats(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("RegisterCounter", mock.Anything).Return()
	su.On("Incr", metricActiveClients).Return().Once()
	su.On("Incr", metricOnlineUsers).Return().Once()
	su.On("Incr", metricActiveRooms).Return().Once()
	su.On("Decr", metricActiveRooms).Return().Once()
	su.On("Decr", metricOnlineUsers).Return().Once()
	su.On("Decr", metricActiveClients).Return().Once()

	deps := newTestDeps()
	deps.su = su
	cs := newTestChatServer(t, deps)
	c := &Client{}

	cs.addClient(c)
	require.NoError(t, cs.bind(c, "a"))
	cs.join(c, "c1")
	cs.removeClient(c)

	su.AssertExpectations(t)
}

func TestChatServerShutdownWaitsForReplies(t *testing.T) {
	deps := newTestDeps()
	deps.allowPresence()
	cs := newTestChatServer(t, deps)
	go cs.Run()

	require.True(t, cs.trackReply())
	finished := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(finished)
		cs.replies.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx))

	select {
	case <-finished:
	default:
		t.Error("expected shutdown to wait for the pending reply")
	}
	assert.False(t, cs.trackReply(), "expected no new replies after shutdown")
}
