package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/npezzotti/go-chatcore/internal/bot"
	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/presence"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/npezzotti/go-chatcore/internal/testutil"
	"github.com/npezzotti/go-chatcore/internal/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testDeps struct {
	db        *database.MockChatRepository
	ps        *presence.MockStore
	responder *bot.MockResponder
	su        *stats.MockStatsUpdater
}

func newTestDeps() *testDeps {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("RegisterCounter", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	return &testDeps{
		db:        &database.MockChatRepository{},
		ps:        &presence.MockStore{},
		responder: &bot.MockResponder{},
		su:        su,
	}
}

// allowPresence accepts any presence update made by the worker.
func (d *testDeps) allowPresence() {
	d.ps.On("SetOnline", mock.Anything, mock.Anything).Return(nil).Maybe()
	d.ps.On("SetOffline", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	d.db.On("ListConversationsForUser", mock.Anything, mock.Anything).Return([]types.Conversation{}, nil).Maybe()
}

func newTestChatServer(t *testing.T, deps *testDeps) *ChatServer {
	cs, err := NewChatServer(testutil.TestLogger(t), deps.db, deps.ps, deps.responder, deps.su, Config{
		BotMarker:    "bot",
		StoreTimeout: time.Second,
		BotTimeout:   time.Second,
	})
	require.NoError(t, err, "failed to create test ChatServer")
	return cs
}

// startTestChatServer runs the hub until the test ends.
func startTestChatServer(t *testing.T, deps *testDeps) *ChatServer {
	cs := newTestChatServer(t, deps)
	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, cs.Shutdown(ctx), "expected hub to shut down")
	})
	return cs
}

func newTestClient(t *testing.T, cs *ChatServer) *Client {
	c := NewClient(nil, cs, testutil.TestLogger(t), "")
	cs.RegisterClient(c)
	return c
}

func dispatch(cs *ChatServer, c *Client, event string, data any) {
	raw, _ := json.Marshal(data)
	cs.handleClientMessage(&ClientMessage{Event: event, Data: raw, client: c})
}

func bindTestClient(t *testing.T, cs *ChatServer, userId string) *Client {
	c := newTestClient(t, cs)
	dispatch(cs, c, EventSetup, userId)
	msg := nextMessage(t, c)
	require.Equal(t, EventUserSetup, msg.Event, "expected setup acknowledgement")
	return c
}

func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("expected a message to be queued for the client")
		return nil
	}
}

// drainEvents returns the events already queued for the client. The hub
// round trip makes sure every broadcast it accepted has been fanned out.
func drainEvents(c *Client) []string {
	c.chatServer.MembersOf("")

	var events []string
	for {
		select {
		case msg := <-c.send:
			events = append(events, msg.Event)
		default:
			return events
		}
	}
}

// waitForReplies blocks until every bot reply started so far is done.
func waitForReplies(cs *ChatServer) {
	cs.replies.Wait()
}

// drainMessages is drainEvents returning the whole messages.
func drainMessages(c *Client) []*ServerMessage {
	c.chatServer.MembersOf("")

	var msgs []*ServerMessage
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func testConversation(id string, members ...types.User) *types.Conversation {
	conv := &types.Conversation{Id: id, Members: members, UnreadCounts: make(map[string]int)}
	for _, m := range members {
		conv.UnreadCounts[m.Id] = 0
	}
	return conv
}
