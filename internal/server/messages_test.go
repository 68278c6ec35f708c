package server

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerMessageConstructors(t *testing.T) {
	tcases := []struct {
		name  string
		msg   *ServerMessage
		event string
		data  string
	}{
		{
			name:  "receiver online",
			msg:   ReceiverOnline(),
			event: EventReceiverOnline,
			data:  `{}`,
		},
		{
			name:  "receiver offline",
			msg:   ReceiverOffline(),
			event: EventReceiverOffline,
			data:  `{}`,
		},
		{
			name:  "conversation not found on join",
			msg:   ErrConversationNotFoundForRoom("c1"),
			event: EventConversationNotFound,
			data:  `{"roomId":"c1"}`,
		},
		{
			name:  "conversation not found on send",
			msg:   ErrConversationNotFoundForSend("c1"),
			event: EventConversationNotFound,
			data:  `{"conversationId":"c1"}`,
		},
		{
			name:  "join chat error",
			msg:   ErrJoinChat("c1", errors.New("boom")),
			event: EventJoinChatError,
			data:  `{"roomId":"c1","error":"boom"}`,
		},
		{
			name:  "send message error",
			msg:   ErrSendMessage(ErrReceiverNotFound),
			event: EventSendMessageError,
			data:  `{"error":"receiver not found in conversation"}`,
		},
		{
			name:  "invalid message",
			msg:   ErrInvalidMessage(ErrUnknownEvent),
			event: EventError,
			data:  `{"error":"unknown event"}`,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.event, tc.msg.Event)
			assert.False(t, tc.msg.Timestamp.IsZero(), "expected timestamp to be set")

			data, err := json.Marshal(tc.msg.Data)
			require.NoError(t, err)
			assert.JSONEq(t, tc.data, string(data))
		})
	}
}

func Test_serializeMessage(t *testing.T) {
	msg := NewServerMessage(EventUserJoinedRoom, "a")
	msg.SkipClient = &Client{}

	expected := `{"event":"user-joined-room","data":"a","timestamp":"` + msg.Timestamp.Format(time.RFC3339Nano) + `"}`

	bytes, err := serializeMessage(msg)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected skip client to stay off the wire")
}

func TestClientMessageDecode(t *testing.T) {
	var msg ClientMessage
	err := json.Unmarshal([]byte(`{"event":"typing","data":{"conversationId":"c1","typer":"a"}}`), &msg)
	require.NoError(t, err)

	assert.Equal(t, EventTyping, msg.Event)
	assert.JSONEq(t, `{"conversationId":"c1","typer":"a"}`, string(msg.Data))
}

func TestNow(t *testing.T) {
	now := Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond), "expected millisecond precision")
}
