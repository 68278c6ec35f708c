package server

import (
	"encoding/json"
	"time"
)

// Inbound events.
const (
	EventSetup         = "setup"
	EventJoinChat      = "join-chat"
	EventLeaveChat     = "leave-chat"
	EventSendMessage   = "send-message"
	EventDeleteMessage = "delete-message"
	EventTyping        = "typing"
	EventStopTyping    = "stop-typing"
	EventGroupDeleted  = "group-deleted"
)

// Outbound events.
const (
	EventUserSetup                = "user setup"
	EventReceiverOnline           = "receiver-online"
	EventReceiverOffline          = "receiver-offline"
	EventUserJoinedRoom           = "user-joined-room"
	EventConversationNotFound     = "conversation-not-found"
	EventJoinChatError            = "join-chat-error"
	EventSendMessageError         = "send-message-error"
	EventReceiveMessage           = "receive-message"
	EventNewMessageNotification   = "new-message-notification"
	EventMessageDeleted           = "message-deleted"
	EventGroupDeletedNotification = "group-deleted-notification"
	EventError                    = "error"
)

type ClientMessage struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	client *Client
}

type ServerMessage struct {
	Event      string    `json:"event"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
	SkipClient *Client   `json:"-"`
}

type JoinChat struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

type SendMessage struct {
	ConversationId string `json:"conversationId"`
	SenderId       string `json:"senderId"`
	Text           string `json:"text"`
	ImageUrl       string `json:"imageUrl,omitempty"`
}

type DeleteMessage struct {
	MessageId      string   `json:"messageId"`
	DeleteFrom     []string `json:"deleteFrom"`
	ConversationId string   `json:"conversationId"`
}

// Typing only decodes the routing key, the rest of the payload is passed through untouched.
type Typing struct {
	ConversationId string `json:"conversationId"`
}

type GroupDeleted struct {
	GroupId string   `json:"groupId"`
	Members []string `json:"members"`
}

type Typer struct {
	Typer string `json:"typer"`
}

type ConversationNotFound struct {
	RoomId         string `json:"roomId,omitempty"`
	ConversationId string `json:"conversationId,omitempty"`
}

type JoinChatError struct {
	RoomId string `json:"roomId"`
	Error  string `json:"error"`
}

type ErrorData struct {
	Error string `json:"error"`
}

type GroupDeletedNotification struct {
	GroupId string `json:"groupId"`
}

func NewServerMessage(event string, data any) *ServerMessage {
	return &ServerMessage{
		Event:     event,
		Data:      data,
		Timestamp: Now(),
	}
}

// Presence broadcasts carry an empty object.
func ReceiverOnline() *ServerMessage {
	return NewServerMessage(EventReceiverOnline, struct{}{})
}

func ReceiverOffline() *ServerMessage {
	return NewServerMessage(EventReceiverOffline, struct{}{})
}

func ErrConversationNotFoundForRoom(roomId string) *ServerMessage {
	return NewServerMessage(EventConversationNotFound, ConversationNotFound{RoomId: roomId})
}

func ErrConversationNotFoundForSend(conversationId string) *ServerMessage {
	return NewServerMessage(EventConversationNotFound, ConversationNotFound{ConversationId: conversationId})
}

func ErrJoinChat(roomId string, err error) *ServerMessage {
	return NewServerMessage(EventJoinChatError, JoinChatError{RoomId: roomId, Error: err.Error()})
}

func ErrSendMessage(err error) *ServerMessage {
	return NewServerMessage(EventSendMessageError, ErrorData{Error: err.Error()})
}

func ErrInvalidMessage(err error) *ServerMessage {
	return NewServerMessage(EventError, ErrorData{Error: err.Error()})
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
