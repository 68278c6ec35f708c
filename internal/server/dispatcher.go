package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"

	"github.com/npezzotti/go-chatcore/internal/bot"
	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/types"
)

func (cs *ChatServer) handleClientMessage(msg *ClientMessage) {
	c := msg.client

	switch msg.Event {
	case EventSetup:
		cs.handleSetup(c, msg.Data)
	case EventJoinChat:
		cs.handleJoin(c, msg.Data)
	case EventLeaveChat:
		cs.handleLeave(c, msg.Data)
	case EventSendMessage:
		cs.handleSendMessage(c, msg.Data)
	case EventDeleteMessage:
		cs.handleDeleteMessage(c, msg.Data)
	case EventTyping, EventStopTyping:
		cs.handleTyping(c, msg.Event, msg.Data)
	case EventGroupDeleted:
		cs.handleGroupDeleted(c, msg.Data)
	default:
		c.log.Debug().Str("event", msg.Event).Msg("unknown event")
		c.queueMessage(ErrInvalidMessage(ErrUnknownEvent))
	}
}

// decodeId accepts either a bare JSON string or an object carrying the id
// under one of keys.
func decodeId(data json.RawMessage, keys ...string) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", ErrInvalidPayload
	}
	for _, k := range keys {
		if v, ok := obj[k].(string); ok {
			return v, nil
		}
	}
	return "", ErrInvalidPayload
}

// bindClient binds c to userId unless it is already bound to it.
func (cs *ChatServer) bindClient(c *Client, userId string) error {
	if userId == "" {
		return ErrInvalidPayload
	}
	if c.userId == userId {
		return nil
	}
	if c.userId != "" || (c.authUserId != "" && c.authUserId != userId) {
		return ErrUserMismatch
	}

	if err := cs.Bind(c, userId); err != nil {
		return err
	}
	c.userId = userId
	return nil
}

func (cs *ChatServer) handleSetup(c *Client, data json.RawMessage) {
	userId, err := decodeId(data, "_id", "userId")
	if err == nil {
		err = cs.bindClient(c, userId)
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("setup rejected")
		c.queueMessage(ErrInvalidMessage(err))
		return
	}

	c.queueMessage(NewServerMessage(EventUserSetup, userId))
}

func (cs *ChatServer) handleJoin(c *Client, data json.RawMessage) {
	var req JoinChat
	if err := json.Unmarshal(data, &req); err != nil || req.RoomId == "" {
		c.queueMessage(ErrInvalidMessage(ErrInvalidPayload))
		return
	}

	userId := c.userId
	if userId == "" {
		// joining before setup binds the connection to the joiner
		if err := cs.bindClient(c, req.UserId); err != nil {
			c.queueMessage(ErrJoinChat(req.RoomId, err))
			return
		}
		userId = c.userId
	} else if req.UserId != "" && req.UserId != userId {
		c.queueMessage(ErrJoinChat(req.RoomId, ErrUserMismatch))
		return
	}

	log := c.log.With().Str("room_id", req.RoomId).Logger()

	ctx, cancel := cs.storeContext()
	defer cancel()

	conv, err := cs.db.GetConversation(ctx, req.RoomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			log.Debug().Msg("conversation not found")
			c.queueMessage(ErrConversationNotFoundForRoom(req.RoomId))
			return
		}
		log.Error().Err(err).Msg("failed to load conversation")
		c.queueMessage(ErrJoinChat(req.RoomId, ErrInternal))
		return
	}

	if !isMember(conv, userId) {
		log.Debug().Str("user_id", userId).Msg("join rejected, not a member")
		c.queueMessage(ErrJoinChat(req.RoomId, ErrNotMember))
		return
	}

	if !cs.Join(c, conv.Id) {
		c.queueMessage(ErrJoinChat(req.RoomId, errConnectionClosed))
		return
	}

	if _, ok := conv.UnreadCounts[userId]; ok {
		if err := cs.db.ResetUnreadCount(ctx, conv.Id, userId); err != nil {
			log.Error().Err(err).Msg("failed to reset unread count")
			cs.Leave(c, conv.Id)
			c.queueMessage(ErrJoinChat(req.RoomId, ErrInternal))
			return
		}
	}

	log.Debug().Msg("joined conversation")
	cs.BroadcastRoom(conv.Id, NewServerMessage(EventUserJoinedRoom, userId))
}

func (cs *ChatServer) handleLeave(c *Client, data json.RawMessage) {
	roomId, err := decodeId(data, "roomId")
	if err != nil || roomId == "" {
		c.queueMessage(ErrInvalidMessage(ErrInvalidPayload))
		return
	}

	cs.Leave(c, roomId)
}

func (cs *ChatServer) handleSendMessage(c *Client, data json.RawMessage) {
	var req SendMessage
	if err := json.Unmarshal(data, &req); err != nil {
		c.queueMessage(ErrSendMessage(ErrInvalidPayload))
		return
	}

	senderId, err := cs.resolveSender(c, req)
	if err != nil {
		c.queueMessage(ErrSendMessage(err))
		return
	}
	req.SenderId = senderId

	log := c.log.With().Str("conversation_id", req.ConversationId).Logger()

	ctx, cancel := cs.storeContext()
	conv, err := cs.db.GetConversation(ctx, req.ConversationId)
	cancel()
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.queueMessage(ErrConversationNotFoundForSend(req.ConversationId))
			return
		}
		log.Error().Err(err).Msg("failed to load conversation")
		c.queueMessage(ErrSendMessage(ErrInternal))
		return
	}

	if !isMember(conv, senderId) {
		c.queueMessage(ErrSendMessage(ErrNotMember))
		return
	}

	if botUser, ok := bot.FindBot(conv, senderId, cs.cfg.BotMarker); ok {
		cs.routeToBot(c, conv, botUser, req)
		return
	}

	cs.routeDirect(c, conv, req)
}

func (cs *ChatServer) resolveSender(c *Client, req SendMessage) (string, error) {
	if req.ConversationId == "" {
		return "", fmt.Errorf("%w: conversationId is required", ErrInvalidPayload)
	}
	if req.Text == "" && req.ImageUrl == "" {
		return "", fmt.Errorf("%w: text or imageUrl is required", ErrInvalidPayload)
	}

	switch {
	case c.userId != "" && req.SenderId != "" && req.SenderId != c.userId:
		return "", ErrUserMismatch
	case c.userId != "":
		return c.userId, nil
	case req.SenderId == "":
		return "", ErrNotBound
	case c.authUserId != "" && c.authUserId != req.SenderId:
		return "", ErrUserMismatch
	}
	return req.SenderId, nil
}

func isMember(conv *types.Conversation, userId string) bool {
	for _, id := range conv.MemberIds() {
		if id == userId {
			return true
		}
	}
	return false
}

// routeToBot broadcasts the typing indicator and the echo, then waits for
// the bot on its own goroutine so the connection keeps handling events.
// Replies to one connection are delivered in the order the messages were sent.
func (cs *ChatServer) routeToBot(c *Client, conv *types.Conversation, botUser types.User, req SendMessage) {
	cs.BroadcastRoom(conv.Id, NewServerMessage(EventTyping, Typer{Typer: botUser.Id}))

	now := Now()
	echo := &types.Message{
		Id:             shortid.MustGenerate(),
		ConversationId: conv.Id,
		SenderId:       req.SenderId,
		Text:           req.Text,
		ImageUrl:       req.ImageUrl,
		SeenBy:         []types.SeenReceipt{{UserId: botUser.Id, SeenAt: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	cs.BroadcastRoom(conv.Id, NewServerMessage(EventReceiveMessage, echo))

	if !cs.trackReply() {
		return
	}

	prev := c.lastReply
	done := make(chan struct{})
	c.lastReply = done

	go func() {
		defer cs.replies.Done()
		defer close(done)

		if prev != nil {
			<-prev
		}
		cs.awaitReply(c, conv.Id, botUser.Id, req)
	}()
}

func (cs *ChatServer) awaitReply(c *Client, conversationId, botId string, req SendMessage) {
	log := c.log.With().Str("conversation_id", conversationId).Str("bot_id", botId).Logger()
	typer := Typer{Typer: botId}

	ctx, cancel := context.WithTimeout(context.Background(), cs.cfg.BotTimeout)
	defer cancel()

	reply, err := cs.responder.Respond(ctx, bot.Request{
		Text:           req.Text,
		SenderId:       req.SenderId,
		ConversationId: conversationId,
		BotId:          botId,
	})
	if err == nil && reply == nil {
		err = bot.ErrNoReply
	}
	if errors.Is(err, bot.ErrNoReply) {
		log.Debug().Msg("bot declined to reply")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("bot reply failed")
		cs.sendAfterBroadcasts(c, ErrSendMessage(ErrInternal))
		cs.BroadcastRoom(conversationId, NewServerMessage(EventStopTyping, typer))
		return
	}

	cs.stats.Incr(metricBotReplies)
	cs.BroadcastRoom(conversationId, NewServerMessage(EventReceiveMessage, reply))
	cs.BroadcastRoom(conversationId, NewServerMessage(EventStopTyping, typer))
}

func (cs *ChatServer) routeDirect(c *Client, conv *types.Conversation, req SendMessage) {
	log := c.log.With().Str("conversation_id", conv.Id).Logger()

	recipients := conv.Others(req.SenderId)
	if len(recipients) == 0 {
		c.queueMessage(ErrSendMessage(ErrReceiverNotFound))
		return
	}

	live := make(map[string]struct{})
	for _, userId := range cs.MembersOf(conv.Id) {
		live[userId] = struct{}{}
	}

	now := Now()
	msg := &types.Message{
		Id:             uuid.NewString(),
		ConversationId: conv.Id,
		SenderId:       req.SenderId,
		Text:           req.Text,
		ImageUrl:       req.ImageUrl,
		SeenBy:         []types.SeenReceipt{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var unseen []string
	for _, r := range recipients {
		if _, ok := live[r.Id]; ok {
			msg.SeenBy = append(msg.SeenBy, types.SeenReceipt{UserId: r.Id, SeenAt: now})
			continue
		}
		unseen = append(unseen, r.Id)
	}

	ctx, cancel := cs.storeContext()
	defer cancel()

	if err := cs.db.CreateMessage(ctx, msg, unseen); err != nil {
		log.Error().Err(err).Msg("failed to store message")
		c.queueMessage(ErrSendMessage(ErrInternal))
		return
	}

	cs.stats.Incr(metricMessagesSent)
	cs.BroadcastRoom(conv.Id, NewServerMessage(EventReceiveMessage, msg))

	notification := NewServerMessage(EventNewMessageNotification, msg)
	for _, userId := range unseen {
		cs.NotifyUser(userId, notification)
	}
}

func (cs *ChatServer) handleDeleteMessage(c *Client, data json.RawMessage) {
	var req DeleteMessage
	if err := json.Unmarshal(data, &req); err != nil || req.MessageId == "" {
		c.log.Debug().Err(err).Msg("invalid delete-message payload")
		return
	}

	log := c.log.With().Str("message_id", req.MessageId).Logger()

	ctx, cancel := cs.storeContext()
	defer cancel()

	deleted, err := cs.db.DeleteMessage(ctx, req.MessageId, req.DeleteFrom)
	if err != nil {
		log.Error().Err(err).Msg("failed to delete message")
		return
	}

	if deleted && len(req.DeleteFrom) > 1 && req.ConversationId != "" {
		cs.BroadcastRoom(req.ConversationId, NewServerMessage(EventMessageDeleted, data))
	}
}

func (cs *ChatServer) handleTyping(c *Client, event string, data json.RawMessage) {
	var req Typing
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationId == "" {
		c.log.Debug().Str("event", event).Msg("typing event without conversation")
		return
	}

	cs.BroadcastRoom(req.ConversationId, NewServerMessage(event, data))
}

func (cs *ChatServer) handleGroupDeleted(c *Client, data json.RawMessage) {
	var req GroupDeleted
	if err := json.Unmarshal(data, &req); err != nil || req.GroupId == "" {
		c.log.Debug().Msg("invalid group-deleted payload")
		return
	}

	msg := NewServerMessage(EventGroupDeletedNotification, GroupDeletedNotification{GroupId: req.GroupId})
	for _, userId := range req.Members {
		if userId != "" {
			cs.NotifyUser(userId, msg)
		}
	}
}
