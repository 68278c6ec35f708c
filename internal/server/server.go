package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/npezzotti/go-chatcore/internal/bot"
	"github.com/npezzotti/go-chatcore/internal/database"
	"github.com/npezzotti/go-chatcore/internal/presence"
	"github.com/npezzotti/go-chatcore/internal/stats"
)

const (
	metricActiveClients = "active_clients"
	metricOnlineUsers   = "online_users"
	metricActiveRooms   = "active_rooms"
	metricMessagesSent  = "messages_sent"
	metricBotReplies    = "bot_replies"

	defaultStoreTimeout = 5 * time.Second
	defaultBotTimeout   = 30 * time.Second
)

var errConnectionClosed = errors.New("connection closed")

type Config struct {
	// BotMarker is the email suffix that marks a member as a bot.
	BotMarker string
	// StoreTimeout bounds every persistence call made by the core.
	StoreTimeout time.Duration
	// BotTimeout bounds a single bot reply.
	BotTimeout time.Duration
}

type bindRequest struct {
	client *Client
	userId string
	result chan error
}

type roomRequest struct {
	client *Client
	roomId string
	result chan bool
}

type broadcastRequest struct {
	// exactly one of roomId, userId and client is set
	roomId string
	userId string
	client *Client
	msg    *ServerMessage
}

type roomQuery struct {
	roomId string
	client *Client
	result chan roomSnapshot
}

type roomSnapshot struct {
	users    []string
	clientIn bool
}

type stopRequest struct {
	done chan struct{}
}

// ChatServer is the connection registry and room router. All of its maps
// are owned by the Run goroutine; other goroutines talk to it over channels.
type ChatServer struct {
	log       zerolog.Logger
	db        database.ChatRepository
	presence  presence.Store
	responder bot.Responder
	stats     stats.StatsProvider
	cfg       Config

	// clients maps every live connection to its bound user id ("" before setup).
	clients map[*Client]string
	// userMap holds the personal rooms.
	userMap     map[string]map[*Client]struct{}
	rooms       map[string]*Room
	clientRooms map[*Client]map[string]struct{}

	registerChan   chan *Client
	unregisterChan chan *Client
	bindChan       chan bindRequest
	joinChan       chan roomRequest
	leaveChan      chan roomRequest
	broadcastChan  chan *broadcastRequest
	queryChan      chan roomQuery
	stop           chan stopRequest
	done           chan struct{}

	presenceQ    *presenceQueue
	presenceDone chan struct{}

	// replies counts bot replies still in flight. No new ones start once
	// repliesClosed is set.
	replies       sync.WaitGroup
	repliesMu     sync.Mutex
	repliesClosed bool
}

func NewChatServer(logger zerolog.Logger, db database.ChatRepository, ps presence.Store, responder bot.Responder, su stats.StatsProvider, cfg Config) (*ChatServer, error) {
	if db == nil || ps == nil || responder == nil || su == nil {
		return nil, errors.New("chat server: missing dependency")
	}

	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.BotTimeout <= 0 {
		cfg.BotTimeout = defaultBotTimeout
	}

	su.RegisterMetric(metricActiveClients)
	su.RegisterMetric(metricOnlineUsers)
	su.RegisterMetric(metricActiveRooms)
	su.RegisterCounter(metricMessagesSent)
	su.RegisterCounter(metricBotReplies)

	return &ChatServer{
		log:            logger,
		db:             db,
		presence:       ps,
		responder:      responder,
		stats:          su,
		cfg:            cfg,
		clients:        make(map[*Client]string),
		userMap:        make(map[string]map[*Client]struct{}),
		rooms:          make(map[string]*Room),
		clientRooms:    make(map[*Client]map[string]struct{}),
		registerChan:   make(chan *Client),
		unregisterChan: make(chan *Client),
		bindChan:       make(chan bindRequest),
		joinChan:       make(chan roomRequest),
		leaveChan:      make(chan roomRequest),
		broadcastChan:  make(chan *broadcastRequest),
		queryChan:      make(chan roomQuery),
		stop:           make(chan stopRequest),
		done:           make(chan struct{}),
		presenceQ:      newPresenceQueue(),
		presenceDone:   make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	go cs.runPresence()

	for {
		select {
		case c := <-cs.registerChan:
			cs.addClient(c)
		case c := <-cs.unregisterChan:
			cs.removeClient(c)
		case req := <-cs.bindChan:
			req.result <- cs.bind(req.client, req.userId)
		case req := <-cs.joinChan:
			req.result <- cs.join(req.client, req.roomId)
		case req := <-cs.leaveChan:
			req.result <- cs.leave(req.client, req.roomId)
		case req := <-cs.broadcastChan:
			cs.handleBroadcast(req)
		case q := <-cs.queryChan:
			q.result <- cs.snapshot(q.roomId, q.client)
		case req := <-cs.stop:
			cs.handleStop()
			close(cs.done)
			close(req.done)
			return
		}
	}
}

func (cs *ChatServer) handleStop() {
	cs.log.Info().Int("clients", len(cs.clients)).Msg("stopping chat server")

	for c := range cs.clients {
		c.stopClient()
	}

	// every user still connected goes offline now
	now := time.Now().UTC()
	for userId := range cs.userMap {
		cs.presenceQ.push(presenceEvent{userId: userId, online: false, at: now})
	}
	cs.presenceQ.close()
}

// Shutdown waits for in-flight bot replies, stops the hub and waits for
// pending presence updates to be written.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info().Msg("received shutdown signal")

	cs.repliesMu.Lock()
	cs.repliesClosed = true
	cs.repliesMu.Unlock()

	replied := make(chan struct{})
	go func() {
		cs.replies.Wait()
		close(replied)
	}()
	select {
	case <-replied:
	case <-ctx.Done():
		return ctx.Err()
	}

	req := stopRequest{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-cs.presenceDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trackReply registers a bot reply about to start. It reports false once
// shutdown has begun.
func (cs *ChatServer) trackReply() bool {
	cs.repliesMu.Lock()
	defer cs.repliesMu.Unlock()

	if cs.repliesClosed {
		return false
	}
	cs.replies.Add(1)
	return true
}

func (cs *ChatServer) addClient(c *Client) {
	if _, ok := cs.clients[c]; ok {
		return
	}

	cs.clients[c] = ""
	cs.clientRooms[c] = make(map[string]struct{})
	cs.stats.Incr(metricActiveClients)
}

// removeClient drops the connection from every room it is in. When it was
// the user's last connection the user goes offline.
func (cs *ChatServer) removeClient(c *Client) {
	userId, ok := cs.clients[c]
	if !ok {
		return
	}

	for roomId := range cs.clientRooms[c] {
		cs.leave(c, roomId)
	}
	delete(cs.clientRooms, c)
	delete(cs.clients, c)
	cs.stats.Decr(metricActiveClients)

	if userId == "" {
		return
	}

	if userClients, ok := cs.userMap[userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(cs.userMap, userId)
			cs.stats.Decr(metricOnlineUsers)
			cs.log.Info().Str("user_id", userId).Msg("last connection closed")
			cs.presenceQ.push(presenceEvent{userId: userId, online: false, at: time.Now().UTC()})
		}
	}
}

func (cs *ChatServer) bind(c *Client, userId string) error {
	current, ok := cs.clients[c]
	if !ok {
		return errConnectionClosed
	}
	if current != "" {
		if current == userId {
			return nil
		}
		return ErrUserMismatch
	}

	cs.clients[c] = userId
	if cs.userMap[userId] == nil {
		cs.userMap[userId] = make(map[*Client]struct{})
	}
	cs.userMap[userId][c] = struct{}{}

	// rooms joined before setup learn who the connection belongs to
	for roomId := range cs.clientRooms[c] {
		if r, ok := cs.rooms[roomId]; ok {
			r.addClient(c, userId)
		}
	}

	if len(cs.userMap[userId]) == 1 {
		cs.stats.Incr(metricOnlineUsers)
		cs.log.Info().Str("user_id", userId).Msg("first connection opened")
		cs.presenceQ.push(presenceEvent{userId: userId, online: true, at: time.Now().UTC()})
	}

	return nil
}

func (cs *ChatServer) join(c *Client, roomId string) bool {
	userId, ok := cs.clients[c]
	if !ok {
		return false
	}

	r, ok := cs.rooms[roomId]
	if !ok {
		r = newRoom(roomId)
		cs.rooms[roomId] = r
		cs.stats.Incr(metricActiveRooms)
	}

	r.addClient(c, userId)
	cs.clientRooms[c][roomId] = struct{}{}
	return true
}

func (cs *ChatServer) leave(c *Client, roomId string) bool {
	r, ok := cs.rooms[roomId]
	if !ok {
		return false
	}

	removed := r.removeClient(c)
	if rooms, ok := cs.clientRooms[c]; ok {
		delete(rooms, roomId)
	}

	if r.size() == 0 {
		delete(cs.rooms, roomId)
		cs.stats.Decr(metricActiveRooms)
	}
	return removed
}

func (cs *ChatServer) handleBroadcast(req *broadcastRequest) {
	if req.client != nil {
		if _, ok := cs.clients[req.client]; ok {
			req.client.queueMessage(req.msg)
		}
		return
	}

	if req.userId != "" {
		for c := range cs.userMap[req.userId] {
			if c == req.msg.SkipClient {
				continue
			}
			c.queueMessage(req.msg)
		}
		return
	}

	if r, ok := cs.rooms[req.roomId]; ok {
		r.broadcast(req.msg)
	}
}

func (cs *ChatServer) snapshot(roomId string, c *Client) roomSnapshot {
	var snap roomSnapshot
	r, ok := cs.rooms[roomId]
	if !ok {
		return snap
	}

	snap.users = make([]string, 0, len(r.userMap))
	for userId := range r.userMap {
		snap.users = append(snap.users, userId)
	}
	sort.Strings(snap.users)
	snap.clientIn = c != nil && r.hasClient(c)
	return snap
}

// The methods below are safe to call from any goroutine.

func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) UnregisterClient(c *Client) {
	select {
	case cs.unregisterChan <- c:
	case <-cs.done:
	}
}

// Bind associates the connection with userId and admits it to the user's personal room.
func (cs *ChatServer) Bind(c *Client, userId string) error {
	req := bindRequest{client: c, userId: userId, result: make(chan error, 1)}
	select {
	case cs.bindChan <- req:
	case <-cs.done:
		return errConnectionClosed
	}
	return <-req.result
}

func (cs *ChatServer) Join(c *Client, roomId string) bool {
	req := roomRequest{client: c, roomId: roomId, result: make(chan bool, 1)}
	select {
	case cs.joinChan <- req:
	case <-cs.done:
		return false
	}
	return <-req.result
}

func (cs *ChatServer) Leave(c *Client, roomId string) bool {
	req := roomRequest{client: c, roomId: roomId, result: make(chan bool, 1)}
	select {
	case cs.leaveChan <- req:
	case <-cs.done:
		return false
	}
	return <-req.result
}

// BroadcastRoom sends msg to every connection joined to the conversation room.
func (cs *ChatServer) BroadcastRoom(roomId string, msg *ServerMessage) {
	select {
	case cs.broadcastChan <- &broadcastRequest{roomId: roomId, msg: msg}:
	case <-cs.done:
	}
}

// NotifyUser sends msg to the user's personal room.
func (cs *ChatServer) NotifyUser(userId string, msg *ServerMessage) {
	select {
	case cs.broadcastChan <- &broadcastRequest{userId: userId, msg: msg}:
	case <-cs.done:
	}
}

// sendAfterBroadcasts queues msg for c behind every broadcast the hub has
// already accepted.
func (cs *ChatServer) sendAfterBroadcasts(c *Client, msg *ServerMessage) {
	select {
	case cs.broadcastChan <- &broadcastRequest{client: c, msg: msg}:
	case <-cs.done:
	}
}

func (cs *ChatServer) query(roomId string, c *Client) roomSnapshot {
	q := roomQuery{roomId: roomId, client: c, result: make(chan roomSnapshot, 1)}
	select {
	case cs.queryChan <- q:
	case <-cs.done:
		return roomSnapshot{}
	}
	return <-q.result
}

// MembersOf returns the ids of the users with a connection joined to the room.
func (cs *ChatServer) MembersOf(roomId string) []string {
	return cs.query(roomId, nil).users
}

func (cs *ChatServer) IsUserInRoom(roomId, userId string) bool {
	for _, id := range cs.MembersOf(roomId) {
		if id == userId {
			return true
		}
	}
	return false
}

func (cs *ChatServer) IsConnectionIn(roomId string, c *Client) bool {
	return cs.query(roomId, c).clientIn
}

func (cs *ChatServer) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cs.cfg.StoreTimeout)
}
