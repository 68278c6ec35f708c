package server

// Room is a conversation room: the connections that currently have the
// conversation open. It is owned by the ChatServer goroutine and never
// touched from anywhere else.
type Room struct {
	id      string
	clients map[*Client]string
	// userMap indexes the room's clients by bound user id.
	userMap map[string]map[*Client]struct{}
}

func newRoom(id string) *Room {
	return &Room{
		id:      id,
		clients: make(map[*Client]string),
		userMap: make(map[string]map[*Client]struct{}),
	}
}

func (r *Room) addClient(c *Client, userId string) {
	if prev, ok := r.clients[c]; ok {
		if prev == userId {
			return
		}
		r.deleteFromUserMap(c, prev)
	}

	r.clients[c] = userId
	if userId == "" {
		return
	}
	if r.userMap[userId] == nil {
		r.userMap[userId] = make(map[*Client]struct{})
	}
	r.userMap[userId][c] = struct{}{}
}

func (r *Room) removeClient(c *Client) bool {
	userId, ok := r.clients[c]
	if !ok {
		return false
	}

	delete(r.clients, c)
	r.deleteFromUserMap(c, userId)
	return true
}

func (r *Room) deleteFromUserMap(c *Client, userId string) {
	if userClients, ok := r.userMap[userId]; ok {
		delete(userClients, c)
		if len(userClients) == 0 {
			delete(r.userMap, userId)
		}
	}
}

func (r *Room) hasClient(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

func (r *Room) hasUser(userId string) bool {
	return r.userMap[userId] != nil
}

func (r *Room) size() int {
	return len(r.clients)
}

func (r *Room) broadcast(msg *ServerMessage) {
	for client := range r.clients {
		if client == msg.SkipClient {
			continue
		}

		client.queueMessage(msg)
	}
}
