package types

import (
	"time"
)

type User struct {
	Id       string    `json:"_id"`
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

type Conversation struct {
	Id           string         `json:"_id"`
	Members      []User         `json:"members"`
	IsGroup      bool           `json:"isGroup"`
	Name         string         `json:"name,omitempty"`
	UnreadCounts map[string]int `json:"unreadCounts"`
	CreatedAt    time.Time      `json:"createdAt,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt,omitempty"`
}

// MemberIds returns the member ids in stored order.
func (c *Conversation) MemberIds() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.Id
	}
	return ids
}

// Others returns every member except userId, preserving member order.
func (c *Conversation) Others(userId string) []User {
	others := make([]User, 0, len(c.Members))
	for _, m := range c.Members {
		if m.Id != userId {
			others = append(others, m)
		}
	}
	return others
}

type SeenReceipt struct {
	UserId string    `json:"user"`
	SeenAt time.Time `json:"seenAt"`
}

type Message struct {
	Id             string        `json:"_id"`
	ConversationId string        `json:"conversationId"`
	SenderId       string        `json:"senderId"`
	Text           string        `json:"text"`
	ImageUrl       string        `json:"imageUrl,omitempty"`
	SeenBy         []SeenReceipt `json:"seenBy"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}
