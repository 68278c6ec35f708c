package database

import (
	"context"
	"errors"
	"time"

	"github.com/npezzotti/go-chatcore/internal/types"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidConversation = errors.New("invalid conversation")
)

type CreateConversationParams struct {
	MemberIds []string
	IsGroup   bool
	Name      string
}

// ChatRepository is the persistence boundary of the routing core. Counter
// updates are single statements so concurrent joins and sends never lose
// an update.
type ChatRepository interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, userId string) (types.User, error)
	SetUserOnline(ctx context.Context, userId string) error
	SetUserOffline(ctx context.Context, userId string, lastSeen time.Time) error

	GetConversation(ctx context.Context, conversationId string) (*types.Conversation, error)
	// ListConversationsForUser returns the conversations userId belongs to
	// without their member lists.
	ListConversationsForUser(ctx context.Context, userId string) ([]types.Conversation, error)
	CreateConversation(ctx context.Context, params CreateConversationParams) (*types.Conversation, error)
	AddMember(ctx context.Context, conversationId, userId string) error
	RemoveMember(ctx context.Context, conversationId, userId string) error
	DeleteConversation(ctx context.Context, conversationId string) ([]string, error)
	ResetUnreadCount(ctx context.Context, conversationId, userId string) error

	// CreateMessage stores msg and increments the unread counter of every
	// user in unseen in the same transaction.
	CreateMessage(ctx context.Context, msg *types.Message, unseen []string) error
	// DeleteMessage hides the message for every user in scope and reports
	// whether anything was deleted.
	DeleteMessage(ctx context.Context, messageId string, scope []string) (bool, error)
}
