// Package bot produces automated replies for conversations that contain a
// bot member.
package bot

import (
	"context"
	"errors"
	"strings"

	"github.com/npezzotti/go-chatcore/internal/types"
)

// ErrNoReply is returned when a responder declines to answer. It is not a
// failure and callers must not report it as one.
var ErrNoReply = errors.New("bot: no reply")

type Request struct {
	Text           string
	SenderId       string
	ConversationId string
	// BotId is the member that answers.
	BotId string
}

type Responder interface {
	Respond(ctx context.Context, req Request) (*types.Message, error)
}

// MessageStore persists bot replies.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *types.Message, unseen []string) error
}

// IsBot reports whether the email identifies an automated participant.
func IsBot(email, marker string) bool {
	return marker != "" && strings.HasSuffix(strings.ToLower(email), strings.ToLower(marker))
}

// FindBot returns the first member, in member order, that is a bot and is
// not the sender.
func FindBot(conv *types.Conversation, senderId, marker string) (types.User, bool) {
	for _, m := range conv.Members {
		if m.Id != senderId && IsBot(m.Email, marker) {
			return m, true
		}
	}
	return types.User{}, false
}
