package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatcore/internal/types"
)

// storeReply persists text as a message from the bot.
func storeReply(ctx context.Context, store MessageStore, req Request, text string) (*types.Message, error) {
	now := time.Now().UTC().Round(time.Millisecond)
	msg := &types.Message{
		Id:             uuid.NewString(),
		ConversationId: req.ConversationId,
		SenderId:       req.BotId,
		Text:           text,
		SeenBy:         []types.SeenReceipt{{UserId: req.SenderId, SeenAt: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := store.CreateMessage(ctx, msg, nil); err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}

	return msg, nil
}

// StaticResponder answers every non-empty message with the same text.
type StaticResponder struct {
	Reply string
	Store MessageStore
}

func (r *StaticResponder) Respond(ctx context.Context, req Request) (*types.Message, error) {
	if req.Text == "" || r.Reply == "" {
		return nil, ErrNoReply
	}
	return storeReply(ctx, r.Store, req, r.Reply)
}
