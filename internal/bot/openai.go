package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/npezzotti/go-chatcore/internal/types"
)

const systemPrompt = "You are a helpful assistant taking part in a chat conversation. Answer briefly."

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIResponder answers with a chat completion from an OpenAI compatible API.
type OpenAIResponder struct {
	client *openai.Client
	model  string
	store  MessageStore
	log    zerolog.Logger
}

func NewOpenAIResponder(cfg OpenAIConfig, store MessageStore, logger zerolog.Logger) *OpenAIResponder {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIResponder{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		store:  store,
		log:    logger,
	}
}

func (r *OpenAIResponder) Respond(ctx context.Context, req Request) (*types.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrNoReply
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		r.log.Warn().Str("conversation_id", req.ConversationId).Msg("completion returned no choices")
		return nil, ErrNoReply
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return nil, ErrNoReply
	}

	return storeReply(ctx, r.store, req, answer)
}
