package database

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatcore/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) GetUser(ctx context.Context, userId string) (types.User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(types.User), args.Error(1)
}
func (m *MockChatRepository) SetUserOnline(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockChatRepository) SetUserOffline(ctx context.Context, userId string, lastSeen time.Time) error {
	args := m.Called(ctx, userId, lastSeen)
	return args.Error(0)
}
func (m *MockChatRepository) GetConversation(ctx context.Context, conversationId string) (*types.Conversation, error) {
	args := m.Called(ctx, conversationId)
	if conv, ok := args.Get(0).(*types.Conversation); ok {
		return conv, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ListConversationsForUser(ctx context.Context, userId string) ([]types.Conversation, error) {
	args := m.Called(ctx, userId)
	if convs, ok := args.Get(0).([]types.Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (*types.Conversation, error) {
	args := m.Called(ctx, params)
	if conv, ok := args.Get(0).(*types.Conversation); ok {
		return conv, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AddMember(ctx context.Context, conversationId, userId string) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) RemoveMember(ctx context.Context, conversationId, userId string) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) DeleteConversation(ctx context.Context, conversationId string) ([]string, error) {
	args := m.Called(ctx, conversationId)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) ResetUnreadCount(ctx context.Context, conversationId, userId string) error {
	args := m.Called(ctx, conversationId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, msg *types.Message, unseen []string) error {
	args := m.Called(ctx, msg, unseen)
	return args.Error(0)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, messageId string, scope []string) (bool, error) {
	args := m.Called(ctx, messageId, scope)
	return args.Bool(0), args.Error(1)
}
