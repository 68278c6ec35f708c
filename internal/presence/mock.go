package presence

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SetOnline(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockStore) SetOffline(ctx context.Context, userId string, lastSeen time.Time) error {
	args := m.Called(ctx, userId, lastSeen)
	return args.Error(0)
}
func (m *MockStore) Get(ctx context.Context, userId string) (Status, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(Status), args.Error(1)
}
