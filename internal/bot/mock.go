package bot

import (
	"context"

	"github.com/npezzotti/go-chatcore/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) Respond(ctx context.Context, req Request) (*types.Message, error) {
	args := m.Called(ctx, req)
	if msg, ok := args.Get(0).(*types.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}
