package presence

import (
	"context"
	"time"

	"github.com/npezzotti/go-chatcore/internal/database"
)

// PgStore keeps presence on the users table.
type PgStore struct {
	db database.ChatRepository
}

func NewPgStore(db database.ChatRepository) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) SetOnline(ctx context.Context, userId string) error {
	return s.db.SetUserOnline(ctx, userId)
}

func (s *PgStore) SetOffline(ctx context.Context, userId string, lastSeen time.Time) error {
	return s.db.SetUserOffline(ctx, userId, lastSeen)
}

func (s *PgStore) Get(ctx context.Context, userId string) (Status, error) {
	u, err := s.db.GetUser(ctx, userId)
	if err != nil {
		return Status{}, err
	}

	return Status{UserId: u.Id, IsOnline: u.IsOnline, LastSeen: u.LastSeen}, nil
}
