package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/npezzotti/go-chatcore/internal/types"
)

const (
	getConversationQuery = "SELECT id, is_group, COALESCE(name, ''), created_at, updated_at FROM conversations WHERE id = $1"
	getMembersQuery      = "SELECT u.id, u.username, u.email, u.is_online, u.last_seen, m.unread_count " +
		"FROM conversation_members m JOIN users u ON u.id = m.user_id " +
		"WHERE m.conversation_id = $1 ORDER BY m.position"
	touchConversationQuery = "UPDATE conversations SET updated_at = $2 WHERE id = $1"
	addMemberQuery         = "INSERT INTO conversation_members (conversation_id, user_id, position, unread_count) " +
		"SELECT $1, $2, COALESCE(MAX(position) + 1, 0), 0 FROM conversation_members WHERE conversation_id = $1 " +
		"ON CONFLICT (conversation_id, user_id) DO NOTHING"
	incrementUnreadQuery = "UPDATE conversation_members SET unread_count = unread_count + 1 " +
		"WHERE conversation_id = $1 AND user_id = ANY($2)"
)

func (db *PgChatRepository) GetUser(ctx context.Context, userId string) (types.User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT id, username, email, is_online, last_seen FROM users WHERE id = $1 LIMIT 1",
		userId,
	)

	var (
		u        types.User
		lastSeen sql.NullTime
	)
	err := row.Scan(&u.Id, &u.Username, &u.Email, &u.IsOnline, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, fmt.Errorf("user %q: %w", userId, ErrNotFound)
	}
	if err != nil {
		return types.User{}, err
	}

	u.LastSeen = lastSeen.Time
	return u, nil
}

func (db *PgChatRepository) SetUserOnline(ctx context.Context, userId string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET is_online = TRUE, updated_at = $2 WHERE id = $1",
		userId,
		time.Now().UTC(),
	)
	return err
}

// SetUserOffline never moves last_seen backwards.
func (db *PgChatRepository) SetUserOffline(ctx context.Context, userId string, lastSeen time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET is_online = FALSE, last_seen = GREATEST(COALESCE(last_seen, $2), $2), updated_at = $3 WHERE id = $1",
		userId,
		lastSeen.UTC(),
		time.Now().UTC(),
	)
	return err
}

func (db *PgChatRepository) GetConversation(ctx context.Context, conversationId string) (*types.Conversation, error) {
	row := db.conn.QueryRowContext(ctx, getConversationQuery, conversationId)

	var conv types.Conversation
	err := row.Scan(&conv.Id, &conv.IsGroup, &conv.Name, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %q: %w", conversationId, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, getMembersQuery, conversationId)
	if err != nil {
		return nil, fmt.Errorf("get members: %w", err)
	}
	defer rows.Close()

	conv.Members = make([]types.User, 0)
	conv.UnreadCounts = make(map[string]int)
	for rows.Next() {
		var (
			u        types.User
			lastSeen sql.NullTime
			unread   int
		)
		if err := rows.Scan(&u.Id, &u.Username, &u.Email, &u.IsOnline, &lastSeen, &unread); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		u.LastSeen = lastSeen.Time
		conv.Members = append(conv.Members, u)
		conv.UnreadCounts[u.Id] = unread
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return &conv, nil
}

func (db *PgChatRepository) ListConversationsForUser(ctx context.Context, userId string) ([]types.Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT c.id, c.is_group, COALESCE(c.name, ''), c.created_at, c.updated_at FROM conversations c "+
			"JOIN conversation_members m ON m.conversation_id = c.id WHERE m.user_id = $1 ORDER BY c.updated_at DESC",
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]types.Conversation, 0)
	for rows.Next() {
		var c types.Conversation
		if err := rows.Scan(&c.Id, &c.IsGroup, &c.Name, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}

	return convs, rows.Err()
}

func validateConversationParams(params CreateConversationParams) ([]string, string, error) {
	seen := make(map[string]struct{}, len(params.MemberIds))
	members := make([]string, 0, len(params.MemberIds))
	for _, id := range params.MemberIds {
		if id == "" {
			return nil, "", fmt.Errorf("%w: empty member id", ErrInvalidConversation)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	if len(members) < 2 {
		return nil, "", fmt.Errorf("%w: at least two members are required", ErrInvalidConversation)
	}

	name := strings.TrimSpace(params.Name)
	if params.IsGroup && name == "" {
		return nil, "", fmt.Errorf("%w: group name is required", ErrInvalidConversation)
	}

	return members, name, nil
}

// CreateConversation creates a conversation with one zeroed unread counter
// per member. A 1:1 conversation with the same member set is reused.
func (db *PgChatRepository) CreateConversation(ctx context.Context, params CreateConversationParams) (*types.Conversation, error) {
	members, name, err := validateConversationParams(params)
	if err != nil {
		return nil, err
	}

	if !params.IsGroup {
		var existing string
		err := db.conn.QueryRowContext(ctx,
			"SELECT c.id FROM conversations c JOIN conversation_members m ON m.conversation_id = c.id "+
				"WHERE NOT c.is_group GROUP BY c.id "+
				"HAVING COUNT(*) = $2 AND BOOL_AND(m.user_id = ANY($1)) LIMIT 1",
			pq.Array(members),
			len(members),
		).Scan(&existing)
		if err == nil {
			return db.GetConversation(ctx, existing)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find conversation: %w", err)
		}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	id := uuid.NewString()
	now := time.Now().UTC()
	var nullName sql.NullString
	if params.IsGroup {
		nullName = sql.NullString{String: name, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO conversations (id, is_group, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		id, params.IsGroup, nullName, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	for i, memberId := range members {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO conversation_members (conversation_id, user_id, position, unread_count) VALUES ($1, $2, $3, 0)",
			id, memberId, i,
		)
		if err != nil {
			return nil, fmt.Errorf("insert member: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return db.GetConversation(ctx, id)
}

func (db *PgChatRepository) AddMember(ctx context.Context, conversationId, userId string) error {
	res, err := db.conn.ExecContext(ctx, addMemberQuery, conversationId, userId)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return db.touchConversation(ctx, conversationId)
}

// RemoveMember drops the membership row and with it the member's unread counter.
func (db *PgChatRepository) RemoveMember(ctx context.Context, conversationId, userId string) error {
	res, err := db.conn.ExecContext(ctx,
		"DELETE FROM conversation_members WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	)
	if err != nil {
		return err
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("member %q of %q: %w", userId, conversationId, ErrNotFound)
	}

	return db.touchConversation(ctx, conversationId)
}

func (db *PgChatRepository) touchConversation(ctx context.Context, conversationId string) error {
	_, err := db.conn.ExecContext(ctx, touchConversationQuery, conversationId, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// DeleteConversation removes the conversation and returns the ids of its former members.
func (db *PgChatRepository) DeleteConversation(ctx context.Context, conversationId string) ([]string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		"SELECT user_id FROM conversation_members WHERE conversation_id = $1 ORDER BY position FOR UPDATE",
		conversationId,
	)
	if err != nil {
		return nil, err
	}

	members := make([]string, 0)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		members = append(members, id)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = $1", conversationId)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("conversation %q: %w", conversationId, ErrNotFound)
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return members, nil
}

// ResetUnreadCount zeroes the counter in a single statement. A missing
// member row is not an error.
func (db *PgChatRepository) ResetUnreadCount(ctx context.Context, conversationId, userId string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE conversation_members SET unread_count = 0 WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	)
	return err
}

func (db *PgChatRepository) CreateMessage(ctx context.Context, msg *types.Message, unseen []string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, conversation_id, sender_id, text, image_url, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		msg.Id,
		msg.ConversationId,
		msg.SenderId,
		msg.Text,
		msg.ImageUrl,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for _, receipt := range msg.SeenBy {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO message_seen (message_id, user_id, seen_at) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
			msg.Id,
			receipt.UserId,
			receipt.SeenAt,
		)
		if err != nil {
			return fmt.Errorf("insert receipt: %w", err)
		}
	}

	if len(unseen) > 0 {
		if _, err = tx.ExecContext(ctx, incrementUnreadQuery, msg.ConversationId, pq.Array(unseen)); err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, "UPDATE conversations SET updated_at = $2 WHERE id = $1", msg.ConversationId, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}

	return tx.Commit()
}

func (db *PgChatRepository) DeleteMessage(ctx context.Context, messageId string, scope []string) (bool, error) {
	if len(scope) == 0 {
		return false, nil
	}

	var exists bool
	err := db.conn.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)", messageId).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("message %q: %w", messageId, ErrNotFound)
	}

	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO message_deletions (message_id, user_id) SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING",
		messageId,
		pq.Array(scope),
	)
	if err != nil {
		return false, err
	}

	// a repeated delete inserts nothing
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
