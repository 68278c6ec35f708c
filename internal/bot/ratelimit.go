package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/npezzotti/go-chatcore/internal/types"
)

// RateLimitedResponder declines to answer a sender that exceeded Limit
// requests within Window.
type RateLimitedResponder struct {
	next   Responder
	client *redis.Client
	limit  int
	window time.Duration
	log    zerolog.Logger
}

func NewRateLimitedResponder(next Responder, client *redis.Client, limit int, window time.Duration, logger zerolog.Logger) *RateLimitedResponder {
	return &RateLimitedResponder{
		next:   next,
		client: client,
		limit:  limit,
		window: window,
		log:    logger,
	}
}

func rateLimitKey(senderId string) string {
	return fmt.Sprintf("ratelimit:bot:%s", senderId)
}

func (r *RateLimitedResponder) allow(ctx context.Context, senderId string) (bool, error) {
	key := rateLimitKey(senderId)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, r.window).Err(); err != nil {
			return false, err
		}
	}

	return count <= int64(r.limit), nil
}

func (r *RateLimitedResponder) Respond(ctx context.Context, req Request) (*types.Message, error) {
	ok, err := r.allow(ctx, req.SenderId)
	if err != nil {
		// fail open
		r.log.Error().Err(err).Str("sender_id", req.SenderId).Msg("rate limit check failed")
	} else if !ok {
		r.log.Info().Str("sender_id", req.SenderId).Msg("bot rate limit exceeded")
		return nil, ErrNoReply
	}

	return r.next.Respond(ctx, req)
}
