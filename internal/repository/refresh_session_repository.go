package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrSessionNotFound   = errors.New("refresh session not found")
	ErrSessionSuperseded = errors.New("refresh session superseded")
)

const refreshKeyPrefix = "refresh_token:"

// rotateScript swaps the stored token id only if it still equals the expected
// one, so two concurrent rotations cannot both win.
var rotateScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// RefreshSessionRepository keeps, per user, the id of the one refresh token
// that may currently be exchanged.
type RefreshSessionRepository struct {
	client *redis.Client
}

func NewRefreshSessionRepository(client *redis.Client) *RefreshSessionRepository {
	return &RefreshSessionRepository{client: client}
}

// Save stores tokenID for userID, replacing whatever was there.
func (r *RefreshSessionRepository) Save(ctx context.Context, userID string, tokenID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, refreshKey(userID), tokenID, ttl).Err(); err != nil {
		return fmt.Errorf("store refresh session: %w", err)
	}
	return nil
}

func (r *RefreshSessionRepository) Get(ctx context.Context, userID string) (string, error) {
	tokenID, err := r.client.Get(ctx, refreshKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionNotFound
		}
		return "", fmt.Errorf("load refresh session: %w", err)
	}
	return tokenID, nil
}

// Rotate replaces expectedID with newID. It returns ErrSessionSuperseded when
// the stored id is no longer expectedID (or is gone).
func (r *RefreshSessionRepository) Rotate(ctx context.Context, userID string, expectedID string, newID string, ttl time.Duration) error {
	swapped, err := rotateScript.Run(ctx, r.client, []string{refreshKey(userID)}, expectedID, newID, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("rotate refresh session: %w", err)
	}
	if swapped == 0 {
		return ErrSessionSuperseded
	}
	return nil
}

// Delete removes the entry. Deleting a missing entry is not an error.
func (r *RefreshSessionRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, refreshKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete refresh session: %w", err)
	}
	return nil
}

func refreshKey(userID string) string {
	return refreshKeyPrefix + userID
}
