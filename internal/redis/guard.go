package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const guardPrefix = "tavern:chat:send:"

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard allows one in-flight send per session across replicas.
type Guard struct {
	client *Client
	ttl    time.Duration
}

// NewGuard returns a Guard whose locks expire after ttl.
func NewGuard(client *Client, ttl time.Duration) *Guard {
	return &Guard{client: client, ttl: ttl}
}

// Acquire takes the session lock. ok is false when another holder has it.
// release is a no-op when ok is false.
func (g *Guard) Acquire(ctx context.Context, sessionID string) (release func(), ok bool, err error) {
	key := guardPrefix + sessionID
	token := uuid.NewString()

	ok, err = g.client.SetNX(ctx, key, token, g.ttl)
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire send lock: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}

	return func() {
		// The request context may already be canceled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.client.inner, []string{key}, token).Err()
	}, true, nil
}
