package worker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease keeps a single relay active across processes. Acquire both takes a
// free lease and renews one this holder already owns.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

var acquireScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease is a TTL lease on one Redis key, owned by a random token.
type RedisLease struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key string, ttl time.Duration) (*RedisLease, error) {
	if client == nil {
		return nil, errors.New("redis lease requires a redis client")
	}
	if key == "" {
		return nil, errors.New("redis lease key is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("redis lease ttl must be positive, got %s", ttl)
	}
	token := make([]byte, 16)
	if _, err := rand.Read(token); err != nil {
		return nil, fmt.Errorf("generating lease owner token: %w", err)
	}
	host, _ := os.Hostname()
	owner := host + "-" + hex.EncodeToString(token)
	return &RedisLease{client: client, key: key, owner: owner, ttl: ttl}, nil
}

func (l *RedisLease) Owner() string {
	return l.owner
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquiring lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("releasing lease %s: %w", l.key, err)
	}
	return nil
}
