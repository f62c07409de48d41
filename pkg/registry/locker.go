package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes work on one submission key. Lock blocks until the key
// is free or ctx is done; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// SubmissionKey identifies one (problem, user, content hash) triple.
func SubmissionKey(problemID, userID uint, md5 string) string {
	return fmt.Sprintf("featurehub:submission:%d:%d:%s", problemID, userID, md5)
}

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds locks across server replicas with SET NX PX.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 100 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				releaseScript.Run(ctx, l.client, []string{key}, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LocalLocker serializes within one process. It backs single-replica
// deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}
