package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrCycleInProgress is returned when another poll cycle holds the lock.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// Lock serializes poll cycles across processes.
type Lock interface {
	// Acquire returns ErrCycleInProgress when the lock is held elsewhere.
	Acquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, err error)
}

// Watermark stores the INTERNALDATE of the newest processed message.
type Watermark interface {
	Load(ctx context.Context) (time.Time, bool, error)
	Save(ctx context.Context, t time.Time) error
}

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock is a SETNX lock with a token-checked release.
type RedisLock struct {
	client redis.UniversalClient
	key    string
}

// NewRedisLock builds a lock stored under key.
func NewRedisLock(client redis.UniversalClient, key string) *RedisLock {
	return &RedisLock{client: client, key: key}
}

func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire poll lock: %w", err)
	}
	if !ok {
		return nil, ErrCycleInProgress
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release poll lock: %w", err)
		}
		return nil
	}, nil
}

// RedisWatermark keeps the watermark as an RFC 3339 string.
type RedisWatermark struct {
	client redis.UniversalClient
	key    string
}

// NewRedisWatermark builds a watermark stored under key.
func NewRedisWatermark(client redis.UniversalClient, key string) *RedisWatermark {
	return &RedisWatermark{client: client, key: key}
}

func (w *RedisWatermark) Load(ctx context.Context) (time.Time, bool, error) {
	val, err := w.client.Get(ctx, w.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", val, err)
	}
	return t, true, nil
}

func (w *RedisWatermark) Save(ctx context.Context, t time.Time) error {
	if err := w.client.Set(ctx, w.key, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

// LocalLock serializes cycles within one process.
type LocalLock struct {
	mu sync.Mutex
}

func (l *LocalLock) Acquire(context.Context, time.Duration) (func(context.Context) error, error) {
	if !l.mu.TryLock() {
		return nil, ErrCycleInProgress
	}
	return func(context.Context) error {
		l.mu.Unlock()
		return nil
	}, nil
}

// MemoryWatermark keeps the watermark in process memory.
type MemoryWatermark struct {
	mu  sync.Mutex
	t   time.Time
	set bool
}

func (w *MemoryWatermark) Load(context.Context) (time.Time, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t, w.set, nil
}

func (w *MemoryWatermark) Save(_ context.Context, t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.t, w.set = t, true
	return nil
}

var (
	_ Lock      = (*RedisLock)(nil)
	_ Lock      = (*LocalLock)(nil)
	_ Watermark = (*RedisWatermark)(nil)
	_ Watermark = (*MemoryWatermark)(nil)
)
