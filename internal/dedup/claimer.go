// Package dedup guards ingestion of a Message-ID against concurrent callers.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer grants one caller at a time the right to ingest a Message-ID.
type Claimer interface {
	// Claim returns false when another caller holds id.
	Claim(ctx context.Context, id string) (bool, error)
	// Keep marks id as ingested so later claims keep failing until the TTL ends.
	Keep(ctx context.Context, id string) error
	// Release drops a claim so id can be retried.
	Release(ctx context.Context, id string) error
}

// RedisClaimer stores claims as keys with SETNX semantics.
type RedisClaimer struct {
	client  redis.UniversalClient
	prefix  string
	pending time.Duration
	ttl     time.Duration
}

// NewRedisClaimer constructs a claimer. Pending claims expire after pending so
// a crashed worker cannot block a message forever; kept claims live for ttl.
func NewRedisClaimer(client redis.UniversalClient, prefix string, pending, ttl time.Duration) *RedisClaimer {
	return &RedisClaimer{client: client, prefix: prefix + "ingest:", pending: pending, ttl: ttl}
}

func (c *RedisClaimer) key(id string) string {
	return c.prefix + id
}

func (c *RedisClaimer) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.key(id), "pending", c.pending).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}

func (c *RedisClaimer) Keep(ctx context.Context, id string) error {
	if err := c.client.Set(ctx, c.key(id), "done", c.ttl).Err(); err != nil {
		return fmt.Errorf("keep %s: %w", id, err)
	}
	return nil
}

func (c *RedisClaimer) Release(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", id, err)
	}
	return nil
}

// DefaultLocalTTL is used when NewLocalClaimer gets no positive ttl.
const DefaultLocalTTL = 24 * time.Hour

// LocalClaimer keeps claims in process memory. It serves single-instance
// deployments without Redis. Every claim expires after ttl; expired entries
// are swept on Claim.
type LocalClaimer struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	claims    map[string]time.Time
	nextSweep time.Time
}

// NewLocalClaimer constructs an empty LocalClaimer.
func NewLocalClaimer(ttl time.Duration) *LocalClaimer {
	if ttl <= 0 {
		ttl = DefaultLocalTTL
	}
	return &LocalClaimer{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

// WithClock overrides the clock used for expiry.
func (c *LocalClaimer) WithClock(now func() time.Time) *LocalClaimer {
	c.now = now
	return c
}

func (c *LocalClaimer) Claim(_ context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweepLocked(now)
	if expires, held := c.claims[id]; held && now.Before(expires) {
		return false, nil
	}
	c.claims[id] = now.Add(c.ttl)
	return true, nil
}

func (c *LocalClaimer) Keep(_ context.Context, id string) error {
	c.mu.Lock()
	c.claims[id] = c.now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

func (c *LocalClaimer) Release(_ context.Context, id string) error {
	c.mu.Lock()
	delete(c.claims, id)
	c.mu.Unlock()
	return nil
}

// Len reports how many claims are held, expired ones included until the
// next sweep.
func (c *LocalClaimer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// sweepLocked drops expired claims, at most once per minute.
func (c *LocalClaimer) sweepLocked(now time.Time) {
	if now.Before(c.nextSweep) {
		return
	}
	for id, expires := range c.claims {
		if !now.Before(expires) {
			delete(c.claims, id)
		}
	}
	c.nextSweep = now.Add(time.Minute)
}

var (
	_ Claimer = (*RedisClaimer)(nil)
	_ Claimer = (*LocalClaimer)(nil)
)
