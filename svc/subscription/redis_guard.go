package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	sub "github.com/dmitrymomot/printforge/pkg/subscription"
)

// RedisMilestoneGuard claims milestone sends with SET NX so overlapping sweeps and
// replicas send each reminder once. Keys expire a day after the grace period ends.
type RedisMilestoneGuard struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ sub.MilestoneGuard = (*RedisMilestoneGuard)(nil)

// GuardOption configures RedisMilestoneGuard.
type GuardOption func(*RedisMilestoneGuard)

// WithKeyPrefix prepends prefix to every key, typically the application namespace.
func WithKeyPrefix(prefix string) GuardOption {
	return func(g *RedisMilestoneGuard) { g.prefix = prefix }
}

// WithGuardClock sets the time source used for key expiry.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *RedisMilestoneGuard) {
		if now != nil {
			g.now = now
		}
	}
}

func NewRedisMilestoneGuard(client redis.UniversalClient, opts ...GuardOption) *RedisMilestoneGuard {
	if client == nil {
		panic("subscription: redis client is required")
	}
	g := &RedisMilestoneGuard{client: client, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Claim implements subscription.MilestoneGuard.
func (g *RedisMilestoneGuard) Claim(ctx context.Context, m sub.Milestone) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(m), g.now().UTC().Format(time.RFC3339), g.ttl(m)).Result()
	if err != nil {
		return false, fmt.Errorf("claim milestone: %w", err)
	}
	return ok, nil
}

// Release implements subscription.MilestoneGuard.
func (g *RedisMilestoneGuard) Release(ctx context.Context, m sub.Milestone) error {
	if err := g.client.Del(ctx, g.key(m)).Err(); err != nil {
		return fmt.Errorf("release milestone: %w", err)
	}
	return nil
}

func (g *RedisMilestoneGuard) key(m sub.Milestone) string {
	return fmt.Sprintf("%smilestone:%s:%d:%d", g.prefix, m.UserID, m.GracePeriodEnd.Unix(), m.DaysRemaining)
}

func (g *RedisMilestoneGuard) ttl(m sub.Milestone) time.Duration {
	return max(m.GracePeriodEnd.Sub(g.now())+24*time.Hour, time.Hour)
}
