package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ReplayGuard implements domain.ReplayGuard with SET NX, so a signed
// request accepted by one instance is refused by every other.
type ReplayGuard struct {
	rdb *redis.Client
}

// NewReplayGuard creates a ReplayGuard backed by c.
func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{rdb: c.Underlying()}
}

// Claim marks k used for ttl. It returns false if k is already marked.
func (g *ReplayGuard) Claim(ctx context.Context, k string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, key("replay", k), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", k, err)
	}
	return ok, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
