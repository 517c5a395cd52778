package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// ReplayGuard is an in-process domain.ReplayGuard. Expired keys are
// dropped on the next Claim.
type ReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *ReplayGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

var _ domain.ReplayGuard = (*ReplayGuard)(nil)
