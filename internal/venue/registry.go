// Package venue keeps the set of venues and flash lenders an instance can
// trade against, keyed by venue id.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Registry resolves configured venue ids to live collaborators.
type Registry struct {
	mu      sync.RWMutex
	venues  map[domain.VenueID]domain.LiquidityVenue
	lenders map[domain.VenueID]domain.FlashLender
}

func NewRegistry() *Registry {
	return &Registry{
		venues:  make(map[domain.VenueID]domain.LiquidityVenue),
		lenders: make(map[domain.VenueID]domain.FlashLender),
	}
}

// Register adds or replaces a venue.
func (r *Registry) Register(v domain.LiquidityVenue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.venues[v.ID()] = v
}

// RegisterLender adds or replaces a flash lender.
func (r *Registry) RegisterLender(l domain.FlashLender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lenders[l.ID()] = l
}

func (r *Registry) Venue(id domain.VenueID) (domain.LiquidityVenue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	if !ok {
		return nil, fmt.Errorf("venue: %q: %w", id, domain.ErrUnknownVenue)
	}
	return v, nil
}

func (r *Registry) Lender(id domain.VenueID) (domain.FlashLender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lenders[id]
	if !ok {
		return nil, fmt.Errorf("venue: lender %q: %w", id, domain.ErrUnknownVenue)
	}
	return l, nil
}

// IDs lists registered venue ids in sorted order.
func (r *Registry) IDs() []domain.VenueID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.VenueID, 0, len(r.venues))
	for id := range r.venues {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
