package executor

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Dedup suppresses repeat executions of the same opportunity within a
// time-to-live window. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time // fingerprint -> last seen time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that treats a fingerprint seen within ttl as a
// duplicate.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if fingerprint has been seen within the TTL
// window. Otherwise it is recorded and false is returned.
func (d *Dedup) IsDuplicate(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[fingerprint]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[fingerprint] = now
	return false
}

// Forget drops fingerprint so the next sighting is not a duplicate. Callers
// use it when the attempt aborted.
func (d *Dedup) Forget(fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, fingerprint)
}

// Cleanup removes entries that have expired beyond the TTL. Call it
// periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Fingerprint identifies an opportunity by venue pair, direction and the
// quoted amounts of both legs. Unchanged venue state yields the same value.
func Fingerprint(r domain.ArbitrageResult) string {
	var buf []byte
	for _, part := range []string{
		string(r.VenueA),
		string(r.VenueB),
		string(r.FlashVenue),
		r.Direction.String(),
		dec(r.SwapAmount),
		dec(r.Leg1.AmountOut),
		dec(r.Leg2.AmountOut),
	} {
		buf = append(buf, part...)
		buf = append(buf, 0)
	}
	return crypto.Keccak256Hash(buf).Hex()
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
