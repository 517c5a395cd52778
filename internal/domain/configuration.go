package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Configuration is the operator-controlled arbitrage setup. It is created
// empty, overwritten field by field, and never deleted.
type Configuration struct {
	SourceVenue      VenueID
	DestinationVenue VenueID
	FlashVenue       VenueID
	// Reverse means the destination venue lists the pair as (asset1, asset0)
	// relative to the source venue.
	Reverse    bool
	MinProfit0 *uint256.Int
	MinProfit1 *uint256.Int
	Operator   common.Address
	UpdatedAt  time.Time
}

// Ready reports whether all three venues are set.
func (c Configuration) Ready() bool {
	return c.SourceVenue != "" && c.DestinationVenue != "" && c.FlashVenue != ""
}

// DestinationDirection maps a source-side direction onto the raw direction
// used when selling the leg-1 output into the destination venue.
func (c Configuration) DestinationDirection(dir Direction) Direction {
	if c.Reverse {
		return dir
	}
	return dir.Opposite()
}

// PairKey names the venues one attempt touches, lender included, for
// locking and logging.
func (c Configuration) PairKey() string {
	return string(c.SourceVenue) + ":" + string(c.DestinationVenue) + ":" + string(c.FlashVenue)
}

// Venues lists the source, destination and flash venues.
func (c Configuration) Venues() []VenueID {
	return []VenueID{c.SourceVenue, c.DestinationVenue, c.FlashVenue}
}
