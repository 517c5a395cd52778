package domain

import "fmt"

// Direction selects which asset of a pair is sold into a venue.
type Direction uint8

const (
	// ZeroForOne sells asset0 and receives asset1.
	ZeroForOne Direction = iota
	// OneForZero sells asset1 and receives asset0.
	OneForZero
)

func (d Direction) String() string {
	switch d {
	case ZeroForOne:
		return "zero_for_one"
	case OneForZero:
		return "one_for_zero"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Opposite returns the reverse swap direction.
func (d Direction) Opposite() Direction {
	if d == ZeroForOne {
		return OneForZero
	}
	return ZeroForOne
}

// InputIndex is the index (0 or 1) of the asset sold in this direction.
func (d Direction) InputIndex() int {
	if d == ZeroForOne {
		return 0
	}
	return 1
}

// ParseDirection accepts the String form or the short forms "0to1"/"1to0".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "zero_for_one", "0to1", "zeroForOne":
		return ZeroForOne, nil
	case "one_for_zero", "1to0", "oneForZero":
		return OneForZero, nil
	}
	return 0, fmt.Errorf("domain: unknown direction %q", s)
}

func (d Direction) MarshalText() ([]byte, error) {
	if d > OneForZero {
		return nil, fmt.Errorf("domain: invalid direction %d", uint8(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	parsed, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
