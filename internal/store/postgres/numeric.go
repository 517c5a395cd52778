package postgres

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5/pgtype"
)

// Amounts are NUMERIC(78,0): wide enough for any 256-bit value.

func numericFromU256(v *uint256.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: v.ToBig(), Valid: true}
}

func numericFromBig(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

// bigFromNumeric folds the exponent back in. Only whole numbers are stored.
func bigFromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("postgres: non-finite numeric")
	}
	out := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		out.QuoRem(out, div, &rem)
		if rem.Sign() != 0 {
			return nil, fmt.Errorf("postgres: fractional amount %s", n.Int.String())
		}
	}
	return out, nil
}

func u256FromNumeric(n pgtype.Numeric) (*uint256.Int, error) {
	b, err := bigFromNumeric(n)
	if err != nil || b == nil {
		return nil, err
	}
	v, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return nil, fmt.Errorf("postgres: amount %s out of range", b.String())
	}
	return v, nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
