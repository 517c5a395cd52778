package domain

import "errors"

// Pricing and search.
var (
	ErrArithmeticOverflow    = errors.New("arithmetic overflow")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrNoProfitableTrade     = errors.New("no profitable trade")
	ErrInvalidVenueState     = errors.New("invalid venue state")
)

// Execution aborts. Each one rolls the whole attempt back.
var (
	ErrLoanUnavailable    = errors.New("loan unavailable")
	ErrSlippageExceeded   = errors.New("slippage exceeded")
	ErrRepaymentShortfall = errors.New("repayment shortfall")
	ErrBelowMinimumProfit = errors.New("below minimum profit")
)

// Configuration and custody misuse.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotConfigured       = errors.New("not configured")
	ErrUnknownVenue        = errors.New("unknown venue")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrSigningFailed = errors.New("signing failed")
)

// IsAbort reports whether err is one of the execution abort reasons.
func IsAbort(err error) bool {
	return errors.Is(err, ErrLoanUnavailable) ||
		errors.Is(err, ErrSlippageExceeded) ||
		errors.Is(err, ErrRepaymentShortfall) ||
		errors.Is(err, ErrBelowMinimumProfit)
}
