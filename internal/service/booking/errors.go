package booking

import "errors"

var (
	ErrTicketMissing         = errors.New("ticket missing at finalization")
	ErrInsufficientStock     = errors.New("insufficient stock at finalization")
	ErrInventoryUpdateFailed = errors.New("inventory update failed")
	ErrBookingCreationFailed = errors.New("booking creation failed")
	ErrInvalidQuantity       = errors.New("invalid quantity")
)

// Outcome classifies one webhook delivery as a whole. Per-line-item
// failures live in Result.Failed; they never turn the delivery itself
// into a failure, otherwise the provider would retry a condition that
// cannot change.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
)
