package checkout

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrEmptyCart   = errors.New("cart is empty")
	ErrProvider    = errors.New("payment provider failure")
	ErrRateLimited = errors.New("too many checkout attempts")
)

type TicketNotFoundError struct {
	TicketID uuid.UUID
}

func (e TicketNotFoundError) Error() string {
	return fmt.Sprintf("ticket not found: %s", e.TicketID)
}

type TicketEventMismatchError struct {
	TicketID uuid.UUID
	EventID  int64
}

func (e TicketEventMismatchError) Error() string {
	return fmt.Sprintf("ticket %s does not belong to event %d", e.TicketID, e.EventID)
}

type InvalidQuantityError struct {
	TicketID uuid.UUID
	Quantity int
}

func (e InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %d for ticket %s", e.Quantity, e.TicketID)
}

type InsufficientStockError struct {
	TicketID  uuid.UUID
	Requested int
	Remaining int
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("ticket %s: requested %d, only %d remaining", e.TicketID, e.Requested, e.Remaining)
}
