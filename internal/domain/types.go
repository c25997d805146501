package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingCompleted BookingStatus = "completed"
	BookingFailed    BookingStatus = "failed"
)

type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// TransactionPurchase is the only transaction type the checkout core
// produces; refunds would add their own.
const TransactionPurchase = "purchase"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderProcessed OrderStatus = "processed"
)

type Event struct {
	ID     int64
	Title  string
	Venue  string
	Starts time.Time
	Ends   time.Time
}

// Ticket is a purchasable allotment for an event. UnitPrice is the only
// authoritative price in the system; Remaining is decremented exclusively
// by booking finalization.
type Ticket struct {
	ID        uuid.UUID
	EventID   int64
	Type      string
	UnitPrice decimal.Decimal
	Remaining int
}

// CartLineItem is a requested (ticket, quantity) pair. It is never
// persisted on its own; it lives inside a checkout request and, as JSON,
// inside a pending order.
type CartLineItem struct {
	TicketID uuid.UUID `json:"ticket_id"`
	Quantity int       `json:"quantity"`
}

// PricedLineItem is a cart line item after validation, with the price
// re-read from the ticket row.
type PricedLineItem struct {
	Ticket   Ticket
	Quantity int
}

func (li PricedLineItem) Total() decimal.Decimal {
	return li.Ticket.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Booking struct {
	ID         uuid.UUID
	UserID     int64
	EventID    int64
	TicketID   uuid.UUID
	Quantity   int
	TotalPrice decimal.Decimal
	Status     BookingStatus
	QRCode     uuid.UUID
	ScannedAt  *time.Time
	CreatedAt  time.Time
}

type Transaction struct {
	ID        uuid.UUID
	UserID    int64
	EventID   int64
	TicketID  uuid.UUID
	Amount    decimal.Decimal
	Status    TransactionStatus
	Type      string
	CreatedAt time.Time
}

// PendingOrder is the durable record of a checkout awaiting payment
// confirmation. It is keyed by the provider's session id so the webhook
// never has to trust cart contents echoed back in metadata.
type PendingOrder struct {
	ID        uuid.UUID
	SessionID string
	UserID    int64
	EventID   int64
	Items     []CartLineItem
	Status    OrderStatus
	CreatedAt time.Time
}

// TicketAvailability is the public per-ticket-type stock view.
type TicketAvailability struct {
	TicketID  uuid.UUID       `json:"ticket_id"`
	Type      string          `json:"type"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Remaining int             `json:"remaining"`
}

func EncodeCartItems(items []CartLineItem) ([]byte, error) {
	return json.Marshal(items)
}

func DecodeCartItems(b []byte) ([]CartLineItem, error) {
	var items []CartLineItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	return items, nil
}
