package httpgin

import "time"

type CartItemInput struct {
	TicketID string `json:"ticket_id" binding:"required,uuid"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

type CheckoutRequest struct {
	EventID int64           `json:"event_id" binding:"required"`
	Items   []CartItemInput `json:"items" binding:"required,min=1,dive"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type WebhookResponse struct {
	Outcome string `json:"outcome"`
}

type ValidateTicketRequest struct {
	Code string `json:"code" binding:"required,uuid"`
}

type ValidateTicketResponse struct {
	BookingID string    `json:"booking_id"`
	EventID   int64     `json:"event_id"`
	Quantity  int       `json:"quantity"`
	ScannedAt time.Time `json:"scanned_at"`
}

type CreateEventRequest struct {
	Title    string `json:"title" binding:"required"`
	Venue    string `json:"venue" binding:"required"`
	StartsAt string `json:"starts_at" binding:"required"`
	EndsAt   string `json:"ends_at" binding:"required"`
}

type CreateEventResponse struct {
	EventID int64 `json:"event_id"`
}

type TicketInput struct {
	Type      string `json:"type" binding:"required"`
	UnitPrice string `json:"unit_price" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

type AddTicketsRequest struct {
	Tickets []TicketInput `json:"tickets" binding:"required,min=1,dive"`
}

type AddTicketsResponse struct {
	TicketIDs []string `json:"ticket_ids"`
}

type RestockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
