// Package payment defines the contract with the hosted payment provider.
// The provider's checkout UI and retry machinery are black boxes; the two
// observable facts are the session redirect URL and the signed
// confirmation event.
package payment

import (
	"context"
	"errors"
)

type EventType string

const (
	EventCheckoutCompleted EventType = "checkout.session.completed"
	EventCheckoutExpired   EventType = "checkout.session.expired"
	EventPaymentFailed     EventType = "payment.failed"
)

var (
	ErrBadSignature = errors.New("invalid webhook signature")
	ErrProvider     = errors.New("payment provider error")
)

type SessionLineItem struct {
	Name            string `json:"name"`
	UnitAmountCents int64  `json:"unit_amount"`
	Quantity        int64  `json:"quantity"`
}

type SessionRequest struct {
	LineItems []SessionLineItem `json:"line_items"`
	// Metadata is opaque to the provider and echoed back in events. It is
	// used for provider-side reconciliation only; finalization resolves
	// the cart from the pending order, never from here.
	Metadata   map[string]string `json:"metadata"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id"`
	Metadata  map[string]string `json:"metadata"`
}

// Provider is the hosted payment gateway.
type Provider interface {
	// CreateCheckoutSession is single-shot; on error the buyer restarts
	// checkout, there is no retry.
	CreateCheckoutSession(ctx context.Context, req *SessionRequest) (*Session, error)

	// VerifyEvent authenticates and parses a webhook delivery. It must
	// fail closed: any signature problem returns ErrBadSignature and the
	// payload is not to be interpreted.
	VerifyEvent(payload []byte, sigHeader string) (*Event, error)
}
