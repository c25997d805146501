package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/observability"
	"github.com/mpetrenko/ticketpay/internal/payment"
	redisrepo "github.com/mpetrenko/ticketpay/internal/repository/redis"
)

// TicketSource reads ticket rows; *postgres.TicketRepo satisfies it.
type TicketSource interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Ticket, error)
}

// OrderStore persists pending orders; *postgres.PendingOrderRepo
// satisfies it.
type OrderStore interface {
	Insert(ctx context.Context, o *domain.PendingOrder) error
}

type Config struct {
	SuccessPath string
	CancelPath  string
}

type Service struct {
	tickets  TicketSource
	orders   OrderStore
	provider payment.Provider
	limiter  *redisrepo.SlidingWindowLimiter
	log      *slog.Logger
	cfg      Config
}

func New(
	tickets TicketSource,
	orders OrderStore,
	provider payment.Provider,
	limiter *redisrepo.SlidingWindowLimiter,
	log *slog.Logger,
	cfg Config,
) *Service {
	if cfg.SuccessPath == "" {
		cfg.SuccessPath = "/payments/success"
	}

	if cfg.CancelPath == "" {
		cfg.CancelPath = "/payments/cancel"
	}

	return &Service{
		tickets:  tickets,
		orders:   orders,
		provider: provider,
		limiter:  limiter,
		log:      log,
		cfg:      cfg,
	}
}

// Validate checks a cart against live stock and prices it from the
// ticket rows. Read-only; the stock check here is advisory, the
// finalizer re-checks against live stock at confirmation time.
//
// Returns:
//   - []domain.PricedLineItem: the cart with authoritative unit prices.
//   - error: ErrEmptyCart, TicketNotFoundError, TicketEventMismatchError,
//     InvalidQuantityError or InsufficientStockError.
func (s *Service) Validate(
	ctx context.Context,
	eventID int64,
	items []domain.CartLineItem,
) ([]domain.PricedLineItem, error) {
	const op = "service.checkout.Validate"

	if len(items) == 0 {
		return nil, fmt.Errorf("%s:%w", op, ErrEmptyCart)
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%s:%w", op, InvalidQuantityError{TicketID: it.TicketID, Quantity: it.Quantity})
		}
		ids = append(ids, it.TicketID)
	}

	tickets, err := s.tickets.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	byID := make(map[uuid.UUID]domain.Ticket, len(tickets))
	for _, t := range tickets {
		byID[t.ID] = t
	}

	lineItems := make([]domain.PricedLineItem, 0, len(items))
	for _, it := range items {
		t, ok := byID[it.TicketID]
		if !ok {
			return nil, fmt.Errorf("%s:%w", op, TicketNotFoundError{TicketID: it.TicketID})
		}

		if t.EventID != eventID {
			return nil, fmt.Errorf("%s:%w", op, TicketEventMismatchError{TicketID: it.TicketID, EventID: eventID})
		}

		if it.Quantity > t.Remaining {
			return nil, fmt.Errorf("%s:%w", op, InsufficientStockError{
				TicketID:  it.TicketID,
				Requested: it.Quantity,
				Remaining: t.Remaining,
			})
		}

		lineItems = append(lineItems, domain.PricedLineItem{Ticket: t, Quantity: it.Quantity})
	}

	return lineItems, nil
}

// CreateSession validates the cart, opens a hosted payment session and
// persists the pending order that the webhook will finalize against.
// Session creation is single-shot: on provider failure the buyer simply
// restarts checkout.
//
// Returns:
//   - string: the provider-hosted redirect URL.
//   - error: validation errors from Validate, or ErrProvider.
func (s *Service) CreateSession(
	ctx context.Context,
	userID, eventID int64,
	items []domain.CartLineItem,
	returnOrigin string,
	rlKey string,
) (string, error) {
	const op = "service.checkout.CreateSession"

	if s.limiter != nil && rlKey != "" {
		ok, _, retry, err := s.limiter.Allow(ctx, rlKey)
		if err != nil {
			return "", fmt.Errorf("%s:%w", op, err)
		}
		if !ok {
			return "", fmt.Errorf("%s:%w: retry in %s", op, ErrRateLimited, retry)
		}
	}

	lineItems, err := s.Validate(ctx, eventID, items)
	if err != nil {
		observability.CheckoutSessionsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	cart, err := domain.EncodeCartItems(items)
	if err != nil {
		return "", fmt.Errorf("%s:%w", op, err)
	}

	req := &payment.SessionRequest{
		LineItems: make([]payment.SessionLineItem, 0, len(lineItems)),
		// Metadata carries ids and quantities only. Prices are re-read
		// from the ticket rows at finalization; nothing round-tripped
		// through the provider is price-authoritative.
		Metadata: map[string]string{
			"user_id":  strconv.FormatInt(userID, 10),
			"event_id": strconv.FormatInt(eventID, 10),
			"cart":     string(cart),
		},
		SuccessURL: returnOrigin + s.cfg.SuccessPath,
		CancelURL:  returnOrigin + s.cfg.CancelPath,
	}

	for _, li := range lineItems {
		req.LineItems = append(req.LineItems, payment.SessionLineItem{
			Name:            li.Ticket.Type,
			UnitAmountCents: li.Ticket.UnitPrice.Mul(decimal.NewFromInt(100)).IntPart(),
			Quantity:        int64(li.Quantity),
		})
	}

	session, err := s.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		observability.CheckoutSessionsTotal.WithLabelValues("provider_error").Inc()
		return "", fmt.Errorf("%s:%w: %w", op, ErrProvider, err)
	}

	order := &domain.PendingOrder{
		ID:        uuid.New(),
		SessionID: session.ID,
		UserID:    userID,
		EventID:   eventID,
		Items:     items,
		Status:    domain.OrderPending,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		// The session exists on the provider side but nothing here will
		// ever finalize it; it expires unpaid.
		s.log.Error("orphaned payment session", "session_id", session.ID, "error", err)
		observability.CheckoutSessionsTotal.WithLabelValues("store_error").Inc()
		return "", fmt.Errorf("%s:%w", op, err)
	}

	observability.CheckoutSessionsTotal.WithLabelValues("created").Inc()

	return session.URL, nil
}
