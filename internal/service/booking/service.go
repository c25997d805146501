package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/notify"
	"github.com/mpetrenko/ticketpay/internal/observability"
	"github.com/mpetrenko/ticketpay/internal/payment"
	"github.com/mpetrenko/ticketpay/internal/repository"
	postgresrepo "github.com/mpetrenko/ticketpay/internal/repository/postgres"
	redisrepo "github.com/mpetrenko/ticketpay/internal/repository/redis"
	"github.com/mpetrenko/ticketpay/internal/uow"
)

// finalizeAttempts bounds retries on transient tx failures (40001/40P01).
const finalizeAttempts = 3

type ItemFailure struct {
	TicketID uuid.UUID
	Err      error
}

type Result struct {
	Outcome   Outcome
	Completed []domain.Booking
	Failed    []ItemFailure
}

// Service drives payment confirmation: webhook dedup, pending-order
// resolution and per-line-item finalization.
type Service struct {
	store    *postgresrepo.Store
	uow      *uow.UoW
	cache    *redisrepo.Cache
	idem     *redisrepo.IdempotencyStore
	notifier *notify.Dispatcher
	log      *slog.Logger
}

func New(
	store *postgresrepo.Store,
	cache *redisrepo.Cache,
	idem *redisrepo.IdempotencyStore,
	notifier *notify.Dispatcher,
	log *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		uow:      uow.NewUoW(store),
		cache:    cache,
		idem:     idem,
		notifier: notifier,
		log:      log,
	}
}

// HandlePaymentEvent processes one verified provider event. Deliveries
// are at-least-once, so they are deduplicated before anything is
// mutated: redis fast path on the event id, then a durable claim on the
// session id. Claiming the session rather than the event id also covers
// a provider retrying under a fresh event id after our processed-status
// update failed. The cart is resolved from the pending order persisted
// at checkout, never from provider-echoed metadata.
//
// An error return means infrastructure trouble before any finalization
// started; the caller should let the provider retry. Once finalization
// ran, the result is always non-error regardless of per-item failures.
func (s *Service) HandlePaymentEvent(ctx context.Context, evt *payment.Event) (*Result, error) {
	const op = "service.booking.HandlePaymentEvent"

	if evt.Type != payment.EventCheckoutCompleted {
		observability.WebhookEventsTotal.WithLabelValues(string(OutcomeIgnored)).Inc()
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	idemKey := redisrepo.KeyWebhookEvent(evt.ID)
	if s.idem != nil {
		if _, ok, _ := s.idem.GetResult(ctx, idemKey); ok {
			observability.WebhookEventsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
			return &Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	order, err := s.store.PendingOrders().GetBySession(ctx, evt.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Permanent: nothing durable matches this session. Logged
			// loudly; metadata presence helps operators reconcile by hand.
			s.log.Error("webhook for unknown session",
				"event_id", evt.ID,
				"session_id", evt.SessionID,
				"has_metadata", len(evt.Metadata) > 0,
			)
			observability.WebhookEventsTotal.WithLabelValues(string(OutcomeUnmatched)).Inc()
			return &Result{Outcome: OutcomeUnmatched}, nil
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if order.Status == domain.OrderProcessed {
		observability.WebhookEventsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	if err := s.store.WebhookClaims().Claim(ctx, order.SessionID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			observability.WebhookEventsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
			return &Result{Outcome: OutcomeDuplicate}, nil
		}

		return nil, fmt.Errorf("%s:%w", op, err)
	}

	res := &Result{Outcome: OutcomeProcessed}

	// Line items are isolated: one failing item neither blocks nor rolls
	// back the others in the same cart.
	for _, item := range order.Items {
		b, err := s.FinalizeItem(ctx, order.UserID, order.EventID, item.TicketID, item.Quantity)
		if err != nil {
			res.Failed = append(res.Failed, ItemFailure{TicketID: item.TicketID, Err: err})
			continue
		}
		res.Completed = append(res.Completed, *b)
	}

	// The session claim above is the dedup guard; a failed status update
	// here costs reporting accuracy, not correctness.
	if err := s.store.PendingOrders().MarkProcessed(ctx, order.SessionID); err != nil {
		s.log.Error("failed to mark order processed", "session_id", order.SessionID, "error", err)
	}

	if s.idem != nil {
		_ = s.idem.SaveResult(ctx, idemKey, string(OutcomeProcessed))
	}

	observability.WebhookEventsTotal.WithLabelValues(string(OutcomeProcessed)).Inc()

	return res, nil
}

// FinalizeItem converts one paid cart line item into a booking. The
// stock re-read, floor check and decrement are a single conditional
// UPDATE, and the booking insert shares its transaction, so a failed
// insert rolls the decrement back atomically. The completed transaction
// audit row is written after commit: if it fails the booking stands and
// the gap is logged and counted, honoring the purchase over the audit
// trail.
//
// Returns:
//   - *domain.Booking: the completed booking.
//   - error: ErrTicketMissing, ErrInsufficientStock,
//     ErrInventoryUpdateFailed or ErrBookingCreationFailed. Every failure
//     also leaves a failed transaction audit row.
func (s *Service) FinalizeItem(
	ctx context.Context,
	userID, eventID int64,
	ticketID uuid.UUID,
	quantity int,
) (*domain.Booking, error) {
	const op = "service.booking.FinalizeItem"

	start := time.Now()
	defer func() {
		observability.FinalizeDuration.Observe(time.Since(start).Seconds())
	}()

	if quantity <= 0 {
		s.recordFailure(ctx, userID, eventID, ticketID, decimal.Zero)
		return nil, fmt.Errorf("%s:%w", op, ErrInvalidQuantity)
	}

	var (
		booking  *domain.Booking
		amount   decimal.Decimal
		finalErr error
	)

	txOpts := &pgx.TxOptions{
		// The conditional decrement carries the correctness; serializable
		// isolation would only add spurious 40001s under contention.
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}

	for attempt := 0; attempt < finalizeAttempts; attempt++ {
		booking, amount, finalErr = s.finalizeOnce(ctx, txOpts, userID, eventID, ticketID, quantity)
		if finalErr == nil || !postgresrepo.IsRetryable(finalErr) {
			break
		}
	}

	if finalErr != nil {
		reason := classify(finalErr)
		observability.FinalizationFailuresTotal.WithLabelValues(reason).Inc()
		if errors.Is(finalErr, ErrInsufficientStock) {
			observability.OversellRejectionsTotal.Inc()
		}

		// Stock exhaustion and similar are never surfaced to the webhook
		// caller as delivery failures; the audit row is their record.
		s.recordFailure(ctx, userID, eventID, ticketID, amount)

		return nil, fmt.Errorf("%s:%w", op, finalErr)
	}

	observability.BookingsCompletedTotal.Inc()

	return booking, nil
}

func (s *Service) finalizeOnce(
	ctx context.Context,
	txOpts *pgx.TxOptions,
	userID, eventID int64,
	ticketID uuid.UUID,
	quantity int,
) (*domain.Booking, decimal.Decimal, error) {
	var (
		booking domain.Booking
		amount  decimal.Decimal
	)

	err := s.uow.DoWithOpts(ctx, txOpts, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		t, err := s.store.Tickets().With(tx).Decrement(ctx, ticketID, quantity)
		if err != nil {
			switch {
			case errors.Is(err, repository.ErrNotFound):
				return ErrTicketMissing
			case errors.Is(err, repository.ErrInsufficientStock):
				return ErrInsufficientStock
			default:
				return fmt.Errorf("%w: %w", ErrInventoryUpdateFailed, err)
			}
		}

		amount = t.UnitPrice.Mul(decimal.NewFromInt(int64(quantity)))

		booking = domain.Booking{
			ID:         uuid.New(),
			UserID:     userID,
			EventID:    eventID,
			TicketID:   ticketID,
			Quantity:   quantity,
			TotalPrice: amount,
			Status:     domain.BookingCompleted,
			QRCode:     uuid.New(),
		}

		if err := s.store.Bookings().With(tx).Insert(ctx, &booking); err != nil {
			// Aborting the tx restores the decremented stock; the failed
			// transaction audit row is written by the caller, outside
			// this (now doomed) tx.
			return fmt.Errorf("%w: %w", ErrBookingCreationFailed, err)
		}

		after(func(ctx context.Context) {
			txn := &domain.Transaction{
				ID:       uuid.New(),
				UserID:   userID,
				EventID:  eventID,
				TicketID: ticketID,
				Amount:   amount,
				Status:   domain.TransactionCompleted,
				Type:     domain.TransactionPurchase,
			}
			if err := s.store.Transactions().Insert(ctx, txn); err != nil {
				s.log.Error("completed booking without audit row",
					"booking_id", booking.ID, "error", err)
				observability.AuditWriteFailuresTotal.Inc()
			}

			_ = s.cache.InvalidateEvent(ctx, eventID)

			if s.notifier != nil {
				err := s.notifier.Send(ctx, notify.ChannelEmail,
					"user:"+strconv.FormatInt(userID, 10),
					notify.Content{
						Subject: "Your tickets are booked",
						Body:    fmt.Sprintf("Booking %s confirmed for event %d.", booking.ID, eventID),
					})
				if err != nil {
					s.log.Warn("booking notification failed", "booking_id", booking.ID, "error", err)
				}
			}
		})

		return nil
	})
	if err != nil {
		return nil, amount, err
	}

	return &booking, amount, nil
}

// recordFailure appends the failed transaction audit row. Amount is zero
// unless the failure happened after the price was established.
func (s *Service) recordFailure(
	ctx context.Context,
	userID, eventID int64,
	ticketID uuid.UUID,
	amount decimal.Decimal,
) {
	txn := &domain.Transaction{
		ID:       uuid.New(),
		UserID:   userID,
		EventID:  eventID,
		TicketID: ticketID,
		Amount:   amount,
		Status:   domain.TransactionFailed,
		Type:     domain.TransactionPurchase,
	}

	if err := s.store.Transactions().Insert(ctx, txn); err != nil {
		s.log.Error("failed to record failed transaction",
			"ticket_id", ticketID, "user_id", userID, "error", err)
		observability.AuditWriteFailuresTotal.Inc()
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrTicketMissing):
		return "ticket_missing"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrBookingCreationFailed):
		return "booking_creation"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	default:
		return "inventory_update"
	}
}
