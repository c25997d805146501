package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/repository"
	postgresrepo "github.com/mpetrenko/ticketpay/internal/repository/postgres"
	redisrepo "github.com/mpetrenko/ticketpay/internal/repository/redis"
	"github.com/mpetrenko/ticketpay/internal/uow"
)

// Service seeds events and ticket allotments. Stock edits here are an
// organizer concern and never run concurrently with checkout for the
// same allotment in practice; restock still goes through an atomic add.
type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	uow   *uow.UoW
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache) *Service {
	return &Service{
		store: store,
		cache: cache,
		uow:   uow.NewUoW(store),
	}
}

type TicketInput struct {
	Type      string
	UnitPrice decimal.Decimal
	Quantity  int
}

func (s *Service) CreateEvent(
	ctx context.Context,
	title, venue string,
	starts, ends time.Time,
) (int64, error) {
	const op = "service.admin.CreateEvent"

	id, err := s.store.Events().Create(ctx, &domain.Event{
		Title:  title,
		Venue:  venue,
		Starts: starts,
		Ends:   ends,
	})
	if err != nil {
		return 0, fmt.Errorf("%s:%w", op, err)
	}

	return id, nil
}

// AddTickets creates ticket allotments for an event in one transaction.
//
// Returns:
//   - []uuid.UUID: ids of the created tickets, in input order.
//   - error: admin.ErrEventNotFound if the event does not exist.
//   - error: admin.ErrTicketConflict on a conflicting insert.
func (s *Service) AddTickets(
	ctx context.Context,
	eventID int64,
	inputs []TicketInput,
) ([]uuid.UUID, error) {
	const op = "service.admin.AddTickets"

	if len(inputs) == 0 {
		return nil, fmt.Errorf("%s: no tickets given", op)
	}

	tickets := make([]domain.Ticket, 0, len(inputs))
	ids := make([]uuid.UUID, 0, len(inputs))
	for _, in := range inputs {
		id := uuid.New()
		ids = append(ids, id)
		tickets = append(tickets, domain.Ticket{
			ID:        id,
			EventID:   eventID,
			Type:      in.Type,
			UnitPrice: in.UnitPrice,
			Remaining: in.Quantity,
		})
	}

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx postgresrepo.DB,
		after func(uow.AfterCommit),
	) error {
		if _, err := s.store.Events().With(tx).Get(ctx, eventID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%s:%w", op, ErrEventNotFound)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		if err := s.store.Tickets().With(tx).CreateBatch(ctx, tickets); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%s:%w", op, ErrTicketConflict)
			}

			return fmt.Errorf("%s:%w", op, err)
		}

		after(func(ctx context.Context) {
			_ = s.cache.InvalidateEvent(ctx, eventID)
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Restock adds qty units to an existing allotment.
//
// Returns:
//   - error: admin.ErrTicketNotFound if the ticket does not exist.
func (s *Service) Restock(ctx context.Context, ticketID uuid.UUID, qty int) error {
	const op = "service.admin.Restock"

	if qty <= 0 {
		return fmt.Errorf("%s: quantity must be positive", op)
	}

	t, err := s.store.Tickets().Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s:%w", op, ErrTicketNotFound)
		}

		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.store.Tickets().Restore(ctx, ticketID, qty); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	_ = s.cache.InvalidateEvent(ctx, t.EventID)

	return nil
}
