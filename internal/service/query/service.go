package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/repository"
	postgresrepo "github.com/mpetrenko/ticketpay/internal/repository/postgres"
	redisrepo "github.com/mpetrenko/ticketpay/internal/repository/redis"
)

type Config struct {
	EventSummaryTTL  time.Duration
	AvailabilityTTL  time.Duration
	DefaultEventPage int
	MaxEventPage     int
}

type Service struct {
	store *postgresrepo.Store
	cache *redisrepo.Cache
	cfg   Config
}

func New(store *postgresrepo.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 15 * time.Second
	}

	if cfg.DefaultEventPage <= 0 {
		cfg.DefaultEventPage = 50
	}

	if cfg.MaxEventPage <= 0 {
		cfg.MaxEventPage = 200
	}

	return &Service{
		store: store,
		cache: cache,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event by its ID through the cache layer.
//
// Returns:
//   - *domain.Event: the retrieved event, or nil if not found.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) GetEvent(ctx context.Context, id int64) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	key := redisrepo.KeyEventSummary(id)

	event, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.EventSummaryTTL,
		func(ctx context.Context) (domain.Event, error) {
			e, err := s.store.Events().Get(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return domain.Event{}, ErrEventNotFound
				}

				return domain.Event{}, err
			}

			return *e, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &event, nil
}

func (s *Service) ListEvents(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	const op = "service.query.ListEvents"

	if limit <= 0 {
		limit = s.cfg.DefaultEventPage
	}

	if limit > s.cfg.MaxEventPage {
		limit = s.cfg.MaxEventPage
	}

	events, err := s.store.Events().List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return events, nil
}

// EventTickets retrieves the per-ticket-type availability for an event,
// cached with a short TTL. Finalization invalidates the key, so the view
// lags live stock by at most the TTL.
//
// Returns:
//   - []domain.TicketAvailability: the availability rows.
//   - error: query.ErrEventNotFound if the event is not found.
func (s *Service) EventTickets(ctx context.Context, eventID int64) ([]domain.TicketAvailability, error) {
	const op = "service.query.EventTickets"

	key := redisrepo.KeyEventAvailability(eventID)

	availability, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		key,
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) ([]domain.TicketAvailability, error) {
			tickets, err := s.store.Tickets().ListByEvent(ctx, eventID)
			if err != nil {
				return nil, err
			}

			if len(tickets) == 0 {
				if _, err := s.store.Events().Get(ctx, eventID); err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return nil, ErrEventNotFound
					}
					return nil, err
				}
			}

			out := make([]domain.TicketAvailability, 0, len(tickets))
			for _, t := range tickets {
				out = append(out, domain.TicketAvailability{
					TicketID:  t.ID,
					Type:      t.Type,
					UnitPrice: t.UnitPrice,
					Remaining: t.Remaining,
				})
			}

			return out, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return availability, nil
}

// GetBooking retrieves a booking by its ID.
//
// Returns:
//   - *domain.Booking: the retrieved booking, or nil if not found.
//   - error: query.ErrBookingNotFound if the booking is not found.
func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "service.query.GetBooking"

	b, err := s.store.Bookings().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrBookingNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Service) ListUserBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	const op = "service.query.ListUserBookings"

	bookings, err := s.store.Bookings().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return bookings, nil
}
