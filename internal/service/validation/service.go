// Package validation handles QR-code ticket validation at the venue door.
package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/repository"
	postgresrepo "github.com/mpetrenko/ticketpay/internal/repository/postgres"
)

var (
	ErrCodeNotFound   = errors.New("unknown ticket code")
	ErrAlreadyScanned = errors.New("ticket code already used")
)

type Service struct {
	store *postgresrepo.Store
}

func New(store *postgresrepo.Store) *Service {
	return &Service{store: store}
}

// Scan consumes a booking's QR code. The underlying update is guarded so
// the same code admits exactly once no matter how many scanners race.
//
// Returns:
//   - *domain.Booking: the booking the code belongs to.
//   - error: validation.ErrCodeNotFound or validation.ErrAlreadyScanned.
func (s *Service) Scan(ctx context.Context, code uuid.UUID) (*domain.Booking, error) {
	const op = "service.validation.Scan"

	b, err := s.store.Bookings().MarkScanned(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("%s:%w", op, ErrCodeNotFound)
		case errors.Is(err, repository.ErrAlreadyScanned):
			return nil, fmt.Errorf("%s:%w", op, ErrAlreadyScanned)
		default:
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	return b, nil
}
