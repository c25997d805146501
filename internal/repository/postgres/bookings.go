package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/repository"
)

type BookingRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *BookingRepo) Insert(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Insert"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO bookings(id, user_id, event_id, ticket_id, quantity,
			total_price, status, qr_code)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.UserID, b.EventID, b.TicketID, b.Quantity,
		b.TotalPrice, b.Status, b.QRCode,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *BookingRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"

	db := r.handle()

	var b domain.Booking
	err := db.QueryRow(ctx,
		`SELECT id, user_id, event_id, ticket_id, quantity, total_price,
			status, qr_code, scanned_at, created_at
       	 FROM bookings WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.UserID, &b.EventID, &b.TicketID, &b.Quantity,
		&b.TotalPrice, &b.Status, &b.QRCode, &b.ScannedAt, &b.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &b, nil
}

func (r *BookingRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListByUser"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, user_id, event_id, ticket_id, quantity, total_price,
			status, qr_code, scanned_at, created_at
       	 FROM bookings WHERE user_id = $1
      	 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.UserID, &b.EventID, &b.TicketID, &b.Quantity,
			&b.TotalPrice, &b.Status, &b.QRCode, &b.ScannedAt, &b.CreatedAt); err != nil {
			return nil, wrapDBErr(op, err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return bookings, nil
}

// MarkScanned consumes a QR code exactly once. The scanned_at IS NULL
// guard makes the second scan of the same code fail, not double-admit.
//
// Returns:
//   - *domain.Booking: the booking the code belongs to.
//   - error: repository.ErrNotFound if no booking carries the code.
//   - error: repository.ErrAlreadyScanned on a repeat scan.
func (r *BookingRepo) MarkScanned(ctx context.Context, qrCode uuid.UUID) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.MarkScanned"

	db := r.handle()

	var b domain.Booking
	err := db.QueryRow(ctx,
		`UPDATE bookings
         SET scanned_at = now()
      	 WHERE qr_code = $1 AND scanned_at IS NULL
      	 RETURNING id, user_id, event_id, ticket_id, quantity, total_price,
			status, qr_code, scanned_at, created_at`,
		qrCode,
	).Scan(&b.ID, &b.UserID, &b.EventID, &b.TicketID, &b.Quantity,
		&b.TotalPrice, &b.Status, &b.QRCode, &b.ScannedAt, &b.CreatedAt)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapDBErr(op, err)
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bookings WHERE qr_code = $1)`, qrCode,
	).Scan(&exists); err != nil {
		return nil, wrapDBErr(op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrAlreadyScanned)
}
