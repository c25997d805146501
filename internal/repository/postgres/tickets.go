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

type TicketRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TicketRepo) With(db DB) *TicketRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TicketRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *TicketRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	const op = "postgres.TicketRepo.Get"

	db := r.handle()

	var t domain.Ticket
	err := db.QueryRow(ctx,
		`SELECT id, event_id, type, unit_price, remaining_quantity
       	 FROM tickets WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.EventID, &t.Type, &t.UnitPrice, &t.Remaining)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &t, nil
}

// ListByIDs returns the tickets for the given ids. Missing ids are simply
// absent from the result; callers decide whether that is an error.
func (r *TicketRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Ticket, error) {
	const op = "postgres.TicketRepo.ListByIDs"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, event_id, type, unit_price, remaining_quantity
       	 FROM tickets WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.EventID, &t.Type, &t.UnitPrice, &t.Remaining); err != nil {
			return nil, wrapDBErr(op, err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return tickets, nil
}

func (r *TicketRepo) ListByEvent(ctx context.Context, eventID int64) ([]domain.Ticket, error) {
	const op = "postgres.TicketRepo.ListByEvent"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, event_id, type, unit_price, remaining_quantity
       	 FROM tickets WHERE event_id = $1
      	 ORDER BY type`,
		eventID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		if err := rows.Scan(&t.ID, &t.EventID, &t.Type, &t.UnitPrice, &t.Remaining); err != nil {
			return nil, wrapDBErr(op, err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return tickets, nil
}

// Decrement atomically takes qty units off the ticket's remaining stock.
// The floor check and the write are a single statement, so two concurrent
// finalizations can never both pass the check and drive stock negative.
//
// Returns:
//   - *domain.Ticket: the ticket with Remaining already decremented.
//   - error: repository.ErrNotFound if the ticket does not exist.
//   - error: repository.ErrInsufficientStock if stock would underflow.
func (r *TicketRepo) Decrement(ctx context.Context, id uuid.UUID, qty int) (*domain.Ticket, error) {
	const op = "postgres.TicketRepo.Decrement"

	db := r.handle()

	var t domain.Ticket
	err := db.QueryRow(ctx,
		`UPDATE tickets
         SET remaining_quantity = remaining_quantity - $2
      	 WHERE id = $1 AND remaining_quantity >= $2
      	 RETURNING id, event_id, type, unit_price, remaining_quantity`,
		id, qty,
	).Scan(&t.ID, &t.EventID, &t.Type, &t.UnitPrice, &t.Remaining)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapDBErr(op, err)
	}

	// Zero rows: either the ticket is gone or stock is short.
	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, wrapDBErr(op, err)
	}

	if !exists {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrInsufficientStock)
}

// Restore adds qty units back. Used by admin restock and as the manual
// compensation path; booking finalization itself compensates by rolling
// back its transaction.
func (r *TicketRepo) Restore(ctx context.Context, id uuid.UUID, qty int) error {
	const op = "postgres.TicketRepo.Restore"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE tickets
         SET remaining_quantity = remaining_quantity + $2
      	 WHERE id = $1`,
		id, qty,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}

	return nil
}

func (r *TicketRepo) CreateBatch(ctx context.Context, tickets []domain.Ticket) error {
	const op = "postgres.TicketRepo.CreateBatch"

	db := r.handle()

	batch := &pgx.Batch{}
	for _, t := range tickets {
		batch.Queue(
			`INSERT INTO tickets(id, event_id, type, unit_price, remaining_quantity)
         	 VALUES ($1, $2, $3, $4, $5)`,
			t.ID, t.EventID, t.Type, t.UnitPrice, t.Remaining,
		)
	}
	if err := db.SendBatch(ctx, batch).Close(); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}
