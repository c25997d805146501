package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/repository"
)

type PendingOrderRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *PendingOrderRepo) With(db DB) *PendingOrderRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *PendingOrderRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *PendingOrderRepo) Insert(ctx context.Context, o *domain.PendingOrder) error {
	const op = "postgres.PendingOrderRepo.Insert"

	items, err := domain.EncodeCartItems(o.Items)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	db := r.handle()

	_, err = db.Exec(ctx,
		`INSERT INTO pending_orders(id, session_id, user_id, event_id, items, status)
       	 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.SessionID, o.UserID, o.EventID, items, o.Status,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// GetBySession resolves the order a payment session belongs to. This is
// the authoritative cart at confirmation time; provider-echoed metadata
// is never trusted for it.
func (r *PendingOrderRepo) GetBySession(ctx context.Context, sessionID string) (*domain.PendingOrder, error) {
	const op = "postgres.PendingOrderRepo.GetBySession"

	db := r.handle()

	var o domain.PendingOrder
	var items []byte
	err := db.QueryRow(ctx,
		`SELECT id, session_id, user_id, event_id, items, status, created_at
       	 FROM pending_orders WHERE session_id = $1`,
		sessionID,
	).Scan(&o.ID, &o.SessionID, &o.UserID, &o.EventID, &items, &o.Status, &o.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	o.Items, err = domain.DecodeCartItems(items)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &o, nil
}

// MarkProcessed flips a pending order to processed once.
//
// Returns:
//   - error: repository.ErrNotFound if the order does not exist.
//   - error: repository.ErrOrderProcessed if it was processed before.
func (r *PendingOrderRepo) MarkProcessed(ctx context.Context, sessionID string) error {
	const op = "postgres.PendingOrderRepo.MarkProcessed"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`UPDATE pending_orders
         SET status = $2
      	 WHERE session_id = $1 AND status = $3`,
		sessionID, domain.OrderProcessed, domain.OrderPending,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pending_orders WHERE session_id = $1)`,
			sessionID,
		).Scan(&exists); err != nil {
			return wrapDBErr(op, err)
		}
		if !exists {
			return fmt.Errorf("%s:%w", op, repository.ErrNotFound)
		}
		return fmt.Errorf("%s:%w", op, repository.ErrOrderProcessed)
	}

	return nil
}
