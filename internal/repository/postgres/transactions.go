package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mpetrenko/ticketpay/internal/domain"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *TransactionRepo) With(db DB) *TransactionRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *TransactionRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Insert appends one audit row. Transactions are append-only; there is no
// update path.
func (r *TransactionRepo) Insert(ctx context.Context, t *domain.Transaction) error {
	const op = "postgres.TransactionRepo.Insert"

	db := r.handle()

	_, err := db.Exec(ctx,
		`INSERT INTO transactions(id, user_id, event_id, ticket_id, amount, status, type)
       	 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.UserID, t.EventID, t.TicketID, t.Amount, t.Status, t.Type,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *TransactionRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Transaction, error) {
	const op = "postgres.TransactionRepo.ListByUser"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, user_id, event_id, ticket_id, amount, status, type, created_at
       	 FROM transactions WHERE user_id = $1
      	 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.EventID, &t.TicketID,
			&t.Amount, &t.Status, &t.Type, &t.CreatedAt); err != nil {
			return nil, wrapDBErr(op, err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return txns, nil
}
