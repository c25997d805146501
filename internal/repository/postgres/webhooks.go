package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mpetrenko/ticketpay/internal/repository"
)

// WebhookClaimRepo is the durable dedup record for payment confirmations.
// Providers deliver at least once and may mint a fresh event id per
// retry, so claims are keyed by the checkout session: one claim row means
// one finalization ever for that cart, regardless of how the delivery was
// labeled.
type WebhookClaimRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *WebhookClaimRepo) With(db DB) *WebhookClaimRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *WebhookClaimRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Claim records the key before any mutation happens.
//
// Returns:
//   - error: repository.ErrConflict if the key was claimed before.
func (r *WebhookClaimRepo) Claim(ctx context.Context, key string) error {
	const op = "postgres.WebhookClaimRepo.Claim"

	db := r.handle()

	tag, err := db.Exec(ctx,
		`INSERT INTO webhook_claims(claim_key)
       	 VALUES ($1)
      	 ON CONFLICT (claim_key) DO NOTHING`,
		key,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s:%w", op, repository.ErrConflict)
	}

	return nil
}
