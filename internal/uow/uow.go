// Package uow coordinates multi-repository writes in one transaction and
// defers side effects until the commit is durable. The booking finalizer
// is the main consumer: stock decrement and booking insert share the tx,
// while the audit row, cache invalidation and buyer notification run as
// after-commit hooks so they can never fire for a rolled-back booking.
package uow

import (
	"context"

	"github.com/jackc/pgx/v5"

	postgres "github.com/mpetrenko/ticketpay/internal/repository/postgres"
)

// AfterCommit runs once the transaction has committed. Hook failures are
// the hook's own problem; the committed state is never unwound.
type AfterCommit func(ctx context.Context)

type UoW struct {
	store *postgres.Store
}

func NewUoW(store *postgres.Store) *UoW {
	return &UoW{store: store}
}

// Do runs fn inside a transaction with the store's default options.
func (u *UoW) Do(
	ctx context.Context,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside a transaction with the given options. Hooks
// registered through after are held back until the commit succeeds, then
// run in registration order; a rollback discards them untouched.
func (u *UoW) DoWithOpts(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx postgres.DB, after func(AfterCommit)) error,
) error {
	var hooks []AfterCommit

	err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
		return fn(ctx, tx, func(h AfterCommit) {
			hooks = append(hooks, h)
		})
	})
	if err != nil {
		return err
	}

	for _, h := range hooks {
		h(ctx)
	}

	return nil
}
