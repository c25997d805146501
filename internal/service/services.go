package service

import (
	"log/slog"

	"github.com/mpetrenko/ticketpay/internal/notify"
	"github.com/mpetrenko/ticketpay/internal/payment"
	postgres "github.com/mpetrenko/ticketpay/internal/repository/postgres"
	redis "github.com/mpetrenko/ticketpay/internal/repository/redis"
	"github.com/mpetrenko/ticketpay/internal/service/admin"
	"github.com/mpetrenko/ticketpay/internal/service/booking"
	"github.com/mpetrenko/ticketpay/internal/service/checkout"
	"github.com/mpetrenko/ticketpay/internal/service/query"
	"github.com/mpetrenko/ticketpay/internal/service/validation"
)

type Services struct {
	Checkout   *checkout.Service
	Booking    *booking.Service
	Query      *query.Service
	Admin      *admin.Service
	Validation *validation.Service
}

type Config struct {
	Checkout checkout.Config
	Query    query.Config
}

func NewServices(
	store *postgres.Store,
	cache *redis.Cache,
	idem *redis.IdempotencyStore,
	limiter *redis.SlidingWindowLimiter,
	provider payment.Provider,
	notifier *notify.Dispatcher,
	logger *slog.Logger,
	cfg Config,
) *Services {
	return &Services{
		Checkout:   checkout.New(store.Tickets(), store.PendingOrders(), provider, limiter, logger, cfg.Checkout),
		Booking:    booking.New(store, cache, idem, notifier, logger),
		Query:      query.New(store, cache, cfg.Query),
		Admin:      admin.New(store, cache),
		Validation: validation.New(store),
	}
}
