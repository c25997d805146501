package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mpetrenko/ticketpay/internal/config"
	"github.com/mpetrenko/ticketpay/internal/notify"
	"github.com/mpetrenko/ticketpay/internal/payment/hostedpay"
	"github.com/mpetrenko/ticketpay/internal/postgres"
	"github.com/mpetrenko/ticketpay/internal/redis"
	postgresrepo "github.com/mpetrenko/ticketpay/internal/repository/postgres"
	redisrepo "github.com/mpetrenko/ticketpay/internal/repository/redis"
	"github.com/mpetrenko/ticketpay/internal/service"
	"github.com/mpetrenko/ticketpay/internal/service/checkout"
	"github.com/mpetrenko/ticketpay/internal/service/query"
	httpgin "github.com/mpetrenko/ticketpay/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(context.Background(), redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "checkout", 10, 1*time.Minute)
	idem := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	provider := hostedpay.New(hostedpay.Config{
		BaseURL:       cfg.Payment.BaseURL,
		APIKey:        cfg.Payment.APIKey,
		WebhookSecret: cfg.Payment.WebhookSecret,
		Tolerance:     cfg.Payment.Tolerance,
	})

	notifier := notify.NewDispatcher(map[notify.Channel]notify.Notifier{
		notify.ChannelEmail: notify.NewLogNotifier(logger, notify.ChannelEmail),
		notify.ChannelPush:  notify.NewLogNotifier(logger, notify.ChannelPush),
		notify.ChannelSMS:   notify.NewLogNotifier(logger, notify.ChannelSMS),
	})

	services := service.NewServices(store, cache, idem, limiter, provider, notifier, logger, service.Config{
		Checkout: checkout.Config{},
		Query:    query.Config{},
	})

	router := httpgin.NewRouter(
		services,
		provider,
		logger,
		httpgin.RequestIDMiddleware(),
		httpgin.CORS(),
		httpgin.LoggingMiddleware(logger),
	)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
