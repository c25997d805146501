package integration_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/payment"
	postgresrepo "github.com/mpetrenko/ticketpay/internal/repository/postgres"
	redisrepo "github.com/mpetrenko/ticketpay/internal/repository/redis"
	"github.com/mpetrenko/ticketpay/internal/service/booking"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    id         BIGSERIAL PRIMARY KEY,
    title      TEXT        NOT NULL,
    venue      TEXT        NOT NULL,
    starts_at  TIMESTAMPTZ NOT NULL,
    ends_at    TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tickets (
    id                 UUID PRIMARY KEY,
    event_id           BIGINT         NOT NULL REFERENCES events (id),
    type               TEXT           NOT NULL,
    unit_price         NUMERIC(12, 2) NOT NULL CHECK (unit_price >= 0),
    remaining_quantity INTEGER        NOT NULL CHECK (remaining_quantity >= 0),
    created_at         TIMESTAMPTZ    NOT NULL DEFAULT now(),
    UNIQUE (event_id, type)
);

CREATE TABLE IF NOT EXISTS bookings (
    id          UUID PRIMARY KEY,
    user_id     BIGINT         NOT NULL,
    event_id    BIGINT         NOT NULL REFERENCES events (id),
    ticket_id   UUID           NOT NULL REFERENCES tickets (id),
    quantity    INTEGER        NOT NULL CHECK (quantity > 0),
    total_price NUMERIC(12, 2) NOT NULL,
    status      TEXT           NOT NULL,
    qr_code     UUID           NOT NULL UNIQUE,
    scanned_at  TIMESTAMPTZ,
    created_at  TIMESTAMPTZ    NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
    id         UUID PRIMARY KEY,
    user_id    BIGINT         NOT NULL,
    event_id   BIGINT         NOT NULL,
    ticket_id  UUID           NOT NULL,
    amount     NUMERIC(12, 2) NOT NULL,
    status     TEXT           NOT NULL,
    type       TEXT           NOT NULL,
    created_at TIMESTAMPTZ    NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pending_orders (
    id         UUID PRIMARY KEY,
    session_id TEXT        NOT NULL UNIQUE,
    user_id    BIGINT      NOT NULL,
    event_id   BIGINT      NOT NULL,
    items      JSONB       NOT NULL,
    status     TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_claims (
    claim_key  TEXT PRIMARY KEY,
    claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type testEnv struct {
	pool  *pgxpool.Pool
	store *postgresrepo.Store
	cache *redisrepo.Cache
	idem  *redisrepo.IdempotencyStore
	svc   *booking.Service
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "ticketpay",
				"POSTGRES_PASSWORD": "ticketpay",
				"POSTGRES_DB":       "ticketpay",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisContainer.Terminate(ctx) })

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	dsn := "postgres://ticketpay:ticketpay@" + pgHost + ":" + pgPort.Port() + "/ticketpay?sslmode=disable"

	var pool *pgxpool.Pool
	require.Eventually(t, func() bool {
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			return false
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return false
		}
		return true
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	rdb := redisclient.NewClient(&redisclient.Options{Addr: redisHost + ":" + redisPort.Port()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := postgresrepo.NewStore(pool)
	cache := redisrepo.New(rdb)
	idem := redisrepo.NewIdempotencyStore(rdb, time.Hour)

	logger := slog.New(slog.DiscardHandler)
	svc := booking.New(store, cache, idem, nil, logger)

	return &testEnv{pool: pool, store: store, cache: cache, idem: idem, svc: svc}
}

func (e *testEnv) seedEvent(t *testing.T, ctx context.Context) int64 {
	t.Helper()
	eventID, err := e.store.Events().Create(ctx, &domain.Event{
		Title:  "Integration Night",
		Venue:  "Main Hall",
		Starts: time.Now().Add(24 * time.Hour),
		Ends:   time.Now().Add(27 * time.Hour),
	})
	require.NoError(t, err)
	return eventID
}

func (e *testEnv) seedTicket(t *testing.T, ctx context.Context, eventID int64, typ, unitPrice string, stock int) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := e.store.Tickets().CreateBatch(ctx, []domain.Ticket{{
		ID:        id,
		EventID:   eventID,
		Type:      typ,
		UnitPrice: decimal.RequireFromString(unitPrice),
		Remaining: stock,
	}})
	require.NoError(t, err)
	return id
}

func (e *testEnv) remaining(t *testing.T, ctx context.Context, ticketID uuid.UUID) int {
	t.Helper()
	var remaining int
	err := e.pool.QueryRow(ctx,
		`SELECT remaining_quantity FROM tickets WHERE id = $1`, ticketID,
	).Scan(&remaining)
	require.NoError(t, err)
	return remaining
}

func (e *testEnv) countRows(t *testing.T, ctx context.Context, query string, args ...any) int {
	t.Helper()
	var n int
	err := e.pool.QueryRow(ctx, query, args...).Scan(&n)
	require.NoError(t, err)
	return n
}

// Stock never goes below zero no matter how many finalizations race for
// the last units: with k units and n buyers, exactly min(n, k) bookings
// complete and the rest leave failed transaction rows.
func TestFinalizeItem_ConcurrentBuyersNeverOversell(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	eventID := env.seedEvent(t, ctx)
	const stock = 3
	const buyers = 10
	ticketID := env.seedTicket(t, ctx, eventID, "GA", "30.00", stock)

	var wg sync.WaitGroup
	errCh := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := env.svc.FinalizeItem(ctx, userID, eventID, ticketID, 1)
			errCh <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(errCh)

	var completed, failed int
	for err := range errCh {
		if err == nil {
			completed++
			continue
		}
		failed++
		assert.ErrorIs(t, err, booking.ErrInsufficientStock)
	}

	assert.Equal(t, stock, completed)
	assert.Equal(t, buyers-stock, failed)
	assert.Equal(t, 0, env.remaining(t, ctx, ticketID))

	bookings := env.countRows(t, ctx,
		`SELECT count(*) FROM bookings WHERE ticket_id = $1`, ticketID)
	assert.Equal(t, stock, bookings)

	completedTxns := env.countRows(t, ctx,
		`SELECT count(*) FROM transactions WHERE ticket_id = $1 AND status = 'completed'`, ticketID)
	failedTxns := env.countRows(t, ctx,
		`SELECT count(*) FROM transactions WHERE ticket_id = $1 AND status = 'failed'`, ticketID)
	assert.Equal(t, stock, completedTxns)
	assert.Equal(t, buyers-stock, failedTxns)
}

// Two buyers, one unit. The loser gets a failed transaction with amount
// zero because the decrement rejected before any price was established.
func TestFinalizeItem_LastUnitGoesToExactlyOneBuyer(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	eventID := env.seedEvent(t, ctx)
	ticketID := env.seedTicket(t, ctx, eventID, "VIP", "20.00", 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = env.svc.FinalizeItem(ctx, int64(i+1), eventID, ticketID, 1)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, booking.ErrInsufficientStock)
		}
	}
	require.Equal(t, 1, winners)
	assert.Equal(t, 0, env.remaining(t, ctx, ticketID))

	var total decimal.Decimal
	err := env.pool.QueryRow(ctx,
		`SELECT total_price FROM bookings WHERE ticket_id = $1`, ticketID,
	).Scan(&total)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("20.00")))

	var failedAmount decimal.Decimal
	err = env.pool.QueryRow(ctx,
		`SELECT amount FROM transactions WHERE ticket_id = $1 AND status = 'failed'`, ticketID,
	).Scan(&failedAmount)
	require.NoError(t, err)
	assert.True(t, failedAmount.IsZero())
}

// Redelivered webhook events finalize at most once; the second delivery
// reports a duplicate and creates nothing.
func TestHandlePaymentEvent_DuplicateDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	eventID := env.seedEvent(t, ctx)
	ticketID := env.seedTicket(t, ctx, eventID, "GA", "15.00", 10)

	sessionID := "cs_" + uuid.NewString()
	require.NoError(t, env.store.PendingOrders().Insert(ctx, &domain.PendingOrder{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    77,
		EventID:   eventID,
		Items:     []domain.CartLineItem{{TicketID: ticketID, Quantity: 2}},
		Status:    domain.OrderPending,
	}))

	evt := &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutCompleted,
		SessionID: sessionID,
	}

	res, err := env.svc.HandlePaymentEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, booking.OutcomeProcessed, res.Outcome)
	require.Len(t, res.Completed, 1)
	assert.Empty(t, res.Failed)

	res, err = env.svc.HandlePaymentEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, booking.OutcomeDuplicate, res.Outcome)

	bookings := env.countRows(t, ctx,
		`SELECT count(*) FROM bookings WHERE ticket_id = $1`, ticketID)
	assert.Equal(t, 1, bookings)
	assert.Equal(t, 8, env.remaining(t, ctx, ticketID))
}

// A distinct provider event id for the same session is still deduplicated
// once the pending order is processed.
func TestHandlePaymentEvent_ProcessedOrderShortCircuits(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	eventID := env.seedEvent(t, ctx)
	ticketID := env.seedTicket(t, ctx, eventID, "GA", "15.00", 10)

	sessionID := "cs_" + uuid.NewString()
	require.NoError(t, env.store.PendingOrders().Insert(ctx, &domain.PendingOrder{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    12,
		EventID:   eventID,
		Items:     []domain.CartLineItem{{TicketID: ticketID, Quantity: 1}},
		Status:    domain.OrderPending,
	}))

	first := &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutCompleted,
		SessionID: sessionID,
	}
	res, err := env.svc.HandlePaymentEvent(ctx, first)
	require.NoError(t, err)
	require.Equal(t, booking.OutcomeProcessed, res.Outcome)

	second := &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutCompleted,
		SessionID: sessionID,
	}
	res, err = env.svc.HandlePaymentEvent(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, booking.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 9, env.remaining(t, ctx, ticketID))
}

// Events for sessions this system never opened are acknowledged but
// change nothing.
func TestHandlePaymentEvent_UnknownSession(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	evt := &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutCompleted,
		SessionID: "cs_never_created",
	}

	res, err := env.svc.HandlePaymentEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, booking.OutcomeUnmatched, res.Outcome)
}

// Non-completion events are ignored without touching dedup state.
func TestHandlePaymentEvent_IgnoresOtherEventTypes(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	evt := &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutExpired,
		SessionID: "cs_whatever",
	}

	res, err := env.svc.HandlePaymentEvent(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, booking.OutcomeIgnored, res.Outcome)
}

// A booking insert failure during finalization rolls the stock decrement
// back and leaves a failed transaction carrying the full computed amount.
func TestFinalizeItem_BookingInsertFailureRestoresStockAndAudits(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	eventID := env.seedEvent(t, ctx)
	ticketID := env.seedTicket(t, ctx, eventID, "GA", "25.00", 5)

	// bookings.event_id is a foreign key, so an unknown event makes the
	// insert fail after the decrement already succeeded, the same shape
	// as any store fault at that point in the transaction.
	const ghostEventID = int64(999999)
	_, err := env.svc.FinalizeItem(ctx, 3, ghostEventID, ticketID, 2)

	require.ErrorIs(t, err, booking.ErrBookingCreationFailed)
	assert.Equal(t, 5, env.remaining(t, ctx, ticketID))

	bookings := env.countRows(t, ctx,
		`SELECT count(*) FROM bookings WHERE ticket_id = $1`, ticketID)
	assert.Equal(t, 0, bookings)

	var failedAmount decimal.Decimal
	err = env.pool.QueryRow(ctx,
		`SELECT amount FROM transactions WHERE ticket_id = $1 AND status = 'failed'`, ticketID,
	).Scan(&failedAmount)
	require.NoError(t, err)
	assert.True(t, failedAmount.Equal(decimal.RequireFromString("50.00")),
		"failed audit row must carry unit_price * quantity, got %s", failedAmount)
}

// A retry arriving under a fresh provider event id after the
// processed-status update was lost must not finalize the cart twice; the
// session-keyed claim is what blocks it.
func TestHandlePaymentEvent_FreshEventIDAfterLostStatusUpdate(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	eventID := env.seedEvent(t, ctx)
	ticketID := env.seedTicket(t, ctx, eventID, "GA", "15.00", 10)

	sessionID := "cs_" + uuid.NewString()
	require.NoError(t, env.store.PendingOrders().Insert(ctx, &domain.PendingOrder{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    9,
		EventID:   eventID,
		Items:     []domain.CartLineItem{{TicketID: ticketID, Quantity: 1}},
		Status:    domain.OrderPending,
	}))

	res, err := env.svc.HandlePaymentEvent(ctx, &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutCompleted,
		SessionID: sessionID,
	})
	require.NoError(t, err)
	require.Equal(t, booking.OutcomeProcessed, res.Outcome)
	require.Equal(t, 9, env.remaining(t, ctx, ticketID))

	// Revert the order status to the state a lost MarkProcessed update
	// would leave behind.
	_, err = env.pool.Exec(ctx,
		`UPDATE pending_orders SET status = 'pending' WHERE session_id = $1`, sessionID)
	require.NoError(t, err)

	res, err = env.svc.HandlePaymentEvent(ctx, &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutCompleted,
		SessionID: sessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, booking.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, 9, env.remaining(t, ctx, ticketID))

	bookings := env.countRows(t, ctx,
		`SELECT count(*) FROM bookings WHERE ticket_id = $1`, ticketID)
	assert.Equal(t, 1, bookings)
}

// One bad line item must not roll back its cart siblings.
func TestHandlePaymentEvent_PartialCartFailureIsIsolated(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}

	env := setupEnv(t)
	ctx := context.Background()

	eventID := env.seedEvent(t, ctx)
	okTicket := env.seedTicket(t, ctx, eventID, "GA", "10.00", 5)
	scarceTicket := env.seedTicket(t, ctx, eventID, "VIP", "50.00", 1)

	sessionID := "cs_" + uuid.NewString()
	require.NoError(t, env.store.PendingOrders().Insert(ctx, &domain.PendingOrder{
		ID:        uuid.New(),
		SessionID: sessionID,
		UserID:    5,
		EventID:   eventID,
		Items: []domain.CartLineItem{
			{TicketID: okTicket, Quantity: 2},
			{TicketID: scarceTicket, Quantity: 3},
		},
		Status: domain.OrderPending,
	}))

	res, err := env.svc.HandlePaymentEvent(ctx, &payment.Event{
		ID:        "evt_" + uuid.NewString(),
		Type:      payment.EventCheckoutCompleted,
		SessionID: sessionID,
	})
	require.NoError(t, err)

	assert.Equal(t, booking.OutcomeProcessed, res.Outcome)
	require.Len(t, res.Completed, 1)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, scarceTicket, res.Failed[0].TicketID)
	assert.ErrorIs(t, res.Failed[0].Err, booking.ErrInsufficientStock)

	assert.Equal(t, 3, env.remaining(t, ctx, okTicket))
	assert.Equal(t, 1, env.remaining(t, ctx, scarceTicket))
}
