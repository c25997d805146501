package checkout

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/payment"
)

type fakeTicketSource struct {
	tickets []domain.Ticket
	err     error
}

func (f *fakeTicketSource) ListByIDs(_ context.Context, ids []uuid.UUID) ([]domain.Ticket, error) {
	if f.err != nil {
		return nil, f.err
	}

	byID := make(map[uuid.UUID]domain.Ticket, len(f.tickets))
	for _, t := range f.tickets {
		byID[t.ID] = t
	}

	out := make([]domain.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}

	return out, nil
}

type fakeOrderStore struct {
	inserted []*domain.PendingOrder
	err      error
}

func (f *fakeOrderStore) Insert(_ context.Context, o *domain.PendingOrder) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, o)
	return nil
}

type fakeProvider struct {
	lastReq *payment.SessionRequest
	session *payment.Session
	err     error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req *payment.SessionRequest) (*payment.Session, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeProvider) VerifyEvent(_ []byte, _ string) (*payment.Event, error) {
	return nil, errors.New("not implemented")
}

func newTestService(tickets *fakeTicketSource, orders *fakeOrderStore, provider *fakeProvider) *Service {
	return New(tickets, orders, provider, nil, slog.New(slog.DiscardHandler), Config{})
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidate_EmptyCart(t *testing.T) {
	svc := newTestService(&fakeTicketSource{}, &fakeOrderStore{}, &fakeProvider{})

	_, err := svc.Validate(context.Background(), 1, nil)

	require.ErrorIs(t, err, ErrEmptyCart)
}

func TestValidate_InvalidQuantity(t *testing.T) {
	ticketID := uuid.New()
	svc := newTestService(&fakeTicketSource{}, &fakeOrderStore{}, &fakeProvider{})

	_, err := svc.Validate(context.Background(), 1, []domain.CartLineItem{
		{TicketID: ticketID, Quantity: 0},
	})

	var badQty InvalidQuantityError
	require.ErrorAs(t, err, &badQty)
	assert.Equal(t, ticketID, badQty.TicketID)
}

func TestValidate_TicketNotFound(t *testing.T) {
	missing := uuid.New()
	svc := newTestService(&fakeTicketSource{}, &fakeOrderStore{}, &fakeProvider{})

	_, err := svc.Validate(context.Background(), 1, []domain.CartLineItem{
		{TicketID: missing, Quantity: 1},
	})

	var notFound TicketNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missing, notFound.TicketID)
}

func TestValidate_EventMismatch(t *testing.T) {
	ticketID := uuid.New()
	tickets := &fakeTicketSource{tickets: []domain.Ticket{
		{ID: ticketID, EventID: 99, Type: "GA", UnitPrice: price("20.00"), Remaining: 10},
	}}
	svc := newTestService(tickets, &fakeOrderStore{}, &fakeProvider{})

	_, err := svc.Validate(context.Background(), 1, []domain.CartLineItem{
		{TicketID: ticketID, Quantity: 1},
	})

	var mismatch TicketEventMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, ticketID, mismatch.TicketID)
	assert.Equal(t, int64(1), mismatch.EventID)
}

func TestValidate_InsufficientStock(t *testing.T) {
	ticketID := uuid.New()
	tickets := &fakeTicketSource{tickets: []domain.Ticket{
		{ID: ticketID, EventID: 1, Type: "GA", UnitPrice: price("20.00"), Remaining: 2},
	}}
	svc := newTestService(tickets, &fakeOrderStore{}, &fakeProvider{})

	_, err := svc.Validate(context.Background(), 1, []domain.CartLineItem{
		{TicketID: ticketID, Quantity: 3},
	})

	var outOfStock InsufficientStockError
	require.ErrorAs(t, err, &outOfStock)
	assert.Equal(t, ticketID, outOfStock.TicketID)
	assert.Equal(t, 3, outOfStock.Requested)
	assert.Equal(t, 2, outOfStock.Remaining)
}

func TestValidate_PricesFromTicketRows(t *testing.T) {
	ticketID := uuid.New()
	tickets := &fakeTicketSource{tickets: []domain.Ticket{
		{ID: ticketID, EventID: 1, Type: "VIP", UnitPrice: price("150.50"), Remaining: 5},
	}}
	svc := newTestService(tickets, &fakeOrderStore{}, &fakeProvider{})

	lineItems, err := svc.Validate(context.Background(), 1, []domain.CartLineItem{
		{TicketID: ticketID, Quantity: 2},
	})

	require.NoError(t, err)
	require.Len(t, lineItems, 1)
	assert.True(t, lineItems[0].Ticket.UnitPrice.Equal(price("150.50")))
	assert.True(t, lineItems[0].Total().Equal(price("301.00")))
}

func TestCreateSession_HappyPath(t *testing.T) {
	ticketID := uuid.New()
	tickets := &fakeTicketSource{tickets: []domain.Ticket{
		{ID: ticketID, EventID: 7, Type: "GA", UnitPrice: price("25.00"), Remaining: 10},
	}}
	orders := &fakeOrderStore{}
	provider := &fakeProvider{session: &payment.Session{
		ID:  "cs_test_123",
		URL: "https://pay.example.com/cs_test_123",
	}}
	svc := newTestService(tickets, orders, provider)

	url, err := svc.CreateSession(
		context.Background(),
		42, 7,
		[]domain.CartLineItem{{TicketID: ticketID, Quantity: 2}},
		"https://shop.example.com",
		"",
	)

	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.com/cs_test_123", url)

	// Line items are priced from ticket rows, in cents.
	require.NotNil(t, provider.lastReq)
	require.Len(t, provider.lastReq.LineItems, 1)
	assert.Equal(t, int64(2500), provider.lastReq.LineItems[0].UnitAmountCents)
	assert.Equal(t, int64(2), provider.lastReq.LineItems[0].Quantity)

	assert.Equal(t, "42", provider.lastReq.Metadata["user_id"])
	assert.Equal(t, "7", provider.lastReq.Metadata["event_id"])
	assert.NotEmpty(t, provider.lastReq.Metadata["cart"])
	assert.Equal(t, "https://shop.example.com/payments/success", provider.lastReq.SuccessURL)
	assert.Equal(t, "https://shop.example.com/payments/cancel", provider.lastReq.CancelURL)

	// The pending order is keyed by the provider session id.
	require.Len(t, orders.inserted, 1)
	order := orders.inserted[0]
	assert.Equal(t, "cs_test_123", order.SessionID)
	assert.Equal(t, int64(42), order.UserID)
	assert.Equal(t, int64(7), order.EventID)
	assert.Equal(t, domain.OrderPending, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, ticketID, order.Items[0].TicketID)
	assert.Equal(t, 2, order.Items[0].Quantity)
}

func TestCreateSession_ProviderError(t *testing.T) {
	ticketID := uuid.New()
	tickets := &fakeTicketSource{tickets: []domain.Ticket{
		{ID: ticketID, EventID: 1, Type: "GA", UnitPrice: price("10.00"), Remaining: 10},
	}}
	orders := &fakeOrderStore{}
	provider := &fakeProvider{err: errors.New("gateway timeout")}
	svc := newTestService(tickets, orders, provider)

	_, err := svc.CreateSession(
		context.Background(),
		1, 1,
		[]domain.CartLineItem{{TicketID: ticketID, Quantity: 1}},
		"https://shop.example.com",
		"",
	)

	require.ErrorIs(t, err, ErrProvider)
	assert.Empty(t, orders.inserted)
}

func TestCreateSession_OrderStoreError(t *testing.T) {
	ticketID := uuid.New()
	tickets := &fakeTicketSource{tickets: []domain.Ticket{
		{ID: ticketID, EventID: 1, Type: "GA", UnitPrice: price("10.00"), Remaining: 10},
	}}
	orders := &fakeOrderStore{err: errors.New("connection reset")}
	provider := &fakeProvider{session: &payment.Session{ID: "cs_1", URL: "https://pay.example.com/cs_1"}}
	svc := newTestService(tickets, orders, provider)

	_, err := svc.CreateSession(
		context.Background(),
		1, 1,
		[]domain.CartLineItem{{TicketID: ticketID, Quantity: 1}},
		"https://shop.example.com",
		"",
	)

	require.Error(t, err)
}

func TestCreateSession_RejectsInvalidCart(t *testing.T) {
	provider := &fakeProvider{session: &payment.Session{ID: "cs_1", URL: "u"}}
	orders := &fakeOrderStore{}
	svc := newTestService(&fakeTicketSource{}, orders, provider)

	_, err := svc.CreateSession(
		context.Background(),
		1, 1,
		[]domain.CartLineItem{{TicketID: uuid.New(), Quantity: 1}},
		"https://shop.example.com",
		"",
	)

	var notFound TicketNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Nil(t, provider.lastReq)
	assert.Empty(t, orders.inserted)
}
