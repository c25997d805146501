// Package httpgin wires the HTTP surface: checkout, the payment
// webhook, read endpoints and the admin seeding routes.
package httpgin

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/mpetrenko/ticketpay/internal/domain"
	"github.com/mpetrenko/ticketpay/internal/payment"
	"github.com/mpetrenko/ticketpay/internal/service"
	"github.com/mpetrenko/ticketpay/internal/service/admin"
	"github.com/mpetrenko/ticketpay/internal/service/checkout"
	"github.com/mpetrenko/ticketpay/internal/service/query"
	"github.com/mpetrenko/ticketpay/internal/service/validation"
)

// maxWebhookBody caps the raw payload read for signature verification.
const maxWebhookBody = 1 << 20

type Router struct {
	services *service.Services
	provider payment.Provider
	log      *slog.Logger
}

func NewRouter(
	services *service.Services,
	provider payment.Provider,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := &Router{
		services: services,
		provider: provider,
		log:      logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middlewares...)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := engine.Group("/api/v1")
	{
		v1.POST("/payments/checkout", r.createCheckoutSession)
		v1.POST("/payments/webhook", r.handleWebhook)

		v1.GET("/events", r.listEvents)
		v1.GET("/events/:id", r.getEvent)
		v1.GET("/events/:id/tickets", r.eventTickets)

		v1.GET("/bookings/:id", r.getBooking)
		v1.GET("/users/:id/bookings", r.listUserBookings)
		v1.POST("/bookings/validate", r.validateTicket)

		adm := v1.Group("/admin")
		{
			adm.POST("/events", r.createEvent)
			adm.POST("/events/:id/tickets", r.addTickets)
			adm.POST("/tickets/:id/restock", r.restockTicket)
		}
	}

	return engine
}

// createCheckoutSession godoc
//
//	@Summary		Start a checkout session
//	@Description	Validates the cart against live stock and returns a provider-hosted payment URL.
//	@Tags			payments
//	@Accept			json
//	@Produce		json
//	@Param			X-User-ID	header		int				true	"Buyer user id"
//	@Param			request		body		CheckoutRequest	true	"Cart"
//	@Success		200			{object}	CheckoutResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		429			{object}	ErrorResponse
//	@Failure		502			{object}	ErrorResponse
//	@Router			/payments/checkout [post]
func (r *Router) createCheckoutSession(c *gin.Context) {
	userID, ok := userIDFromHeader(c)
	if !ok {
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	items := make([]domain.CartLineItem, 0, len(req.Items))
	for _, in := range req.Items {
		id, err := uuid.Parse(in.TicketID)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid ticket_id: " + in.TicketID})
			return
		}
		items = append(items, domain.CartLineItem{TicketID: id, Quantity: in.Quantity})
	}

	origin := c.GetHeader("Origin")
	if origin == "" {
		origin = "https://" + c.Request.Host
	}

	url, err := r.services.Checkout.CreateSession(
		c.Request.Context(),
		userID,
		req.EventID,
		items,
		origin,
		"ip:"+c.ClientIP(),
	)
	if err != nil {
		r.respondCheckoutErr(c, err)
		return
	}

	c.JSON(http.StatusOK, CheckoutResponse{URL: url})
}

// handleWebhook godoc
//
//	@Summary		Payment provider webhook
//	@Description	Verifies the event signature, then finalizes the matching pending order. Always 200 once the signature passes, so the provider stops retrying.
//	@Tags			payments
//	@Accept			json
//	@Produce		json
//	@Param			Ticketpay-Signature	header		string	true	"t=<unix>,v1=<hex hmac>"
//	@Success		200					{object}	WebhookResponse
//	@Failure		400					{object}	ErrorResponse
//	@Failure		500					{object}	ErrorResponse
//	@Router			/payments/webhook [post]
func (r *Router) handleWebhook(c *gin.Context) {
	payloadBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unreadable payload"})
		return
	}

	evt, err := r.provider.VerifyEvent(payloadBody, c.GetHeader("Ticketpay-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrBadSignature) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid signature"})
			return
		}

		// Signed but unparsable. A 400 tells the provider not to retry a
		// payload that will never parse.
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed event"})
		return
	}

	res, err := r.services.Booking.HandlePaymentEvent(c.Request.Context(), evt)
	if err != nil {
		// Infrastructure failure before any mutation; 500 makes the
		// provider redeliver.
		r.log.Error("webhook processing failed", "event_id", evt.ID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "event processing failed"})
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{Outcome: string(res.Outcome)})
}

// listEvents godoc
//
//	@Summary	List events
//	@Tags		events
//	@Produce	json
//	@Param		limit	query		int	false	"Page size"
//	@Param		offset	query		int	false	"Offset"
//	@Success	200		{array}		domain.Event
//	@Failure	500		{object}	ErrorResponse
//	@Router		/events [get]
func (r *Router) listEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := r.services.Query.ListEvents(c.Request.Context(), limit, offset)
	if err != nil {
		r.respondQueryErr(c, err)
		return
	}

	c.JSON(http.StatusOK, events)
}

// getEvent godoc
//
//	@Summary	Get an event
//	@Tags		events
//	@Produce	json
//	@Param		id	path		int	true	"Event id"
//	@Success	200	{object}	domain.Event
//	@Failure	404	{object}	ErrorResponse
//	@Router		/events/{id} [get]
func (r *Router) getEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid event id"})
		return
	}

	event, err := r.services.Query.GetEvent(c.Request.Context(), id)
	if err != nil {
		r.respondQueryErr(c, err)
		return
	}

	writeJSONWithCache(c, http.StatusOK, event, "public, max-age=60", false)
}

// eventTickets godoc
//
//	@Summary	Ticket availability for an event
//	@Tags		events
//	@Produce	json
//	@Param		id	path		int	true	"Event id"
//	@Success	200	{array}		domain.TicketAvailability
//	@Failure	404	{object}	ErrorResponse
//	@Router		/events/{id}/tickets [get]
func (r *Router) eventTickets(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid event id"})
		return
	}

	availability, err := r.services.Query.EventTickets(c.Request.Context(), id)
	if err != nil {
		r.respondQueryErr(c, err)
		return
	}

	writeJSONWithCache(c, http.StatusOK, availability, "public, max-age=15", true)
}

// getBooking godoc
//
//	@Summary	Get a booking
//	@Tags		bookings
//	@Produce	json
//	@Param		id	path		string	true	"Booking id"
//	@Success	200	{object}	domain.Booking
//	@Failure	404	{object}	ErrorResponse
//	@Router		/bookings/{id} [get]
func (r *Router) getBooking(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid booking id"})
		return
	}

	b, err := r.services.Query.GetBooking(c.Request.Context(), id)
	if err != nil {
		r.respondQueryErr(c, err)
		return
	}

	c.JSON(http.StatusOK, b)
}

// listUserBookings godoc
//
//	@Summary	List a user's bookings
//	@Tags		bookings
//	@Produce	json
//	@Param		id	path		int	true	"User id"
//	@Success	200	{array}		domain.Booking
//	@Failure	400	{object}	ErrorResponse
//	@Router		/users/{id}/bookings [get]
func (r *Router) listUserBookings(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	bookings, err := r.services.Query.ListUserBookings(c.Request.Context(), userID)
	if err != nil {
		r.respondQueryErr(c, err)
		return
	}

	c.JSON(http.StatusOK, bookings)
}

// validateTicket godoc
//
//	@Summary		Validate a ticket QR code
//	@Description	Consumes the code; a second scan of the same code is rejected.
//	@Tags			bookings
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ValidateTicketRequest	true	"QR code"
//	@Success		200		{object}	ValidateTicketResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/bookings/validate [post]
func (r *Router) validateTicket(c *gin.Context) {
	var req ValidateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	code, err := uuid.Parse(req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid code"})
		return
	}

	b, err := r.services.Validation.Scan(c.Request.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, validation.ErrCodeNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown ticket code"})
		case errors.Is(err, validation.ErrAlreadyScanned):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "ticket already used"})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "validation failed"})
		}
		return
	}

	scannedAt := time.Now()
	if b.ScannedAt != nil {
		scannedAt = *b.ScannedAt
	}

	c.JSON(http.StatusOK, ValidateTicketResponse{
		BookingID: b.ID.String(),
		EventID:   b.EventID,
		Quantity:  b.Quantity,
		ScannedAt: scannedAt,
	})
}

// createEvent godoc
//
//	@Summary	Create an event
//	@Tags		admin
//	@Accept		json
//	@Produce	json
//	@Param		request	body		CreateEventRequest	true	"Event"
//	@Success	201		{object}	CreateEventResponse
//	@Failure	400		{object}	ErrorResponse
//	@Router		/admin/events [post]
func (r *Router) createEvent(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	starts, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "starts_at must be RFC3339"})
		return
	}

	ends, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "ends_at must be RFC3339"})
		return
	}

	id, err := r.services.Admin.CreateEvent(c.Request.Context(), req.Title, req.Venue, starts, ends)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "event creation failed"})
		return
	}

	c.JSON(http.StatusCreated, CreateEventResponse{EventID: id})
}

// addTickets godoc
//
//	@Summary	Add ticket allotments to an event
//	@Tags		admin
//	@Accept		json
//	@Produce	json
//	@Param		id		path		int					true	"Event id"
//	@Param		request	body		AddTicketsRequest	true	"Allotments"
//	@Success	201		{object}	AddTicketsResponse
//	@Failure	404		{object}	ErrorResponse
//	@Failure	409		{object}	ErrorResponse
//	@Router		/admin/events/{id}/tickets [post]
func (r *Router) addTickets(c *gin.Context) {
	eventID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid event id"})
		return
	}

	var req AddTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	inputs := make([]admin.TicketInput, 0, len(req.Tickets))
	for _, t := range req.Tickets {
		price, err := decimal.NewFromString(t.UnitPrice)
		if err != nil || price.IsNegative() {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid unit_price: " + t.UnitPrice})
			return
		}
		inputs = append(inputs, admin.TicketInput{
			Type:      t.Type,
			UnitPrice: price,
			Quantity:  t.Quantity,
		})
	}

	ids, err := r.services.Admin.AddTickets(c.Request.Context(), eventID, inputs)
	if err != nil {
		switch {
		case errors.Is(err, admin.ErrEventNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		case errors.Is(err, admin.ErrTicketConflict):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "conflicting ticket"})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "ticket creation failed"})
		}
		return
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}

	c.JSON(http.StatusCreated, AddTicketsResponse{TicketIDs: out})
}

// restockTicket godoc
//
//	@Summary	Restock a ticket allotment
//	@Tags		admin
//	@Accept		json
//	@Produce	json
//	@Param		id		path		string			true	"Ticket id"
//	@Param		request	body		RestockRequest	true	"Quantity to add"
//	@Success	204		"restocked"
//	@Failure	404		{object}	ErrorResponse
//	@Router		/admin/tickets/{id}/restock [post]
func (r *Router) restockTicket(c *gin.Context) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid ticket id"})
		return
	}

	var req RestockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if err := r.services.Admin.Restock(c.Request.Context(), ticketID, req.Quantity); err != nil {
		if errors.Is(err, admin.ErrTicketNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "restock failed"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (r *Router) respondCheckoutErr(c *gin.Context, err error) {
	var (
		notFound   checkout.TicketNotFoundError
		mismatch   checkout.TicketEventMismatchError
		badQty     checkout.InvalidQuantityError
		outOfStock checkout.InsufficientStockError
	)

	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cart is empty"})
	case errors.Is(err, checkout.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "too many checkout attempts"})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: notFound.Error()})
	case errors.As(err, &mismatch):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: mismatch.Error()})
	case errors.As(err, &badQty):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: badQty.Error()})
	case errors.As(err, &outOfStock):
		c.JSON(http.StatusConflict, ErrorResponse{Error: outOfStock.Error()})
	case errors.Is(err, checkout.ErrProvider):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment provider unavailable"})
	default:
		r.log.Error("checkout failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "checkout failed"})
	}
}

func (r *Router) respondQueryErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
	case errors.Is(err, query.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
	default:
		r.log.Error("query failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "lookup failed"})
	}
}

func userIDFromHeader(c *gin.Context) (int64, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing X-User-ID header"})
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid X-User-ID header"})
		return 0, false
	}

	return id, true
}
