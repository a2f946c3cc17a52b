// Package server is the development backend the register talks to: catalog,
// charge, reader connection tokens and a simulated card confirmation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"posterm/internal/catalog"
	"posterm/internal/metrics"
	"posterm/internal/model"
	"posterm/internal/orders"
	"posterm/internal/payments"
	"posterm/internal/posapi"
	"posterm/internal/sales"
)

// DefaultRegister is used for sale events when a request names no register.
const DefaultRegister = "register-1"

type Options struct {
	Catalog     catalog.Source
	Orders      *orders.Store
	Payments    *payments.Simulator
	Sales       sales.Publisher // optional
	Idempotency IdempotencyStore
	RateLimit   float64 // charges per second per client IP
	Burst       int
	Log         *zap.Logger
	Metrics     *metrics.Registry
}

type Server struct {
	catalog catalog.Source
	orders  *orders.Store
	pay     *payments.Simulator
	sales   sales.Publisher
	idem    IdempotencyStore
	limiter *RateLimiter
	schema  *jsonschema.Schema
	log     *zap.Logger
	m       *metrics.Registry
	tracer  trace.Tracer
	now     func() time.Time

	// paid keeps sale events in paid-sequence order.
	paid sync.Mutex
}

func New(o Options) (*Server, error) {
	schema, err := compileChargeSchema()
	if err != nil {
		return nil, err
	}
	if o.Idempotency == nil {
		o.Idempotency = NewMemoryIdempotencyStore(24 * time.Hour)
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 5
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	return &Server{
		catalog: o.Catalog,
		orders:  o.Orders,
		pay:     o.Payments,
		sales:   o.Sales,
		idem:    o.Idempotency,
		limiter: NewRateLimiter(o.RateLimit, o.Burst, o.Metrics),
		schema:  schema,
		log:     o.Log,
		m:       o.Metrics,
		tracer:  otel.Tracer("posterm/server"),
		now:     time.Now,
	}, nil
}

// Limiter exposes the charge rate limiter so callers can run its sweeper.
func (s *Server) Limiter() *RateLimiter { return s.limiter }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+posapi.PathProducts, s.route("products", http.HandlerFunc(s.handleProducts)))

	var charge http.Handler = http.HandlerFunc(s.handleCharge)
	charge = Idempotent(s.idem, s.log, s.m)(charge)
	charge = s.limiter.Middleware(charge)
	mux.Handle("POST "+posapi.PathCharge, s.route("charge", charge))

	mux.Handle("POST "+posapi.PathConnectionToken, s.route("connection_token", http.HandlerFunc(s.handleConnectionToken)))
	mux.Handle("POST "+posapi.PathConfirm, s.route("confirm", http.HandlerFunc(s.handleConfirm)))
	mux.Handle("GET /healthz", s.route("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", s.m.Handler())
	return RequestIDMiddleware(mux)
}

func (s *Server) route(name string, h http.Handler) http.Handler {
	return instrument(name, s.log, s.m, h)
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := s.catalog.Products(r.Context())
	if err != nil {
		s.log.Error("load catalog", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeError(w, http.StatusBadGateway, catalog.LoadErrorMessage)
		return
	}
	levels, err := s.orders.StockLevels(r.Context())
	if err != nil {
		s.log.Error("load stock levels", zap.Error(err), zap.String("request_id", RequestID(r.Context())))
		writeError(w, http.StatusBadGateway, catalog.LoadErrorMessage)
		return
	}
	writeJSON(w, http.StatusOK, posapi.ProductsResponse{Products: withStock(ps, levels)})
}

// withStock copies products with each stored variant's on-hand quantity.
func withStock(ps []model.Product, levels map[string]int64) []model.Product {
	out := make([]model.Product, len(ps))
	for i, p := range ps {
		vs := make([]model.Variant, len(p.Variants))
		for j, v := range p.Variants {
			if qty, ok := levels[v.ID]; ok {
				v.InventoryQty = qty
			}
			vs[j] = v
		}
		p.Variants = vs
		out[i] = p
	}
	return out
}

func chargeLines(req posapi.ChargeRequest) []orders.Line {
	lines := make([]orders.Line, 0, len(req.Items)+len(req.CustomItems))
	for _, it := range req.Items {
		lines = append(lines, orders.Line{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity, UnitPriceCents: it.UnitPriceCents})
	}
	for _, it := range req.CustomItems {
		label := strings.TrimSpace(it.Label)
		if label == "" {
			label = posapi.DefaultCustomLabel
		}
		lines = append(lines, orders.Line{Title: label, Quantity: it.Quantity, UnitPriceCents: it.AmountCents, Custom: true})
	}
	return lines
}

func (s *Server) handleCharge(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "server.charge")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}
	if err := validate(s.schema, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req posapi.ChargeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body is not valid JSON")
		return
	}
	if len(req.Items)+len(req.CustomItems) == 0 {
		writeError(w, http.StatusBadRequest, "Cart is empty")
		return
	}
	span.SetAttributes(attribute.Int("pos.items", len(req.Items)), attribute.Int64("pos.total_cents", req.TotalCents()))

	o, err := s.orders.CreateOrder(ctx, orders.NewOrder{
		Lines: chargeLines(req),
		Customer: model.CustomerInfo{
			Email:     req.CustomerEmail,
			FirstName: req.CustomerFirstName,
			LastName:  req.CustomerLastName,
		},
	})
	if err != nil {
		status, msg := chargeError(err)
		if status == http.StatusConflict {
			s.m.StockRejections.Inc()
		}
		if status >= 500 {
			s.log.Error("create order", zap.Error(err), zap.String("request_id", RequestID(ctx)))
			span.SetStatus(codes.Error, err.Error())
		}
		writeError(w, status, msg)
		return
	}
	in, err := s.pay.CreateIntent(ctx, o.ID, o.TotalCents)
	if err != nil {
		s.log.Error("create payment intent", zap.String("order", o.ID), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		writeError(w, http.StatusInternalServerError, "Could not start payment")
		return
	}
	s.m.OrdersCreated.Inc()
	sum := o.Summary()
	s.log.Info("order created",
		zap.String("order", o.ID),
		zap.Int64("number", o.Number),
		zap.Int64("total_cents", o.TotalCents),
		zap.String("intent", in.ID),
	)
	writeJSON(w, http.StatusOK, posapi.ChargeResponse{
		OK:            true,
		PaymentIntent: &posapi.PaymentIntent{ID: in.ID, ClientSecret: in.ClientSecret, Status: in.Status, AmountCents: in.AmountCents},
		Order:         &sum,
	})
}

func chargeError(err error) (int, string) {
	var se *orders.StockError
	switch {
	case errors.As(err, &se):
		return http.StatusConflict, fmt.Sprintf("Only %d of %s left in stock", max(se.Available, 0), se.Title)
	case errors.Is(err, orders.ErrPriceChanged):
		return http.StatusConflict, "A price has changed, reload the catalog"
	case errors.Is(err, orders.ErrUnknownVariant):
		return http.StatusUnprocessableEntity, "Unknown product variant"
	}
	return http.StatusInternalServerError, "Could not create order"
}

func (s *Server) handleConnectionToken(w http.ResponseWriter, r *http.Request) {
	tok, err := s.pay.ConnectionToken()
	if err != nil {
		s.log.Error("connection token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not create connection token")
		return
	}
	writeJSON(w, http.StatusOK, posapi.ConnectionTokenResponse{Secret: tok})
}

func confirmStatus(err error) (int, string) {
	switch {
	case errors.Is(err, payments.ErrCardDeclined):
		return http.StatusPaymentRequired, "declined"
	case errors.Is(err, payments.ErrUnknownIntent):
		return http.StatusNotFound, "unknown_intent"
	case errors.Is(err, payments.ErrInvalidCard):
		return http.StatusBadRequest, "invalid_card"
	}
	return http.StatusInternalServerError, "error"
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "server.confirm")
	defer span.End()

	var req posapi.ConfirmRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body is not valid JSON")
		return
	}
	if req.ClientSecret == "" {
		writeError(w, http.StatusBadRequest, "Missing client secret")
		return
	}

	in, err := s.pay.Confirm(ctx, req.ClientSecret, req.Card)
	if err != nil && !errors.Is(err, payments.ErrAlreadyCharged) {
		status, label := confirmStatus(err)
		s.m.PaymentsConfirmed.WithLabelValues(label).Inc()
		if status >= 500 {
			s.log.Error("confirm payment", zap.Error(err))
			span.SetStatus(codes.Error, err.Error())
		}
		writeError(w, status, payments.Message(err))
		return
	}
	span.SetAttributes(attribute.String("pos.intent", in.ID), attribute.String("pos.order", in.OrderID))

	s.paid.Lock()
	first, err := s.orders.MarkPaid(ctx, in.OrderID)
	if err != nil {
		s.log.Error("mark order paid", zap.String("order", in.OrderID), zap.Error(err))
	}
	if first {
		s.m.PaymentsConfirmed.WithLabelValues(posapi.StatusSucceeded).Inc()
		s.publishSale(ctx, r.Header.Get(posapi.HeaderRegisterID), in.OrderID)
	}
	s.paid.Unlock()
	writeJSON(w, http.StatusOK, posapi.ConfirmResponse{
		OK:            true,
		PaymentIntent: &posapi.PaymentIntent{ID: in.ID, Status: in.Status, AmountCents: in.AmountCents},
	})
}

// publishSale emits the completed-sale event. A failure is logged; the
// payment has already happened and must not be reported as failed.
func (s *Server) publishSale(ctx context.Context, register, orderID string) {
	if s.sales == nil {
		return
	}
	if register == "" {
		register = DefaultRegister
	}
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		s.log.Error("load paid order", zap.String("order", orderID), zap.Error(err))
		return
	}
	ev := sales.Event{
		EventID:     uuid.NewString(),
		OrderID:     o.ID,
		OrderNumber: strconv.FormatInt(o.Number, 10),
		Register:    register,
		Seq:         o.PaidSeq,
		TotalCents:  o.TotalCents,
		TS:          s.now().UTC().Unix(),
	}
	for _, l := range o.Lines {
		ev.Lines = append(ev.Lines, sales.Line{
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			Title:          l.Title,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			Custom:         l.Custom,
		})
	}
	if err := s.sales.Publish(ctx, ev); err != nil {
		s.log.Error("publish sale event", zap.String("order", o.ID), zap.Error(err))
		return
	}
	s.m.SaleEventsProduced.Inc()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.orders.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
