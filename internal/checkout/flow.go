// Package checkout sequences a sale's payment: Charge creates the order and
// its payment intent, Confirm collects the card and completes it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"posterm/internal/metrics"
	"posterm/internal/posapi"
	"posterm/internal/session"
)

var (
	ErrBusy              = errors.New("payment already in progress")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrNotInCatalog      = errors.New("charge is only possible from the catalog")
	ErrNotInCheckout     = errors.New("no payment awaiting confirmation")
	ErrNoCompletedSale   = errors.New("no completed sale to close")
	ErrNotSucceeded      = errors.New("payment did not succeed")
	ErrStaleConfirmation = errors.New("confirmation arrived after leaving checkout")
)

// Messages shown when the backend gives no reason.
const (
	MsgChargeFailed  = "Failed to create payment"
	MsgConfirmFailed = "Payment failed"
)

// RedirectIfRequired keeps the register on screen unless the provider insists.
const RedirectIfRequired = "if_required"

// Backend creates orders and payment intents. posapi.Client implements it.
type Backend interface {
	Charge(ctx context.Context, req posapi.ChargeRequest) (posapi.ChargeResponse, error)
}

type ConfirmOptions struct {
	Redirect string
}

// PaymentElement collects payment details. Submit validates locally and
// must pass before ConfirmPayment is called.
type PaymentElement interface {
	Submit() error
	ConfirmPayment(ctx context.Context, clientSecret string, opts ConfirmOptions) (posapi.PaymentIntent, error)
}

// Flow drives the two payment phases against the session store.
type Flow struct {
	d       session.Dispatcher
	backend Backend
	log     *zap.Logger
	m       *metrics.Registry
	tracer  trace.Tracer

	charging   atomic.Bool
	confirming atomic.Bool
}

func New(d session.Dispatcher, backend Backend, log *zap.Logger, m *metrics.Registry) *Flow {
	return &Flow{
		d:       d,
		backend: backend,
		log:     log,
		m:       m,
		tracer:  otel.Tracer("posterm/checkout"),
	}
}

// Charge sends the cart to the backend. An empty cart is a no-op returning
// ErrEmptyCart. On failure the cart is kept and the reason is shown.
func (f *Flow) Charge(ctx context.Context) error {
	s := f.d.State()
	if s.View != session.ViewCatalog {
		return ErrNotInCatalog
	}
	if len(s.Lines) == 0 {
		return ErrEmptyCart
	}
	if s.IsProcessing || !f.charging.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer f.charging.Store(false)

	req := posapi.BuildChargeRequest(s.Lines, s.Customer)
	ctx, span := f.tracer.Start(ctx, "checkout.charge", trace.WithAttributes(
		attribute.Int("pos.items", len(req.Items)),
		attribute.Int("pos.custom_items", len(req.CustomItems)),
		attribute.Int64("pos.total_cents", req.TotalCents()),
	))
	defer span.End()

	f.d.Dispatch(session.ChargeStarted{})
	start := time.Now()
	resp, err := f.backend.Charge(ctx, req)
	f.m.ChargeLatencySec.Observe(time.Since(start).Seconds())
	if err != nil {
		msg := messageFor(err, MsgChargeFailed)
		f.d.Dispatch(session.ChargeFailed{Message: msg})
		f.m.Charges.WithLabelValues("failed").Inc()
		f.log.Warn("charge failed", zap.Error(err), zap.Int64("total_cents", req.TotalCents()))
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return fmt.Errorf("charge: %w", err)
	}

	f.d.Dispatch(session.SetPaymentIntent{ClientSecret: resp.PaymentIntent.ClientSecret, Order: *resp.Order})
	f.m.Charges.WithLabelValues("created").Inc()
	f.log.Info("payment intent created",
		zap.String("order_id", resp.Order.ID),
		zap.String("order_number", resp.Order.OrderNumber),
		zap.Int64("total_cents", resp.Order.TotalCents))
	span.SetAttributes(attribute.String("pos.order_id", resp.Order.ID))
	return nil
}

// Confirm submits el and confirms the current payment intent. Failures stay
// inline and keep the client secret so the cashier can retry. A result that
// arrives after the register left checkout, or for another intent, is
// dropped and reported as ErrStaleConfirmation.
func (f *Flow) Confirm(ctx context.Context, el PaymentElement) error {
	s := f.d.State()
	if s.View != session.ViewCheckout || s.ClientSecret == "" {
		return ErrNotInCheckout
	}
	if s.IsProcessing || !f.confirming.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer f.confirming.Store(false)

	secret := s.ClientSecret
	ctx, span := f.tracer.Start(ctx, "checkout.confirm")
	defer span.End()
	if s.Order != nil {
		span.SetAttributes(attribute.String("pos.order_id", s.Order.ID))
	}

	f.d.Dispatch(session.ConfirmStarted{})
	if err := el.Submit(); err != nil {
		f.d.Dispatch(session.PaymentFailed{Message: messageFor(err, MsgConfirmFailed)})
		f.m.Confirmations.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, "submit")
		return fmt.Errorf("submit payment element: %w", err)
	}

	pi, err := el.ConfirmPayment(ctx, secret, ConfirmOptions{Redirect: RedirectIfRequired})

	if now := f.d.State(); now.View != session.ViewCheckout || now.ClientSecret != secret {
		f.m.StaleConfirmations.Inc()
		f.log.Warn("ignoring stale confirmation",
			zap.String("view", string(now.View)),
			zap.Bool("succeeded", err == nil && pi.Status == posapi.StatusSucceeded),
			zap.NamedError("confirm_error", err))
		span.SetStatus(codes.Error, "stale")
		return ErrStaleConfirmation
	}

	if err != nil {
		msg := messageFor(err, MsgConfirmFailed)
		f.d.Dispatch(session.PaymentFailed{Message: msg})
		f.m.Confirmations.WithLabelValues("failed").Inc()
		f.log.Warn("confirmation failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return fmt.Errorf("confirm payment: %w", err)
	}
	if pi.Status != posapi.StatusSucceeded {
		f.d.Dispatch(session.PaymentFailed{Message: fmt.Sprintf("Payment status: %s", pi.Status)})
		f.m.Confirmations.WithLabelValues("failed").Inc()
		span.SetStatus(codes.Error, pi.Status)
		return fmt.Errorf("%w: %s", ErrNotSucceeded, pi.Status)
	}

	f.d.Dispatch(session.PaymentSuccess{})
	f.m.Confirmations.WithLabelValues("succeeded").Inc()
	f.m.SalesCompleted.Inc()
	f.log.Info("payment succeeded", zap.String("payment_intent", pi.ID))
	return nil
}

// Back leaves checkout for the catalog with the cart intact. A confirmation
// still in flight is ignored when it resolves.
func (f *Flow) Back() error {
	if f.d.State().View != session.ViewCheckout {
		return ErrNotInCheckout
	}
	f.d.Dispatch(session.BackToCatalog{})
	return nil
}

// NewSale closes the receipt and starts over with the loaded catalog.
func (f *Flow) NewSale() error {
	if f.d.State().View != session.ViewReceipt {
		return ErrNoCompletedSale
	}
	f.d.Dispatch(session.NewSale{})
	return nil
}

func messageFor(err error, fallback string) string {
	var apiErr *posapi.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	return fallback
}
