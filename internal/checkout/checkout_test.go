package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"posterm/internal/metrics"
	"posterm/internal/model"
	"posterm/internal/posapi"
	"posterm/internal/session"
)

type fakeBackend struct {
	reqs []posapi.ChargeRequest
	err  error
	n    int
}

func (b *fakeBackend) Charge(_ context.Context, req posapi.ChargeRequest) (posapi.ChargeResponse, error) {
	b.reqs = append(b.reqs, req)
	if b.err != nil {
		return posapi.ChargeResponse{}, b.err
	}
	b.n++
	return posapi.ChargeResponse{
		OK:            true,
		PaymentIntent: &posapi.PaymentIntent{ClientSecret: "secret-" + string(rune('0'+b.n))},
		Order:         &model.OrderSummary{ID: "o", OrderNumber: "100" + string(rune('0'+b.n)), TotalCents: req.TotalCents()},
	}, nil
}

type fakeElement struct {
	submitErr error
	intent    posapi.PaymentIntent
	err       error
	secrets   []string
	block     chan struct{}
	started   chan struct{}
}

func (e *fakeElement) Submit() error { return e.submitErr }

func (e *fakeElement) ConfirmPayment(_ context.Context, secret string, opts ConfirmOptions) (posapi.PaymentIntent, error) {
	e.secrets = append(e.secrets, secret)
	if opts.Redirect != RedirectIfRequired {
		return posapi.PaymentIntent{}, errors.New("bad redirect")
	}
	if e.block != nil {
		close(e.started)
		<-e.block
	}
	return e.intent, e.err
}

func newFlow(t *testing.T, backend Backend) (*Flow, *session.Store, *metrics.Registry) {
	t.Helper()
	st := session.NewStore(session.Initial())
	st.Dispatch(session.SetProducts{Products: []model.Product{{ID: "pA"}}})
	m := metrics.NewRegistry()
	return New(st, backend, zap.NewNop(), m), st, m
}

func fillCart(st *session.Store) {
	st.Dispatch(session.AddToCart{Line: model.CartLine{
		Key: "pA::vD", ProductID: "pA", VariantID: "vD", Title: "Tote", VariantTitle: "Default", UnitPriceCents: 1999, Quantity: 2,
	}})
	st.Dispatch(session.AddToCart{Line: model.CartLine{
		Key: model.CustomKey(time.UnixMilli(1)), Title: "Custom amount", UnitPriceCents: 500, Quantity: 1, Custom: true,
	}})
}

func TestChargeEmptyCartIsNoop(t *testing.T) {
	backend := &fakeBackend{}
	f, st, _ := newFlow(t, backend)
	before := st.State()

	assert.ErrorIs(t, f.Charge(context.Background()), ErrEmptyCart)
	assert.Empty(t, backend.reqs)
	assert.Equal(t, before, st.State())
}

func TestEndToEndSale(t *testing.T) {
	backend := &fakeBackend{}
	f, st, m := newFlow(t, backend)
	fillCart(st)
	st.Dispatch(session.SetCustomer{Customer: model.CustomerInfo{Email: " ada@example.com "}})

	require.NoError(t, f.Charge(context.Background()))
	require.Len(t, backend.reqs, 1)
	req := backend.reqs[0]
	require.Len(t, req.Items, 1)
	assert.Equal(t, int64(2), req.Items[0].Quantity)
	assert.Equal(t, int64(1999), req.Items[0].UnitPriceCents)
	require.Len(t, req.CustomItems, 1)
	assert.Equal(t, int64(500), req.CustomItems[0].AmountCents)
	assert.Equal(t, "ada@example.com", req.CustomerEmail)

	s := st.State()
	assert.Equal(t, session.ViewCheckout, s.View)
	assert.False(t, s.IsProcessing)

	el := &fakeElement{intent: posapi.PaymentIntent{ID: "pi_1", Status: posapi.StatusSucceeded}}
	require.NoError(t, f.Confirm(context.Background(), el))
	assert.Equal(t, []string{"secret-1"}, el.secrets)

	s = st.State()
	assert.Equal(t, session.ViewReceipt, s.View)
	assert.Equal(t, int64(4498), s.Order.TotalCents)
	assert.Equal(t, int64(4498), s.SubtotalCents())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SalesCompleted))

	require.NoError(t, f.NewSale())
	assert.Empty(t, st.State().Lines)
	assert.Len(t, st.State().Products, 1)
}

func TestChargeFailureKeepsCart(t *testing.T) {
	backend := &fakeBackend{err: &posapi.APIError{Status: 409, Message: "Insufficient stock for Tote"}}
	f, st, m := newFlow(t, backend)
	fillCart(st)

	err := f.Charge(context.Background())
	require.Error(t, err)
	s := st.State()
	assert.Equal(t, session.ViewCatalog, s.View)
	assert.False(t, s.IsProcessing)
	assert.Equal(t, "Insufficient stock for Tote", s.Error)
	assert.Len(t, s.Lines, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Charges.WithLabelValues("failed")))

	backend.err = errors.New("dial tcp: connection refused")
	require.Error(t, f.Charge(context.Background()))
	assert.Equal(t, MsgChargeFailed, st.State().Error)
}

func TestConfirmFailuresKeepSecret(t *testing.T) {
	f, st, _ := newFlow(t, &fakeBackend{})
	fillCart(st)
	require.NoError(t, f.Charge(context.Background()))

	err := f.Confirm(context.Background(), &fakeElement{submitErr: &ValidationError{Field: "cvc", Message: "Your card's security code is incomplete."}})
	require.Error(t, err)
	s := st.State()
	assert.Equal(t, "Your card's security code is incomplete.", s.PaymentError)
	assert.Equal(t, "secret-1", s.ClientSecret)

	err = f.Confirm(context.Background(), &fakeElement{err: &posapi.APIError{Status: 402, Message: "Your card was declined."}})
	require.Error(t, err)
	assert.Equal(t, "Your card was declined.", st.State().PaymentError)
	assert.Equal(t, session.ViewCheckout, st.State().View)

	err = f.Confirm(context.Background(), &fakeElement{intent: posapi.PaymentIntent{Status: "requires_action"}})
	assert.ErrorIs(t, err, ErrNotSucceeded)
	assert.Equal(t, "Payment status: requires_action", st.State().PaymentError)

	require.NoError(t, f.Confirm(context.Background(), &fakeElement{intent: posapi.PaymentIntent{Status: posapi.StatusSucceeded}}))
	assert.Equal(t, session.ViewReceipt, st.State().View)
}

func TestLateConfirmationAfterBackIsIgnored(t *testing.T) {
	f, st, m := newFlow(t, &fakeBackend{})
	fillCart(st)
	require.NoError(t, f.Charge(context.Background()))

	el := &fakeElement{
		intent:  posapi.PaymentIntent{Status: posapi.StatusSucceeded},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	done := make(chan error, 1)
	go func() { done <- f.Confirm(context.Background(), el) }()

	<-el.started
	require.NoError(t, f.Back())
	close(el.block)

	assert.ErrorIs(t, <-done, ErrStaleConfirmation)
	s := st.State()
	assert.Equal(t, session.ViewCatalog, s.View)
	assert.Len(t, s.Lines, 2)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StaleConfirmations))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SalesCompleted))
}

func TestGuards(t *testing.T) {
	f, st, _ := newFlow(t, &fakeBackend{})
	assert.ErrorIs(t, f.Confirm(context.Background(), &fakeElement{}), ErrNotInCheckout)
	assert.ErrorIs(t, f.Back(), ErrNotInCheckout)
	assert.ErrorIs(t, f.NewSale(), ErrNoCompletedSale)

	fillCart(st)
	st.Dispatch(session.ChargeStarted{})
	assert.ErrorIs(t, f.Charge(context.Background()), ErrBusy)
}

type fakeConfirmer struct{ got posapi.ConfirmRequest }

func (c *fakeConfirmer) ConfirmPayment(_ context.Context, req posapi.ConfirmRequest) (posapi.PaymentIntent, error) {
	c.got = req
	return posapi.PaymentIntent{ID: "pi", Status: posapi.StatusSucceeded}, nil
}

func TestCardElementValidation(t *testing.T) {
	c := &fakeConfirmer{}
	el := NewCardElement(c)
	el.now = func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		card  posapi.Card
		field string
	}{
		{posapi.Card{Number: "4242 4242 4242 4241", ExpMonth: 12, ExpYear: 2030, CVC: "123"}, "number"},
		{posapi.Card{Number: "4242", ExpMonth: 12, ExpYear: 2030, CVC: "123"}, "number"},
		{posapi.Card{Number: "4242424242424242", ExpMonth: 13, ExpYear: 2030, CVC: "123"}, "expiry"},
		{posapi.Card{Number: "4242424242424242", ExpMonth: 9, ExpYear: 2026, CVC: "123"}, "expiry"},
		{posapi.Card{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "12"}, "cvc"},
		{posapi.Card{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "12a"}, "cvc"},
		{posapi.Card{Number: "4242-4242-4242-4242", ExpMonth: 10, ExpYear: 2026, CVC: "1234"}, ""},
	}
	for _, tc := range cases {
		el.SetCard(tc.card)
		err := el.Submit()
		if tc.field == "" {
			assert.NoError(t, err, "%+v", tc.card)
			continue
		}
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), "%+v", tc.card)
		assert.Equal(t, tc.field, vErr.Field)
	}

	pi, err := el.ConfirmPayment(context.Background(), "secret", ConfirmOptions{Redirect: RedirectIfRequired})
	require.NoError(t, err)
	assert.Equal(t, posapi.StatusSucceeded, pi.Status)
	assert.Equal(t, "4242424242424242", c.got.Card.Number)
	assert.Equal(t, "secret", c.got.ClientSecret)

	_, err = el.ConfirmPayment(context.Background(), "secret", ConfirmOptions{Redirect: "always"})
	assert.Error(t, err)
}
