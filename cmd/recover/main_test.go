package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posterm/internal/model"
	"posterm/internal/restore"
	"posterm/internal/session"
)

func TestDescribeCheckoutSession(t *testing.T) {
	st := session.Initial()
	st.Loading = false
	st = session.Reduce(st, session.AddToCart{Line: model.CartLine{Key: "mug::d", ProductID: "mug", VariantID: "d", Title: "Mug", UnitPriceCents: 1500, Quantity: 2}})
	st = session.Reduce(st, session.ChargeStarted{})
	st = session.Reduce(st, session.SetPaymentIntent{ClientSecret: "pi_secret", Order: model.OrderSummary{ID: "o1", OrderNumber: "1001", TotalCents: 3000}})

	var buf bytes.Buffer
	require.NoError(t, describe(&buf, restore.Result{Session: "s1", Seq: 4, State: st, Applied: 4}))
	out := buf.String()
	assert.Contains(t, out, "session s1 at seq 4 (journal only, 4 replayed, 0 skipped)")
	assert.Contains(t, out, "view checkout")
	assert.Contains(t, out, "subtotal $30.00")
	assert.Contains(t, out, "order #1001 total $30.00")
	assert.NotContains(t, out, "Subtotal")
}

func TestDescribeReceipt(t *testing.T) {
	st := session.Initial()
	st = session.Reduce(st, session.AddToCart{Line: model.CartLine{Key: "mug::d", Title: "Mug", UnitPriceCents: 1500, Quantity: 1}})
	st = session.Reduce(st, session.SetPaymentIntent{ClientSecret: "pi_secret", Order: model.OrderSummary{ID: "o1", OrderNumber: "1002", TotalCents: 1500}})
	st = session.Reduce(st, session.PaymentSuccess{})

	var buf bytes.Buffer
	require.NoError(t, describe(&buf, restore.Result{Session: "s1", Seq: 3, State: st, SnapshotID: "s1-00000003", FromSnapshot: true}))
	assert.Contains(t, buf.String(), "snapshot s1-00000003")
	assert.Contains(t, buf.String(), "Order #1002")
}
