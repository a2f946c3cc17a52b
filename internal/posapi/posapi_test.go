package posapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"posterm/internal/model"
)

func saleLines() []model.CartLine {
	return []model.CartLine{
		{Key: "pA::vD", ProductID: "pA", VariantID: "vD", Title: "Tote", VariantTitle: "Default", UnitPriceCents: 1999, Quantity: 2},
		{Key: "custom::1700000000000", Title: "", UnitPriceCents: 500, Quantity: 1, Custom: true},
	}
}

func TestBuildChargeRequestSplitsLines(t *testing.T) {
	req := BuildChargeRequest(saleLines(), model.CustomerInfo{Email: "  ada@example.com ", FirstName: " Ada"})

	require.Len(t, req.Items, 1)
	assert.Equal(t, ChargeItem{ProductID: "pA", VariantID: "vD", Quantity: 2, UnitPriceCents: 1999}, req.Items[0])
	require.Len(t, req.CustomItems, 1)
	assert.Equal(t, CustomItem{Label: DefaultCustomLabel, AmountCents: 500, Quantity: 1}, req.CustomItems[0])
	assert.Equal(t, "ada@example.com", req.CustomerEmail)
	assert.Equal(t, "Ada", req.CustomerFirstName)
	assert.Equal(t, int64(4498), req.TotalCents())

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"items":[{"product_id":"pA","variant_id":"vD","quantity":2,"unit_price_cents":1999}],
		"custom_items":[{"label":"Custom amount","amount_cents":500,"quantity":1}],
		"customer_email":"ada@example.com",
		"customer_first_name":"Ada"
	}`, string(b))
}

func TestBuildChargeRequestEmptySlices(t *testing.T) {
	b, err := json.Marshal(BuildChargeRequest(nil, model.CustomerInfo{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[],"custom_items":[]}`, string(b))
}

func TestClientCharge(t *testing.T) {
	var gotKey string
	var gotBody ChargeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathCharge, r.URL.Path)
		gotKey = r.Header.Get(HeaderIdempotencyKey)
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_ = json.NewEncoder(w).Encode(ChargeResponse{
			OK:            true,
			PaymentIntent: &PaymentIntent{ClientSecret: "pi_1_secret_x"},
			Order:         &model.OrderSummary{ID: "o1", OrderNumber: "1001", TotalCents: 4498},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	resp, err := c.Charge(context.Background(), BuildChargeRequest(saleLines(), model.CustomerInfo{}))
	require.NoError(t, err)
	assert.Equal(t, "pi_1_secret_x", resp.PaymentIntent.ClientSecret)
	assert.Equal(t, int64(4498), resp.Order.TotalCents)
	assert.NotEmpty(t, gotKey)
	assert.Len(t, gotBody.Items, 1)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathCharge:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"ok":false,"error":"Insufficient stock for Tote"}`))
		case PathProducts:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		case PathConfirm:
			_, _ = w.Write([]byte(`{"ok":false,"error":"Your card was declined."}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, nil)

	_, err := c.Charge(context.Background(), ChargeRequest{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "Insufficient stock for Tote", apiErr.Error())

	_, err = c.Products(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)

	_, err = c.ConfirmPayment(context.Background(), ConfirmRequest{ClientSecret: "s"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Your card was declined.", apiErr.Message)
}

func TestClientProductsAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PathProducts:
			_, _ = w.Write([]byte(`{"products":[{"id":"p1","title":"Tee","price_cents":1999,"variants":[]}]}`))
		case PathConnectionToken:
			assert.Equal(t, http.MethodPost, r.Method)
			_, _ = w.Write([]byte(`{"secret":"pst_test_123"}`))
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, nil)

	ps, err := c.Products(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Tee", ps[0].Title)

	tok, err := c.ConnectionToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pst_test_123", tok)
}
