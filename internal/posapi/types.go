// Package posapi is the register's REST contract with the backend: wire
// types shared by client and server, and the HTTP client.
package posapi

import (
	"strings"

	"posterm/internal/model"
)

// Paths served by the backend.
const (
	PathProducts        = "/api/pos/products"
	PathCharge          = "/api/pos/charge"
	PathConnectionToken = "/api/pos/connection-token"
	PathConfirm         = "/api/pos/payment-intents/confirm"
)

// HeaderIdempotencyKey makes a charge safe to resend.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderRegisterID names the register a request comes from.
const HeaderRegisterID = "X-Register-ID"

// DefaultCustomLabel names keypad lines without a label.
const DefaultCustomLabel = "Custom amount"

type ProductsResponse struct {
	Products []model.Product `json:"products"`
}

type ChargeItem struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type CustomItem struct {
	Label       string `json:"label"`
	AmountCents int64  `json:"amount_cents"`
	Quantity    int64  `json:"quantity"`
}

type ChargeRequest struct {
	Items             []ChargeItem `json:"items"`
	CustomItems       []CustomItem `json:"custom_items"`
	CustomerEmail     string       `json:"customer_email,omitempty"`
	CustomerFirstName string       `json:"customer_first_name,omitempty"`
	CustomerLastName  string       `json:"customer_last_name,omitempty"`
}

// TotalCents is what the backend is expected to charge for r.
func (r ChargeRequest) TotalCents() int64 {
	var total int64
	for _, it := range r.Items {
		total += it.UnitPriceCents * it.Quantity
	}
	for _, it := range r.CustomItems {
		total += it.AmountCents * it.Quantity
	}
	return total
}

// PaymentIntent is the provider object behind a charge.
type PaymentIntent struct {
	ID           string `json:"id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status,omitempty"`
	AmountCents  int64  `json:"amount_cents,omitempty"`
}

// Payment intent statuses.
const (
	StatusRequiresPaymentMethod = "requires_payment_method"
	StatusSucceeded             = "succeeded"
)

type ChargeResponse struct {
	OK            bool                `json:"ok"`
	PaymentIntent *PaymentIntent      `json:"payment_intent,omitempty"`
	Order         *model.OrderSummary `json:"order,omitempty"`
	Error         string              `json:"error,omitempty"`
}

type ConnectionTokenResponse struct {
	Secret string `json:"secret"`
}

// Card holds the details typed into the card element.
type Card struct {
	Number   string `json:"number"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
	CVC      string `json:"cvc"`
}

type ConfirmRequest struct {
	ClientSecret string `json:"client_secret"`
	Card         Card   `json:"card"`
}

type ConfirmResponse struct {
	OK            bool           `json:"ok"`
	PaymentIntent *PaymentIntent `json:"payment_intent,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// BuildChargeRequest splits cart lines into catalog items and keypad items
// and attaches the trimmed customer fields.
func BuildChargeRequest(lines []model.CartLine, customer model.CustomerInfo) ChargeRequest {
	req := ChargeRequest{Items: []ChargeItem{}, CustomItems: []CustomItem{}}
	for _, l := range lines {
		if l.Custom || model.IsCustomKey(l.Key) {
			label := strings.TrimSpace(l.Title)
			if label == "" {
				label = DefaultCustomLabel
			}
			req.CustomItems = append(req.CustomItems, CustomItem{Label: label, AmountCents: l.UnitPriceCents, Quantity: l.Quantity})
			continue
		}
		req.Items = append(req.Items, ChargeItem{
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
		})
	}
	c := customer.Trimmed()
	req.CustomerEmail = c.Email
	req.CustomerFirstName = c.FirstName
	req.CustomerLastName = c.LastName
	return req
}
