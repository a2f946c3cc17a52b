package posapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"posterm/internal/model"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx answer or an {ok:false} body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d", e.Status)
	}
	return e.Message
}

// Client talks to the POS backend.
type Client struct {
	// RegisterID is sent with every request when set.
	RegisterID string

	baseURL string
	http    *http.Client
	newKey  func() string
}

// NewClient returns a client for baseURL. A nil hc gets a client with a 15s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		newKey:  uuid.NewString,
	}
}

// Products fetches the catalog.
func (c *Client) Products(ctx context.Context) ([]model.Product, error) {
	var out ProductsResponse
	if err := c.do(ctx, http.MethodGet, PathProducts, nil, nil, &out); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return out.Products, nil
}

// Charge creates an order and its payment intent. Each call carries a fresh
// idempotency key, so every press of Charge is a new order.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (ChargeResponse, error) {
	var out ChargeResponse
	hdr := http.Header{}
	hdr.Set(HeaderIdempotencyKey, c.newKey())
	if err := c.do(ctx, http.MethodPost, PathCharge, hdr, req, &out); err != nil {
		return ChargeResponse{}, err
	}
	if !out.OK {
		return ChargeResponse{}, &APIError{Status: http.StatusOK, Message: out.Error}
	}
	if out.PaymentIntent == nil || out.PaymentIntent.ClientSecret == "" || out.Order == nil {
		return ChargeResponse{}, errors.New("charge response missing payment intent or order")
	}
	return out, nil
}

// ConnectionToken fetches a card reader connection token.
func (c *Client) ConnectionToken(ctx context.Context) (string, error) {
	var out ConnectionTokenResponse
	if err := c.do(ctx, http.MethodPost, PathConnectionToken, nil, struct{}{}, &out); err != nil {
		return "", fmt.Errorf("connection token: %w", err)
	}
	return out.Secret, nil
}

// ConfirmPayment confirms a payment intent with card details.
func (c *Client) ConfirmPayment(ctx context.Context, req ConfirmRequest) (PaymentIntent, error) {
	var out ConfirmResponse
	if err := c.do(ctx, http.MethodPost, PathConfirm, nil, req, &out); err != nil {
		return PaymentIntent{}, err
	}
	if !out.OK || out.PaymentIntent == nil {
		return PaymentIntent{}, &APIError{Status: http.StatusOK, Message: out.Error}
	}
	return *out.PaymentIntent, nil
}

func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, body, out any) error {
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.RegisterID != "" {
		req.Header.Set(HeaderRegisterID, c.RegisterID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: e.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
