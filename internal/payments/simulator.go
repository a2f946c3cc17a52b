// Package payments simulates the card payment provider for the development
// backend: payment intents, their confirmation and reader connection tokens.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"posterm/internal/orders"
	"posterm/internal/posapi"
)

// DeclineCard is always declined.
const DeclineCard = "4000000000000002"

const tokenIssuer = "posbackend/terminal"

var (
	ErrCardDeclined   = errors.New("card declined")
	ErrUnknownIntent  = errors.New("unknown payment intent")
	ErrInvalidCard    = errors.New("incomplete card number")
	ErrAlreadyCharged = errors.New("payment already succeeded")
)

// Message is the cashier-facing text for a confirmation error.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrCardDeclined):
		return "Your card was declined."
	case errors.Is(err, ErrUnknownIntent):
		return "No such payment intent."
	case errors.Is(err, ErrInvalidCard):
		return "Your card number is incomplete."
	case errors.Is(err, ErrAlreadyCharged):
		return "This payment has already succeeded."
	}
	return "Payment failed"
}

// IntentStore is the persistence the simulator needs; *orders.Store has it.
type IntentStore interface {
	CreateIntent(ctx context.Context, in orders.Intent) error
	IntentBySecret(ctx context.Context, secret string) (orders.Intent, error)
	SetIntentStatus(ctx context.Context, id, status string) error
}

type Simulator struct {
	store    IntentStore
	key      []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// NewSimulator signs connection tokens with key. A zero ttl means ten minutes.
func NewSimulator(store IntentStore, key []byte, ttl time.Duration) *Simulator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Simulator{store: store, key: key, tokenTTL: ttl, now: time.Now}
}

func compactID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateIntent opens a payment intent for an order.
func (s *Simulator) CreateIntent(ctx context.Context, orderID string, amountCents int64) (orders.Intent, error) {
	id := "pi_" + compactID()[:24]
	in := orders.Intent{
		ID:           id,
		ClientSecret: id + "_secret_" + compactID()[:24],
		OrderID:      orderID,
		AmountCents:  amountCents,
		Status:       posapi.StatusRequiresPaymentMethod,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateIntent(ctx, in); err != nil {
		return orders.Intent{}, err
	}
	return in, nil
}

// Confirm charges card against the intent behind secret. A declined card
// leaves the intent open so the cashier can retry with the same secret.
func (s *Simulator) Confirm(ctx context.Context, secret string, card posapi.Card) (orders.Intent, error) {
	in, err := s.store.IntentBySecret(ctx, secret)
	if errors.Is(err, orders.ErrNotFound) {
		return orders.Intent{}, ErrUnknownIntent
	}
	if err != nil {
		return orders.Intent{}, err
	}
	if in.Status == posapi.StatusSucceeded {
		return in, ErrAlreadyCharged
	}
	number := strings.ReplaceAll(card.Number, " ", "")
	if len(number) < 12 {
		return in, ErrInvalidCard
	}
	if number == DeclineCard {
		return in, ErrCardDeclined
	}
	if err := s.store.SetIntentStatus(ctx, in.ID, posapi.StatusSucceeded); err != nil {
		return orders.Intent{}, fmt.Errorf("confirm %s: %w", in.ID, err)
	}
	in.Status = posapi.StatusSucceeded
	return in, nil
}

// ConnectionToken issues a short-lived token a reader session presents when
// it connects.
func (s *Simulator) ConnectionToken() (string, error) {
	now := s.now().UTC()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   "terminal",
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// VerifyConnectionToken checks signature, issuer and expiry.
func (s *Simulator) VerifyConnectionToken(token string) error {
	_, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
	)
	return err
}
