package checkout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"posterm/internal/posapi"
)

// ValidationError is a local card check that failed before anything was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Confirmer confirms payment intents. posapi.Client implements it.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, req posapi.ConfirmRequest) (posapi.PaymentIntent, error)
}

// CardElement is a PaymentElement for manually keyed cards.
type CardElement struct {
	mu        sync.Mutex
	card      posapi.Card
	confirmer Confirmer
	now       func() time.Time
}

func NewCardElement(c Confirmer) *CardElement {
	return &CardElement{confirmer: c, now: time.Now}
}

// SetCard replaces the typed card details.
func (e *CardElement) SetCard(card posapi.Card) {
	e.mu.Lock()
	defer e.mu.Unlock()
	card.Number = digitsOnly(card.Number)
	card.CVC = strings.TrimSpace(card.CVC)
	e.card = card
}

func (e *CardElement) Submit() error {
	e.mu.Lock()
	card := e.card
	e.mu.Unlock()

	if n := len(card.Number); n < 12 || n > 19 || !luhn(card.Number) {
		return &ValidationError{Field: "number", Message: "Your card number is invalid."}
	}
	if card.ExpMonth < 1 || card.ExpMonth > 12 || card.ExpYear < 2000 {
		return &ValidationError{Field: "expiry", Message: "Your card's expiration date is incomplete."}
	}
	now := e.now()
	if card.ExpYear < now.Year() || (card.ExpYear == now.Year() && card.ExpMonth < int(now.Month())) {
		return &ValidationError{Field: "expiry", Message: "Your card's expiration date is in the past."}
	}
	if n := len(card.CVC); n < 3 || n > 4 || digitsOnly(card.CVC) != card.CVC {
		return &ValidationError{Field: "cvc", Message: "Your card's security code is incomplete."}
	}
	return nil
}

func (e *CardElement) ConfirmPayment(ctx context.Context, clientSecret string, opts ConfirmOptions) (posapi.PaymentIntent, error) {
	if opts.Redirect != RedirectIfRequired {
		return posapi.PaymentIntent{}, fmt.Errorf("redirect mode %q not supported", opts.Redirect)
	}
	e.mu.Lock()
	card := e.card
	e.mu.Unlock()
	return e.confirmer.ConfirmPayment(ctx, posapi.ConfirmRequest{ClientSecret: clientSecret, Card: card})
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhn reports whether the digit string passes the mod-10 check.
func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
