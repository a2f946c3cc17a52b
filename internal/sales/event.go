// Package sales carries completed-sale events from the backend to the
// aggregator and folds them into per-register product totals.
package sales

import (
	"errors"
	"fmt"
)

// CustomProductID groups keypad lines in the totals.
const CustomProductID = "custom"

// Line is one sold cart line.
type Line struct {
	ProductID      string `json:"productId"`
	VariantID      string `json:"variantId,omitempty"`
	Title          string `json:"title"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Custom         bool   `json:"custom,omitempty"`
}

func (l Line) totalCents() int64 { return l.UnitPriceCents * l.Quantity }

// Event is published once per paid order. Seq is the order's paid sequence
// and grows in publish order; aggregation skips any seq it has already seen.
type Event struct {
	EventID     string `json:"eventId"`
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Register    string `json:"register"`
	Seq         int64  `json:"seq"`
	Lines       []Line `json:"lines"`
	TotalCents  int64  `json:"totalCents"`
	TS          int64  `json:"ts"`
}

var ErrInvalidEvent = errors.New("invalid sale event")

// Validate rejects events the aggregator can not place.
func (e Event) Validate() error {
	switch {
	case e.OrderID == "":
		return fmt.Errorf("%w: missing order id", ErrInvalidEvent)
	case e.Register == "":
		return fmt.Errorf("%w: missing register", ErrInvalidEvent)
	case e.Seq <= 0:
		return fmt.Errorf("%w: seq %d", ErrInvalidEvent, e.Seq)
	case len(e.Lines) == 0:
		return fmt.Errorf("%w: no lines", ErrInvalidEvent)
	}
	var sum int64
	for _, l := range e.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %q quantity %d", ErrInvalidEvent, l.Title, l.Quantity)
		}
		sum += l.totalCents()
	}
	if sum != e.TotalCents {
		return fmt.Errorf("%w: lines sum to %d, total is %d", ErrInvalidEvent, sum, e.TotalCents)
	}
	return nil
}
