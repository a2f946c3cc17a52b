// Package receipt renders a completed sale and optionally archives it.
package receipt

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"posterm/internal/model"
	"posterm/internal/session"
)

var ErrNoReceipt = errors.New("no completed sale")

type Line struct {
	Label      string `json:"label"`
	Quantity   int64  `json:"quantity"`
	UnitCents  int64  `json:"unit_cents"`
	TotalCents int64  `json:"total_cents"`
}

// Receipt is the read-only view of a completed order.
type Receipt struct {
	OrderID       string             `json:"order_id"`
	OrderNumber   string             `json:"order_number"`
	Lines         []Line             `json:"lines"`
	SubtotalCents int64              `json:"subtotal_cents"`
	TotalCents    int64              `json:"total_cents"`
	Customer      model.CustomerInfo `json:"customer"`
	Reader        string             `json:"reader,omitempty"`
	IssuedAt      time.Time          `json:"issued_at"`
}

// FromState builds the receipt of the sale shown on the receipt view.
// TotalCents is the server's order total; SubtotalCents is recomputed from
// the captured line prices.
func FromState(s session.State, at time.Time) (Receipt, error) {
	if s.View != session.ViewReceipt || s.Order == nil {
		return Receipt{}, ErrNoReceipt
	}
	r := Receipt{
		OrderID:       s.Order.ID,
		OrderNumber:   s.Order.OrderNumber,
		SubtotalCents: s.SubtotalCents(),
		TotalCents:    s.Order.TotalCents,
		Customer:      s.Customer.Trimmed(),
		IssuedAt:      at.UTC(),
	}
	for _, l := range s.Lines {
		r.Lines = append(r.Lines, Line{Label: l.Label(), Quantity: l.Quantity, UnitCents: l.UnitPriceCents, TotalCents: l.TotalCents()})
	}
	if s.Reader.Reader != nil {
		r.Reader = s.Reader.Reader.Label
	}
	return r, nil
}

// FormatCents renders an amount as dollars, e.g. 4498 -> "$44.98".
func FormatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}

// Render writes the receipt as aligned text.
func Render(w io.Writer, r Receipt) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Order #%s\t\t\t\n", r.OrderNumber)
	fmt.Fprintf(tw, "%s\t\t\t\n", r.IssuedAt.Format("2006-01-02 15:04 MST"))
	for _, l := range r.Lines {
		fmt.Fprintf(tw, "%s\t%d x\t%s\t%s\t\n", l.Label, l.Quantity, FormatCents(l.UnitCents), FormatCents(l.TotalCents))
	}
	fmt.Fprintf(tw, "Subtotal\t\t\t%s\t\n", FormatCents(r.SubtotalCents))
	fmt.Fprintf(tw, "Total\t\t\t%s\t\n", FormatCents(r.TotalCents))
	if name := strings.TrimSpace(r.Customer.FirstName + " " + r.Customer.LastName); name != "" {
		fmt.Fprintf(tw, "Customer: %s\t\t\t\n", name)
	}
	if r.Customer.Email != "" {
		fmt.Fprintf(tw, "Email: %s\t\t\t\n", r.Customer.Email)
	}
	return tw.Flush()
}

// Text is Render into a string.
func Text(r Receipt) string {
	var b strings.Builder
	_ = Render(&b, r)
	return b.String()
}
