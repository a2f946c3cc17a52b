package terminal

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"posterm/internal/model"
	"posterm/internal/receipt"
	"posterm/internal/session"
)

func (c *Console) table() *tabwriter.Writer {
	return tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
}

func (c *Console) renderProducts(ps []model.Product) {
	if len(ps) == 0 {
		c.printf("no products\n")
		return
	}
	tw := c.table()
	for _, p := range ps {
		star := " "
		if c.Favorites.Has(p.ID) {
			star = "*"
		}
		stock := ""
		if allOutOfStock(p) {
			stock = "out of stock"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", star, p.ID, p.Title, receipt.FormatCents(p.PriceCents), stock)
	}
	tw.Flush()
}

func allOutOfStock(p model.Product) bool {
	for _, v := range p.Variants {
		if !v.OutOfStock() {
			return false
		}
	}
	return len(p.Variants) > 0
}

func (c *Console) renderPicker() {
	pk := c.picker
	p := pk.Product()
	c.printf("%s\n", p.Title)
	if pk.ShowVariantSelector() {
		tw := c.table()
		for _, o := range pk.Options() {
			mark := " "
			if o.Selected {
				mark = ">"
			}
			note := ""
			if o.Disabled {
				note = "sold out"
			} else if o.Variant.StockLimited() {
				note = strconv.FormatInt(o.Variant.InventoryQty, 10) + " left"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, o.Variant.ID, o.Variant.Title, receipt.FormatCents(o.Variant.PriceCents), note)
		}
		tw.Flush()
	}
	price := receipt.FormatCents(pk.PriceCents())
	if cmp := pk.CompareAtCents(); cmp != nil {
		price += " (was " + receipt.FormatCents(*cmp) + ")"
	}
	add := "add"
	if !pk.CanAdd() {
		add = "unavailable"
	}
	c.printf("qty %d of max %d  %s  [%s]\n", pk.Quantity(), pk.MaxQuantity(), price, add)
}

func (c *Console) renderCart(s session.State) {
	if len(s.Lines) == 0 {
		c.printf("cart is empty\n")
		return
	}
	tw := c.table()
	for i, l := range s.Lines {
		fmt.Fprintf(tw, "%d\t%s\t%d x %s\t%s\n", i+1, l.Label(), l.Quantity, receipt.FormatCents(l.UnitPriceCents), receipt.FormatCents(l.TotalCents()))
	}
	fmt.Fprintf(tw, "\tSubtotal\t\t%s\n", receipt.FormatCents(s.SubtotalCents()))
	tw.Flush()
}

func (c *Console) renderCheckout(s session.State) {
	if s.Order == nil {
		return
	}
	c.printf("Order #%s  total %s\n", s.Order.OrderNumber, receipt.FormatCents(s.Order.TotalCents))
	c.printf("enter card details with: card <number> <mm/yy> <cvc>, then pay\n")
}

func (c *Console) printReceipt(s session.State) error {
	r, err := receipt.FromState(s, c.now())
	if err != nil {
		return err
	}
	return receipt.Render(c.out, r)
}

func (c *Console) renderReader() {
	snap := c.Reader.Snapshot()
	line := "reader: " + strings.ReplaceAll(string(snap.Status), "_", " ")
	if snap.Reader != nil {
		line += " (" + snap.Reader.Label + ")"
	}
	if c.Reader.Manual() {
		line += " [manual]"
	}
	c.printf("%s\n", line)
	if snap.Err != "" {
		c.printf("  %s\n", snap.Err)
	}
}
