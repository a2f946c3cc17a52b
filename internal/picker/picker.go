// Package picker chooses a variant and quantity for one product before it
// goes into the cart.
package picker

import (
	"errors"

	"posterm/internal/model"
)

var (
	ErrUnknownVariant     = errors.New("variant does not belong to product")
	ErrVariantUnavailable = errors.New("variant is out of stock")
	ErrNoVariant          = errors.New("no variant selected")
	ErrQuantityRange      = errors.New("quantity out of range")
)

// Option is one row of the variant selector.
type Option struct {
	Variant  model.Variant
	Selected bool
	Disabled bool
}

// Picker holds the selection for a single product. It is not safe for
// concurrent use; the console owns it for one command.
type Picker struct {
	product  model.Product
	selected int
	qty      int64
}

// Open starts picking p with its first variant selected and quantity 1.
func Open(p model.Product) *Picker {
	pk := &Picker{product: p, selected: -1, qty: 1}
	if len(p.Variants) > 0 {
		pk.selected = 0
	}
	return pk
}

func (pk *Picker) Product() model.Product { return pk.product }

// ShowVariantSelector is false for products whose only variant is the
// implicit "Default" one.
func (pk *Picker) ShowVariantSelector() bool {
	return len(pk.product.Variants) > 0 && !pk.product.SingleDefault()
}

// SelectorDisabled reports whether no variant can be bought at all.
func (pk *Picker) SelectorDisabled() bool {
	for _, v := range pk.product.Variants {
		if !v.OutOfStock() {
			return false
		}
	}
	return true
}

func (pk *Picker) Options() []Option {
	out := make([]Option, 0, len(pk.product.Variants))
	for i, v := range pk.product.Variants {
		out = append(out, Option{Variant: v, Selected: i == pk.selected, Disabled: v.OutOfStock()})
	}
	return out
}

// Selected returns the current variant.
func (pk *Picker) Selected() (model.Variant, bool) {
	if pk.selected < 0 {
		return model.Variant{}, false
	}
	return pk.product.Variants[pk.selected], true
}

// Select switches to variant id and resets the quantity to 1.
func (pk *Picker) Select(id string) error {
	for i, v := range pk.product.Variants {
		if v.ID != id {
			continue
		}
		if v.OutOfStock() {
			return ErrVariantUnavailable
		}
		pk.selected = i
		pk.qty = 1
		return nil
	}
	return ErrUnknownVariant
}

func (pk *Picker) Quantity() int64 { return pk.qty }

// SetQuantity records the requested quantity as typed. CanAdd decides
// whether it is acceptable.
func (pk *Picker) SetQuantity(q int64) { pk.qty = q }

// Increment and Decrement step the quantity within [1, MaxQuantity].
func (pk *Picker) Increment() {
	if pk.qty < pk.MaxQuantity() {
		pk.qty++
	}
}

func (pk *Picker) Decrement() {
	if pk.qty > 1 {
		pk.qty--
	}
}

// MaxQuantity is the inventory of a stock-limited variant and 99 otherwise.
func (pk *Picker) MaxQuantity() int64 {
	v, ok := pk.Selected()
	if !ok {
		return 0
	}
	return v.MaxPurchasable()
}

// CanAdd reports whether the add button is enabled.
func (pk *Picker) CanAdd() bool {
	_, ok := pk.Selected()
	return ok && pk.qty >= 1 && pk.qty <= pk.MaxQuantity()
}

// PriceCents is the unit price shown: the selected variant's, falling back
// to the product's.
func (pk *Picker) PriceCents() int64 {
	if v, ok := pk.Selected(); ok {
		return v.PriceCents
	}
	return pk.product.PriceCents
}

// CompareAtCents is the struck-through price, if any.
func (pk *Picker) CompareAtCents() *int64 {
	if v, ok := pk.Selected(); ok && v.CompareAtCents != nil {
		return v.CompareAtCents
	}
	return pk.product.CompareAtCents
}

// Line builds the cart line for the current selection with the price
// captured now.
func (pk *Picker) Line() (model.CartLine, error) {
	v, ok := pk.Selected()
	if !ok {
		return model.CartLine{}, ErrNoVariant
	}
	if v.OutOfStock() {
		return model.CartLine{}, ErrVariantUnavailable
	}
	if !pk.CanAdd() {
		return model.CartLine{}, ErrQuantityRange
	}
	return model.CartLine{
		Key:            model.LineKey(pk.product.ID, v.ID),
		ProductID:      pk.product.ID,
		VariantID:      v.ID,
		Title:          pk.product.Title,
		VariantTitle:   v.Title,
		SKU:            v.SKUValue(),
		UnitPriceCents: v.PriceCents,
		Quantity:       pk.qty,
	}, nil
}
