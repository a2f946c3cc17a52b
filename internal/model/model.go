package model

import (
	"fmt"
	"strings"
	"time"
)

// MaxLineQty caps the quantity of a single cart line when stock is not tracked.
const MaxLineQty int64 = 99

// DefaultVariantTitle marks the implicit variant of a product without options.
const DefaultVariantTitle = "Default"

// Tag is a category or collection a product belongs to.
type Tag struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}

// Variant is a purchasable configuration of a product.
type Variant struct {
	ID             string            `json:"id" yaml:"id"`
	ProductID      string            `json:"product_id" yaml:"product_id"`
	Title          string            `json:"title" yaml:"title"`
	SKU            *string           `json:"sku" yaml:"sku"`
	PriceCents     int64             `json:"price_cents" yaml:"price_cents"`
	CompareAtCents *int64            `json:"compare_at_price_cents" yaml:"compare_at_price_cents"`
	Options        map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
	InventoryQty   int64             `json:"inventory_qty" yaml:"inventory_qty"`
	TrackInventory bool              `json:"track_inventory" yaml:"track_inventory"`
	AllowBackorder bool              `json:"allow_backorder" yaml:"allow_backorder"`
}

// StockLimited reports whether sales of v are bounded by its inventory.
func (v Variant) StockLimited() bool {
	return v.TrackInventory && !v.AllowBackorder
}

// MaxPurchasable returns how many units of v may go into a single cart line.
func (v Variant) MaxPurchasable() int64 {
	if !v.StockLimited() {
		return MaxLineQty
	}
	if v.InventoryQty < 0 {
		return 0
	}
	return v.InventoryQty
}

// OutOfStock reports whether v can not be sold at all.
func (v Variant) OutOfStock() bool {
	return v.MaxPurchasable() <= 0
}

// SKUValue returns the SKU or "" when unset.
func (v Variant) SKUValue() string {
	if v.SKU == nil {
		return ""
	}
	return *v.SKU
}

// Product is a catalog entry as served to the register. Immutable within a session.
type Product struct {
	ID             string    `json:"id" yaml:"id"`
	Title          string    `json:"title" yaml:"title"`
	Slug           string    `json:"slug" yaml:"slug"`
	PriceCents     int64     `json:"price_cents" yaml:"price_cents"`
	CompareAtCents *int64    `json:"compare_at_price_cents" yaml:"compare_at_price_cents"`
	ImageURL       string    `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Variants       []Variant `json:"variants" yaml:"variants"`
	Categories     []Tag     `json:"categories,omitempty" yaml:"categories,omitempty"`
	Collections    []Tag     `json:"collections,omitempty" yaml:"collections,omitempty"`
}

// SingleDefault reports whether the product only has the implicit "Default" variant.
func (p Product) SingleDefault() bool {
	return len(p.Variants) == 1 && p.Variants[0].Title == DefaultVariantTitle
}

// Variant looks a variant up by id.
func (p Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// InCategory reports whether p is tagged with the category id.
func (p Product) InCategory(id string) bool { return hasTag(p.Categories, id) }

// InCollection reports whether p is tagged with the collection id.
func (p Product) InCollection(id string) bool { return hasTag(p.Collections, id) }

func hasTag(tags []Tag, id string) bool {
	for _, t := range tags {
		if t.ID == id {
			return true
		}
	}
	return false
}

// LineKey returns the cart key of a catalog line.
func LineKey(productID, variantID string) string {
	return productID + "::" + variantID
}

// CustomKey returns the cart key of a keypad line created at t.
func CustomKey(t time.Time) string {
	return fmt.Sprintf("custom::%d", t.UnixMilli())
}

// IsCustomKey reports whether key belongs to a keypad line.
func IsCustomKey(key string) bool {
	return strings.HasPrefix(key, "custom::")
}

// CartLine is one orderable row of the current sale.
// UnitPriceCents is captured when the line is added and never follows the catalog.
type CartLine struct {
	Key            string `json:"key"`
	ProductID      string `json:"product_id,omitempty"`
	VariantID      string `json:"variant_id,omitempty"`
	Title          string `json:"title"`
	VariantTitle   string `json:"variant_title,omitempty"`
	SKU            string `json:"sku,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
	Custom         bool   `json:"custom,omitempty"`
}

// TotalCents is quantity times the captured unit price.
func (l CartLine) TotalCents() int64 {
	return l.UnitPriceCents * l.Quantity
}

// Label is the display name of the line.
func (l CartLine) Label() string {
	if l.VariantTitle == "" || l.VariantTitle == DefaultVariantTitle {
		return l.Title
	}
	return l.Title + " / " + l.VariantTitle
}

// CustomerInfo is optional free text captured at the register.
type CustomerInfo struct {
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Trimmed returns a copy with surrounding whitespace removed.
func (c CustomerInfo) Trimmed() CustomerInfo {
	return CustomerInfo{
		Email:     strings.TrimSpace(c.Email),
		FirstName: strings.TrimSpace(c.FirstName),
		LastName:  strings.TrimSpace(c.LastName),
	}
}

// Empty reports whether no field is set.
func (c CustomerInfo) Empty() bool {
	t := c.Trimmed()
	return t.Email == "" && t.FirstName == "" && t.LastName == ""
}

// OrderSummary is the part of a server-issued order the register keeps.
type OrderSummary struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	TotalCents  int64  `json:"total_cents"`
}

// ReaderStatus is the connection state of the card reader.
type ReaderStatus string

const (
	ReaderNotConnected ReaderStatus = "not_connected"
	ReaderDiscovering  ReaderStatus = "discovering"
	ReaderConnecting   ReaderStatus = "connecting"
	ReaderConnected    ReaderStatus = "connected"
)

// ReaderInfo describes a card reader.
type ReaderInfo struct {
	Serial          string  `json:"serial"`
	Label           string  `json:"label"`
	FirmwareVersion string  `json:"firmware_version,omitempty"`
	BatteryLevel    float64 `json:"battery_level,omitempty"` // fraction 0..1
	Manual          bool    `json:"manual,omitempty"`
}
