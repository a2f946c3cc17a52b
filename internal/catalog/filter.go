// Package catalog narrows the loaded product list for the library and
// favorites tabs and loads that list once per session.
package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"posterm/internal/model"
)

var folder = cases.Fold()

func fold(s string) string {
	return folder.String(norm.NFC.String(s))
}

// Filter is the library search state. At most one of CategoryID and
// CollectionID is set.
type Filter struct {
	Query        string
	CategoryID   string
	CollectionID string
}

// WithQuery returns f searching for q.
func (f Filter) WithQuery(q string) Filter {
	f.Query = q
	return f
}

// ToggleCategory selects category id, clearing any collection. Selecting the
// active category again deselects it.
func (f Filter) ToggleCategory(id string) Filter {
	if f.CategoryID == id {
		f.CategoryID = ""
		return f
	}
	f.CategoryID = id
	f.CollectionID = ""
	return f
}

// ToggleCollection is the collection counterpart of ToggleCategory.
func (f Filter) ToggleCollection(id string) Filter {
	if f.CollectionID == id {
		f.CollectionID = ""
		return f
	}
	f.CollectionID = id
	f.CategoryID = ""
	return f
}

// Clear drops the tag selection and keeps the query.
func (f Filter) Clear() Filter {
	f.CategoryID = ""
	f.CollectionID = ""
	return f
}

// Matches reports whether p passes both the search and the tag selection.
func (f Filter) Matches(p model.Product) bool {
	if f.CategoryID != "" && !p.InCategory(f.CategoryID) {
		return false
	}
	if f.CollectionID != "" && !p.InCollection(f.CollectionID) {
		return false
	}
	return matchesQuery(p, fold(strings.TrimSpace(f.Query)))
}

func matchesQuery(p model.Product, q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(fold(p.Title), q) {
		return true
	}
	for _, v := range p.Variants {
		if strings.Contains(fold(v.Title), q) || strings.Contains(fold(v.SKUValue()), q) {
			return true
		}
	}
	return false
}

// Apply returns the products that match f, in catalog order.
func (f Filter) Apply(products []model.Product) []model.Product {
	out := make([]model.Product, 0, len(products))
	for _, p := range products {
		if f.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Categories lists the distinct categories of products sorted by title.
func Categories(products []model.Product) []model.Tag {
	return distinct(products, func(p model.Product) []model.Tag { return p.Categories })
}

// Collections lists the distinct collections of products sorted by title.
func Collections(products []model.Product) []model.Tag {
	return distinct(products, func(p model.Product) []model.Tag { return p.Collections })
}

func distinct(products []model.Product, tags func(model.Product) []model.Tag) []model.Tag {
	seen := map[string]bool{}
	var out []model.Tag
	for _, p := range products {
		for _, t := range tags(p) {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}
