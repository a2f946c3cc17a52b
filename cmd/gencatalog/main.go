package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"strings"

	"posterm/internal/catalog"
	"posterm/internal/model"
)

func main() {
	var (
		count      int
		outputFile string
		seed       int64
	)
	flag.IntVar(&count, "count", 24, "number of products to generate")
	flag.StringVar(&outputFile, "output", "catalog.yaml", "output file")
	flag.Int64Var(&seed, "seed", 1, "random seed")
	flag.Parse()

	products := generate(rand.New(rand.NewSource(seed)), count)
	if err := catalog.WriteFile(outputFile, products); err != nil {
		log.Fatalf("generation failed: %v", err)
	}
	log.Printf("generated %d products to %s", len(products), outputFile)
}

var (
	categories = []model.Tag{
		{ID: "apparel", Title: "Apparel"},
		{ID: "drinkware", Title: "Drinkware"},
		{ID: "stationery", Title: "Stationery"},
	}
	collections = []model.Tag{
		{ID: "summer", Title: "Summer"},
		{ID: "staff-picks", Title: "Staff Picks"},
	}
	nouns = map[string][]string{
		"apparel":    {"Tee", "Hoodie", "Cap", "Socks"},
		"drinkware":  {"Mug", "Tumbler", "Bottle"},
		"stationery": {"Notebook", "Pen Set", "Sticker Pack"},
	}
	adjectives = []string{"Classic", "Logo", "Retro", "Field", "Studio", "Harbor"}
	sizes      = []string{"S", "M", "L", "XL"}
)

// generate builds count products. Apparel gets sized variants with tracked
// stock; everything else has the single Default variant.
func generate(rng *rand.Rand, count int) []model.Product {
	out := make([]model.Product, 0, count)
	for i := 0; i < count; i++ {
		cat := categories[rng.Intn(len(categories))]
		noun := nouns[cat.ID][rng.Intn(len(nouns[cat.ID]))]
		title := adjectives[rng.Intn(len(adjectives))] + " " + noun
		id := fmt.Sprintf("p%03d", i+1)
		price := int64(500 + rng.Intn(60)*100 - 1) // ends in .99

		p := model.Product{
			ID:         id,
			Title:      title,
			Slug:       strings.ToLower(strings.ReplaceAll(title, " ", "-")) + "-" + id,
			PriceCents: price,
			Categories: []model.Tag{cat},
		}
		if rng.Intn(3) == 0 {
			p.Collections = []model.Tag{collections[rng.Intn(len(collections))]}
		}
		if rng.Intn(4) == 0 {
			cmp := price + 1000
			p.CompareAtCents = &cmp
		}

		if cat.ID == "apparel" {
			for _, size := range sizes {
				sku := fmt.Sprintf("%s-%s", strings.ToUpper(id), size)
				p.Variants = append(p.Variants, model.Variant{
					ID:             id + "-" + strings.ToLower(size),
					ProductID:      id,
					Title:          size,
					SKU:            &sku,
					PriceCents:     price,
					CompareAtCents: p.CompareAtCents,
					Options:        map[string]string{"Size": size},
					InventoryQty:   int64(rng.Intn(6)),
					TrackInventory: true,
				})
			}
		} else {
			sku := strings.ToUpper(id)
			p.Variants = []model.Variant{{
				ID:             id + "-default",
				ProductID:      id,
				Title:          model.DefaultVariantTitle,
				SKU:            &sku,
				PriceCents:     price,
				CompareAtCents: p.CompareAtCents,
				InventoryQty:   int64(rng.Intn(40)),
				TrackInventory: rng.Intn(2) == 0,
				AllowBackorder: rng.Intn(5) == 0,
			}}
		}
		out = append(out, p)
	}
	return out
}
