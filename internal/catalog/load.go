package catalog

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"posterm/internal/model"
	"posterm/internal/session"
)

// LoadErrorMessage is shown when the product list can not be fetched.
const LoadErrorMessage = "Failed to load products"

// Source fetches the product list. posapi.Client implements it.
type Source interface {
	Products(ctx context.Context) ([]model.Product, error)
}

// Load fetches products from src and records the outcome in the session.
// It runs once at startup; the console's reload command is the only retry.
func Load(ctx context.Context, d session.Dispatcher, src Source, log *zap.Logger) error {
	d.Dispatch(session.SetLoading{})
	products, err := src.Products(ctx)
	if err != nil {
		log.Warn("catalog load failed", zap.Error(err))
		d.Dispatch(session.SetError{Message: LoadErrorMessage})
		return fmt.Errorf("load catalog: %w", err)
	}
	d.Dispatch(session.SetProducts{Products: products})
	log.Info("catalog loaded", zap.Int("products", len(products)))
	return nil
}

// File is the on-disk catalog layout used by gencatalog and the dev backend.
type File struct {
	Products []model.Product `yaml:"products"`
}

// LoadFile reads a YAML catalog.
func LoadFile(path string) ([]model.Product, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i := range f.Products {
		p := &f.Products[i]
		for j := range p.Variants {
			if p.Variants[j].ProductID == "" {
				p.Variants[j].ProductID = p.ID
			}
		}
	}
	return f.Products, nil
}

// WriteFile stores products as a YAML catalog.
func WriteFile(path string, products []model.Product) error {
	data, err := yaml.Marshal(File{Products: products})
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write catalog %s: %w", path, err)
	}
	return nil
}

// StaticSource serves a fixed product list.
type StaticSource []model.Product

func (s StaticSource) Products(context.Context) ([]model.Product, error) {
	return s, nil
}
