// Package favorites keeps the register's starred products across restarts
// without a server round trip.
package favorites

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"posterm/internal/model"
)

// SetName is the key favorites are stored under.
const SetName = "pos-favorites"

// Favorites is an ordered set of product ids backed by a SetStore.
type Favorites struct {
	mu    sync.Mutex
	store SetStore
	log   *zap.Logger
	ids   []string
	index map[string]struct{}
}

// Open loads the saved set. An unreadable set starts empty rather than
// failing the register.
func Open(store SetStore, log *zap.Logger) *Favorites {
	f := &Favorites{store: store, log: log, index: map[string]struct{}{}}
	ids, err := store.LoadSet(SetName)
	if err != nil {
		log.Warn("favorites unreadable, starting empty", zap.Error(err))
		return f
	}
	for _, id := range ids {
		if _, dup := f.index[id]; dup || id == "" {
			continue
		}
		f.index[id] = struct{}{}
		f.ids = append(f.ids, id)
	}
	return f
}

// Toggle adds id if absent and removes it otherwise, then persists the set.
// It returns whether id is now a favorite. On a save error the in-memory set
// is rolled back.
func (f *Favorites) Toggle(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev := f.ids
	_, had := f.index[id]
	if had {
		next := make([]string, 0, len(f.ids))
		for _, x := range f.ids {
			if x != id {
				next = append(next, x)
			}
		}
		f.ids = next
	} else {
		f.ids = append(append([]string(nil), f.ids...), id)
	}

	if err := f.store.SaveSet(SetName, f.ids); err != nil {
		f.ids = prev
		return had, fmt.Errorf("save favorites: %w", err)
	}
	if had {
		delete(f.index, id)
	} else {
		f.index[id] = struct{}{}
	}
	return !had, nil
}

func (f *Favorites) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.index[id]
	return ok
}

// IDs returns the favorites in the order they were starred.
func (f *Favorites) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

// Filter keeps the favorite products of ps, in catalog order. Ids that are no
// longer in the catalog are skipped.
func (f *Favorites) Filter(ps []model.Product) []model.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Product, 0, len(f.ids))
	for _, p := range ps {
		if _, ok := f.index[p.ID]; ok {
			out = append(out, p)
		}
	}
	return out
}
