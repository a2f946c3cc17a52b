package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	mu sync.Mutex // serializes read-modify-write in Apply
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    8,
		WALBytesPerSync:          1 << 20,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func decodeTotals(val []byte) (Totals, error) {
	var t Totals
	if err := json.Unmarshal(val, &t); err != nil {
		return Totals{}, err
	}
	return t, nil
}

func (p *PebbleStore) get(k []byte) (Totals, bool, error) {
	v, closer, err := p.db.Get(k)
	if errors.Is(err, pebble.ErrNotFound) {
		return Totals{}, false, nil
	}
	if err != nil {
		return Totals{}, false, err
	}
	defer closer.Close()
	t, err := decodeTotals(v)
	return t, err == nil, err
}

func (p *PebbleStore) Apply(key string, d Delta, seq int64) (bool, Totals, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := []byte(key)
	cur, _, err := p.get(k)
	if err != nil {
		return false, Totals{}, err
	}
	next, ok := apply(cur, d, seq)
	if !ok {
		return false, cur, nil
	}
	b, err := json.Marshal(next)
	if err != nil {
		return false, Totals{}, err
	}
	// WAL is synced every WALBytesPerSync; a lost tail is re-consumed from Kafka.
	if err := p.db.Set(k, b, pebble.NoSync); err != nil {
		return false, Totals{}, err
	}
	return true, next, nil
}

func (p *PebbleStore) Get(key string) (Totals, bool) {
	t, ok, err := p.get([]byte(key))
	if err != nil {
		return Totals{}, false
	}
	return t, ok
}

func (p *PebbleStore) Range(fn func(key string, t Totals) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		t, err := decodeTotals(it.Value())
		if err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if err := fn(string(k), t); err != nil {
			return err
		}
	}
	return nil
}

// LoadAll replaces every key with the contents of all in one batch.
func (p *PebbleStore) LoadAll(all map[string]Totals) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	wb := p.db.NewBatch()
	defer wb.Close()

	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	for it.First(); it.Valid(); it.Next() {
		if err := wb.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
			it.Close()
			return err
		}
	}
	if err := it.Close(); err != nil {
		return err
	}
	for k, t := range all {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		if err := wb.Set([]byte(k), b, nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}
