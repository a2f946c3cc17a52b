package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func readTotals(txn *badger.Txn, key []byte) (Totals, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Totals{}, false, nil
	}
	if err != nil {
		return Totals{}, false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return Totals{}, false, err
	}
	t, err := decodeTotals(v)
	return t, err == nil, err
}

func (b *BadgerStore) Apply(key string, d Delta, seq int64) (bool, Totals, error) {
	var applied bool
	var out Totals
	err := b.db.Update(func(txn *badger.Txn) error {
		cur, _, err := readTotals(txn, []byte(key))
		if err != nil {
			return err
		}
		next, ok := apply(cur, d, seq)
		out, applied = next, ok
		if !ok {
			return nil
		}
		v, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), v)
	})
	if err != nil {
		return false, Totals{}, err
	}
	return applied, out, nil
}

func (b *BadgerStore) Get(key string) (Totals, bool) {
	var t Totals
	var ok bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		t, ok, err = readTotals(txn, []byte(key))
		return err
	})
	if err != nil {
		return Totals{}, false
	}
	return t, ok
}

func (b *BadgerStore) Range(fn func(key string, t Totals) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			t, err := decodeTotals(v)
			if err != nil {
				return err
			}
			if err := fn(string(item.KeyCopy(nil)), t); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll replaces every key with the contents of all in one transaction.
func (b *BadgerStore) LoadAll(all map[string]Totals) error {
	return b.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for k, t := range all {
			v, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}
