package favorites

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore is the badger counterpart of PebbleStore.
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

func (b *BadgerStore) LoadSet(name string) ([]string, error) {
	var members []string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(setPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(v, &members)
	})
	if err != nil {
		return nil, fmt.Errorf("badger load set %s: %w", name, err)
	}
	return members, nil
}

func (b *BadgerStore) SaveSet(name string, members []string) error {
	v, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(setPrefix+name), v)
	})
}
