package favorites

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

const setPrefix = "set/"

// PebbleStore keeps each set as one JSON array under "set/<name>".
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	d, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) LoadSet(name string) ([]string, error) {
	v, closer, err := p.db.Get([]byte(setPrefix + name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pebble get %s: %w", name, err)
	}
	defer closer.Close()
	var members []string
	if err := json.Unmarshal(v, &members); err != nil {
		return nil, fmt.Errorf("decode set %s: %w", name, err)
	}
	return members, nil
}

func (p *PebbleStore) SaveSet(name string, members []string) error {
	b, err := json.Marshal(members)
	if err != nil {
		return err
	}
	// A toggle must survive a crash.
	if err := p.db.Set([]byte(setPrefix+name), b, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", name, err)
	}
	return nil
}
