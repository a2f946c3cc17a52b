// Package state keeps running sales totals per register, product and time
// window. Updates carry the sale's sequence number so a redelivered sale
// event never counts twice.
package state

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Totals is the aggregate for one key.
type Totals struct {
	AmountCents int64 `json:"amountCents"`
	Quantity    int64 `json:"quantity"`
	Sales       int64 `json:"sales"`
	LastSeq     int64 `json:"lastSeq"`
}

// Delta is what one sale adds to a key.
type Delta struct {
	AmountCents int64
	Quantity    int64
}

// Key builds "<register>#<product>#<windowStart>".
func Key(register, productID string, windowStart int64) string {
	return register + "#" + productID + "#" + strconv.FormatInt(windowStart, 10)
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (register, productID string, windowStart int64, err error) {
	parts := strings.Split(key, "#")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("bad key %q", key)
	}
	windowStart, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("bad window in key %q: %w", key, err)
	}
	return parts[0], parts[1], windowStart, nil
}

// Store abstracts the totals backend. Apply is a no-op returning false when
// seq is not newer than the key's LastSeq; gaps are accepted.
type Store interface {
	Apply(key string, d Delta, seq int64) (applied bool, next Totals, err error)
	Get(key string) (Totals, bool)
	Range(fn func(key string, t Totals) error) error
	LoadAll(all map[string]Totals) error
}

func apply(cur Totals, d Delta, seq int64) (Totals, bool) {
	if seq <= cur.LastSeq {
		return cur, false
	}
	cur.AmountCents += d.AmountCents
	cur.Quantity += d.Quantity
	cur.Sales++
	cur.LastSeq = seq
	return cur, true
}

// Dump copies a store into a map, the shape snapshots are written in.
func Dump(s Store) (map[string]Totals, error) {
	out := make(map[string]Totals)
	err := s.Range(func(key string, t Totals) error {
		out[key] = t
		return nil
	})
	return out, err
}

// Keys returns the sorted keys of a store.
func Keys(s Store) ([]string, error) {
	var keys []string
	err := s.Range(func(key string, _ Totals) error {
		keys = append(keys, key)
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Totals
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Totals)}
}

func (s *InMemoryStore) LoadAll(all map[string]Totals) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]Totals, len(all))
	for k, v := range all {
		s.data[k] = v
	}
	return nil
}

func (s *InMemoryStore) Apply(key string, d Delta, seq int64) (bool, Totals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := apply(s.data[key], d, seq)
	if ok {
		s.data[key] = next
	}
	return ok, next, nil
}

func (s *InMemoryStore) Get(key string) (Totals, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.data[key]
	return t, ok
}

func (s *InMemoryStore) Range(fn func(key string, t Totals) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if err := fn(k, v); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}
