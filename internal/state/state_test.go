package state

import (
	"sync"
	"testing"
)

// backends opens every Store implementation in a fresh directory.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	p, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("pebble open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	b, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("badger open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return map[string]Store{"memory": NewInMemoryStore(), "pebble": p, "badger": b}
}

func TestApply_SeqRules(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			applied, tot, err := s.Apply("k", Delta{AmountCents: 10, Quantity: 1}, 1)
			if err != nil {
				t.Fatalf("apply err: %v", err)
			}
			if !applied || tot.LastSeq != 1 || tot.AmountCents != 10 || tot.Quantity != 1 || tot.Sales != 1 {
				t.Fatalf("unexpected after first apply: %+v applied=%v", tot, applied)
			}

			// same seq => idempotent skip
			applied, tot, err = s.Apply("k", Delta{AmountCents: 20, Quantity: 2}, 1)
			if err != nil {
				t.Fatalf("apply err: %v", err)
			}
			if applied || tot.AmountCents != 10 || tot.Sales != 1 {
				t.Fatalf("should skip same-seq; got %+v applied=%v", tot, applied)
			}

			// gap allowed
			applied, tot, err = s.Apply("k", Delta{AmountCents: 30, Quantity: 3}, 3)
			if err != nil {
				t.Fatalf("apply err: %v", err)
			}
			if !applied || tot.LastSeq != 3 || tot.AmountCents != 40 || tot.Quantity != 4 || tot.Sales != 2 {
				t.Fatalf("unexpected after gap: %+v applied=%v", tot, applied)
			}

			// late lower seq is dropped
			if applied, _, _ = s.Apply("k", Delta{AmountCents: 1}, 2); applied {
				t.Fatalf("lower seq applied")
			}

			got, ok := s.Get("k")
			if !ok || got != tot {
				t.Fatalf("get mismatch: %+v vs %+v ok=%v", got, tot, ok)
			}
			if _, ok := s.Get("missing"); ok {
				t.Fatalf("missing key reported present")
			}
		})
	}
}

func TestLoadAllAndRange(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := s.Apply("stale", Delta{AmountCents: 1}, 1); err != nil {
				t.Fatal(err)
			}
			dump := map[string]Totals{
				Key("A", "p1", 100): {AmountCents: 100, Quantity: 1, Sales: 1, LastSeq: 1},
				Key("B", "p2", 200): {AmountCents: 50, Quantity: 2, Sales: 1, LastSeq: 2},
			}
			if err := s.LoadAll(dump); err != nil {
				t.Fatalf("LoadAll: %v", err)
			}
			got, err := Dump(s)
			if err != nil {
				t.Fatalf("range err: %v", err)
			}
			if len(got) != 2 || got["A#p1#100"] != dump["A#p1#100"] || got["B#p2#200"] != dump["B#p2#200"] {
				t.Fatalf("unexpected dump: %+v", got)
			}
			keys, _ := Keys(s)
			if len(keys) != 2 || keys[0] != "A#p1#100" {
				t.Fatalf("unexpected keys: %v", keys)
			}
		})
	}
}

func TestSplitKey(t *testing.T) {
	reg, prod, w, err := SplitKey(Key("till-1", "p9", 1700000000))
	if err != nil || reg != "till-1" || prod != "p9" || w != 1700000000 {
		t.Fatalf("SplitKey: %s %s %d %v", reg, prod, w, err)
	}
	if _, _, _, err := SplitKey("a#b"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestInMemoryStore_ConcurrentAppliesDifferentKeys(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	keys := []string{"A#p1#100", "A#p2#100", "B#p1#200", "C#p3#300"}
	iters := 1000

	for _, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= iters; i++ {
				if _, _, err := s.Apply(k, Delta{AmountCents: 1, Quantity: 1}, int64(i)); err != nil {
					t.Errorf("apply err: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, k := range keys {
		tot, ok := s.Get(k)
		if !ok || tot.AmountCents != int64(iters) || tot.Sales != int64(iters) || tot.LastSeq != int64(iters) {
			t.Fatalf("bad totals for %s: %+v", k, tot)
		}
	}
}
