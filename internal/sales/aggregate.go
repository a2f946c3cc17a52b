package sales

import (
	"fmt"
	"sort"
	"time"

	"posterm/internal/state"
)

// DefaultWindowSec is used when the window size is not positive.
const DefaultWindowSec = 300

// Output is the aggregate for one key after a sale was applied to it.
type Output struct {
	Key         string `json:"key"`
	Register    string `json:"register"`
	ProductID   string `json:"productId"`
	WindowStart int64  `json:"windowStart"`
	AmountCents int64  `json:"amountCents"`
	Quantity    int64  `json:"quantity"`
	Sales       int64  `json:"sales"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// WindowStart returns floor(ts / windowSec) * windowSec.
func WindowStart(ts int64, windowSec int) int64 {
	if windowSec <= 0 {
		windowSec = DefaultWindowSec
	}
	w := int64(windowSec)
	return (ts / w) * w
}

// NowUnix returns current time in epoch seconds. Split for testability.
var NowUnix = func() int64 { return time.Now().UTC().Unix() }

// Aggregate folds ev into st, one key per product. Lines of the same product
// are merged first because every key of an event shares ev.Seq. A replayed
// event yields no outputs.
func Aggregate(st state.Store, windowSec int, ev Event) ([]Output, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ws := WindowStart(ev.TS, windowSec)

	deltas := make(map[string]state.Delta)
	for _, l := range ev.Lines {
		pid := l.ProductID
		if l.Custom || pid == "" {
			pid = CustomProductID
		}
		d := deltas[pid]
		d.AmountCents += l.totalCents()
		d.Quantity += l.Quantity
		deltas[pid] = d
	}
	pids := make([]string, 0, len(deltas))
	for pid := range deltas {
		pids = append(pids, pid)
	}
	sort.Strings(pids)

	var outs []Output
	for _, pid := range pids {
		key := state.Key(ev.Register, pid, ws)
		applied, t, err := st.Apply(key, deltas[pid], ev.Seq)
		if err != nil {
			return outs, fmt.Errorf("apply %s: %w", key, err)
		}
		if !applied {
			continue
		}
		outs = append(outs, Output{
			Key:         key,
			Register:    ev.Register,
			ProductID:   pid,
			WindowStart: ws,
			AmountCents: t.AmountCents,
			Quantity:    t.Quantity,
			Sales:       t.Sales,
			UpdatedAt:   NowUnix(),
		})
	}
	return outs, nil
}

// Report lists every key of st as an Output, sorted by key.
func Report(st state.Store) ([]Output, error) {
	var outs []Output
	err := st.Range(func(key string, t state.Totals) error {
		reg, pid, ws, err := state.SplitKey(key)
		if err != nil {
			return err
		}
		outs = append(outs, Output{Key: key, Register: reg, ProductID: pid, WindowStart: ws, AmountCents: t.AmountCents, Quantity: t.Quantity, Sales: t.Sales})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(outs, func(i, j int) bool { return outs[i].Key < outs[j].Key })
	return outs, nil
}
