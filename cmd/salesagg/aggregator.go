package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"posterm/internal/metrics"
	"posterm/internal/sales"
	"posterm/internal/state"
)

type aggregator struct {
	st        state.Store
	windowSec int
	log       *zap.Logger
	m         *metrics.Registry
}

// handle folds one encoded sale event into the store. Malformed or invalid
// events are logged and skipped; only store failures are returned.
func (a *aggregator) handle(value []byte) ([]sales.Output, error) {
	t0 := time.Now()
	defer func() { a.m.ConsumeLatencySec.Observe(time.Since(t0).Seconds()) }()

	var ev sales.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		a.m.SaleEventsConsumed.WithLabelValues("malformed").Inc()
		a.log.Warn("skip malformed sale event", zap.Error(err))
		return nil, nil
	}
	outs, err := sales.Aggregate(a.st, a.windowSec, ev)
	switch {
	case errors.Is(err, sales.ErrInvalidEvent):
		a.m.SaleEventsConsumed.WithLabelValues("invalid").Inc()
		a.log.Warn("skip invalid sale event", zap.String("order", ev.OrderNumber), zap.Error(err))
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("aggregate order %s: %w", ev.OrderNumber, err)
	}
	if len(outs) == 0 {
		a.m.SaleEventsConsumed.WithLabelValues("duplicate").Inc()
		a.log.Debug("duplicate sale event", zap.String("order", ev.OrderNumber), zap.Int64("seq", ev.Seq))
		return nil, nil
	}
	a.m.SaleEventsConsumed.WithLabelValues("applied").Inc()
	for _, o := range outs {
		a.log.Info("sales total",
			zap.String("key", o.Key),
			zap.Int64("amount_cents", o.AmountCents),
			zap.Int64("quantity", o.Quantity),
			zap.Int64("sales", o.Sales))
	}
	return outs, nil
}

// consumeFile feeds every line of a sale event JSONL file through handle.
func (a *aggregator) consumeFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if _, err := a.handle(sc.Bytes()); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("scan input: %w", err)
	}
	return n, nil
}
