package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"posterm/internal/config"
	"posterm/internal/metrics"
	"posterm/internal/sales"
	"posterm/internal/state"
)

// Config holds CLI flags for the sales aggregator.
type Config struct {
	config.Config
	Input     string // kafka|file
	InputFile string
}

func main() {
	cfg, err := readFlags()
	if err != nil {
		log.Fatalf("salesagg: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("salesagg: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if err := run(cfg, logger); err != nil {
		logger.Fatal("salesagg failed", zap.Error(err))
	}
}

func readFlags() (Config, error) {
	path := flag.String("config", os.Getenv("POS_CONFIG"), "YAML config file")
	bootstrap := flag.String("kafka-bootstrap", "", "kafka bootstrap servers")
	groupID := flag.String("group-id", "", "consumer group id")
	topic := flag.String("topic", "", "sale events topic")
	outTopic := flag.String("output-topic", "", "topic for aggregated totals")
	txID := flag.String("output-tx-id", "", "transactional id for totals (exactly-once when set)")
	backend := flag.String("state-backend", "", "state backend: memory|pebble|badger")
	stateDir := flag.String("state-dir", "", "state directory")
	window := flag.Int("window", 0, "aggregation window seconds")
	metricsAddr := flag.String("http", "", "listen address for /metrics, /healthz and /totals")
	input := flag.String("input", "kafka", "sale event source: kafka|file")
	inputFile := flag.String("input-file", "./data/backend/sales.jsonl", "sale events JSONL for -input file")
	flag.Parse()

	c, err := config.Load(*path)
	if err != nil {
		return Config{}, err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Kafka.Bootstrap, *bootstrap)
	set(&c.Kafka.GroupID, *groupID)
	set(&c.Kafka.SalesTopic, *topic)
	set(&c.Kafka.OutputTopic, *outTopic)
	set(&c.Aggregator.OutputTxID, *txID)
	set(&c.Aggregator.StateBackend, *backend)
	set(&c.Aggregator.StateDir, *stateDir)
	set(&c.Aggregator.MetricsAddr, *metricsAddr)
	if *window > 0 {
		c.Aggregator.WindowSec = *window
	}
	return Config{Config: c, Input: *input, InputFile: *inputFile}, nil
}

// stateSnapshotFile holds the memory backend's totals between runs.
const stateSnapshotFile = "totals.json"

func openStore(ac config.AggregatorConfig) (state.Store, func() error, error) {
	switch ac.StateBackend {
	case "pebble":
		ps, err := state.NewPebbleStore(filepath.Join(ac.StateDir, "pebble"))
		if err != nil {
			return nil, nil, fmt.Errorf("init pebble: %w", err)
		}
		return ps, ps.Close, nil
	case "badger":
		bs, err := state.NewBadgerStore(filepath.Join(ac.StateDir, "badger"))
		if err != nil {
			return nil, nil, fmt.Errorf("init badger: %w", err)
		}
		return bs, bs.Close, nil
	}
	st := state.NewInMemoryStore()
	snap := filepath.Join(ac.StateDir, stateSnapshotFile)
	if err := loadTotals(st, snap); err != nil {
		return nil, nil, err
	}
	return st, func() error { return saveTotals(st, snap) }, nil
}

func loadTotals(st state.Store, path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read totals: %w", err)
	}
	all := map[string]state.Totals{}
	if err := json.Unmarshal(b, &all); err != nil {
		return fmt.Errorf("decode totals %q: %w", path, err)
	}
	return st.LoadAll(all)
}

func saveTotals(st state.Store, path string) error {
	all, err := state.Dump(st)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode totals: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write totals: %w", err)
	}
	return os.Rename(tmp, path)
}

func serveHTTP(addr string, st state.Store, mreg *metrics.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mreg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	mux.HandleFunc("/totals", func(w http.ResponseWriter, _ *http.Request) {
		outs, err := sales.Report(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"totals": outs})
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("http listener stopped", zap.Error(err))
	}
}

func run(cfg Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ac := cfg.Aggregator
	logger.Info("starting sales aggregator",
		zap.String("input", cfg.Input),
		zap.String("state", ac.StateBackend),
		zap.Int("window_sec", ac.WindowSec))

	st, closeStore, err := openStore(ac)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("close state", zap.Error(err))
		}
	}()

	mreg := metrics.NewRegistry()
	if ac.MetricsAddr != "" {
		go serveHTTP(ac.MetricsAddr, st, mreg, logger)
	}

	agg := &aggregator{st: st, windowSec: ac.WindowSec, log: logger, m: mreg}
	if cfg.Input == "file" {
		n, err := agg.consumeFile(cfg.InputFile)
		if err != nil {
			return err
		}
		outs, err := sales.Report(st)
		if err != nil {
			return err
		}
		logger.Info("file aggregated", zap.Int("events", n), zap.Int("keys", len(outs)))
		enc := json.NewEncoder(os.Stdout)
		for _, o := range outs {
			if err := enc.Encode(o); err != nil {
				return err
			}
		}
		return nil
	}
	if cfg.Kafka.Bootstrap == "" {
		return errors.New("-input kafka needs -kafka-bootstrap")
	}
	return consumeKafka(ctx, cfg.Config, agg)
}

// consumeKafka reads sale events with manual commits. With an output
// transactional id, totals and consumer offsets commit in one transaction.
func consumeKafka(ctx context.Context, cfg config.Config, agg *aggregator) error {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  cfg.Kafka.Bootstrap,
		"group.id":           cfg.Kafka.GroupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	defer c.Close()
	if err := c.SubscribeTopics([]string{cfg.Kafka.SalesTopic}, nil); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	var p *ck.Producer
	if txID := cfg.Aggregator.OutputTxID; txID != "" {
		prod, err := ck.NewProducer(&ck.ConfigMap{
			"bootstrap.servers":  cfg.Kafka.Bootstrap,
			"enable.idempotence": true,
			"acks":               "all",
			"transactional.id":   txID,
		})
		if err != nil {
			return fmt.Errorf("producer: %w", err)
		}
		defer prod.Close()
		if err := prod.InitTransactions(ctx); err != nil {
			return fmt.Errorf("init tx: %w", err)
		}
		p = prod
	}
	agg.log.Info("consuming", zap.String("topic", cfg.Kafka.SalesTopic), zap.Bool("transactional", p != nil))

	for ctx.Err() == nil {
		msg, err := c.ReadMessage(time.Second)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) && kerr.Code() == ck.ErrTimedOut {
				continue
			}
			agg.log.Warn("read message", zap.Error(err))
			continue
		}
		outs, err := agg.handle(msg.Value)
		if err != nil {
			return err
		}

		if p == nil {
			if _, err := c.CommitMessage(msg); err != nil {
				agg.log.Warn("commit offset", zap.Error(err))
			}
			continue
		}
		if err := produceTx(ctx, p, c, msg, cfg.Kafka.OutputTopic, outs, agg.m); err != nil {
			agg.log.Warn("transaction aborted", zap.Error(err))
		}
	}
	return nil
}

func produceTx(ctx context.Context, p *ck.Producer, c *ck.Consumer, msg *ck.Message, topic string, outs []sales.Output, m *metrics.Registry) error {
	t0 := time.Now()
	if err := p.BeginTransaction(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	abort := func(err error) error {
		_ = p.AbortTransaction(ctx)
		m.TxAborted.Inc()
		return err
	}
	for _, o := range outs {
		b, err := json.Marshal(o)
		if err != nil {
			return abort(fmt.Errorf("encode output: %w", err))
		}
		if err := p.Produce(&ck.Message{
			TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
			Key:            []byte(o.Key),
			Value:          b,
		}, nil); err != nil {
			return abort(fmt.Errorf("produce: %w", err))
		}
	}
	next := msg.TopicPartition
	next.Offset++
	meta, err := c.GetConsumerGroupMetadata()
	if err != nil {
		return abort(fmt.Errorf("group metadata: %w", err))
	}
	if err := p.SendOffsetsToTransaction(ctx, []ck.TopicPartition{next}, meta); err != nil {
		return abort(fmt.Errorf("send offsets: %w", err))
	}
	if err := p.CommitTransaction(ctx); err != nil {
		return abort(fmt.Errorf("commit tx: %w", err))
	}
	m.TxProduced.Inc()
	m.TxLatencySec.Observe(time.Since(t0).Seconds())
	return nil
}
