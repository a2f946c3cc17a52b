package main

import (
	"context"
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"posterm/internal/catalog"
	"posterm/internal/config"
	"posterm/internal/journal"
	"posterm/internal/metrics"
	"posterm/internal/orders"
	"posterm/internal/payments"
	"posterm/internal/sales"
	"posterm/internal/server"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	cfg, err := readFlags()
	if err != nil {
		log.Fatalf("posbackend: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("posbackend: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if err := run(cfg, logger); err != nil {
		logger.Fatal("posbackend failed", zap.Error(err))
	}
}

func readFlags() (config.Config, error) {
	path := flag.String("config", os.Getenv("POS_CONFIG"), "YAML config file")
	addr := flag.String("addr", "", "listen address")
	catalogFile := flag.String("catalog", "", "catalog YAML file")
	driver := flag.String("db-driver", "", "database driver: sqlite|postgres")
	dsn := flag.String("dsn", "", "database DSN")
	redisAddr := flag.String("redis", "", "redis address for idempotency keys, empty keeps them in memory")
	bootstrap := flag.String("kafka-bootstrap", "", "kafka bootstrap servers")
	salesSink := flag.String("sales-sink", "", "sale events: file|kafka|none")
	rateLimit := flag.Float64("rate-limit", 0, "charges per second per client IP")
	burst := flag.Int("burst", 0, "charge burst per client IP")
	flag.Parse()

	c, err := config.Load(*path)
	if err != nil {
		return config.Config{}, err
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Backend.Addr, *addr)
	set(&c.Backend.CatalogFile, *catalogFile)
	set(&c.Backend.DBDriver, *driver)
	set(&c.Backend.DSN, *dsn)
	set(&c.Backend.RedisAddr, *redisAddr)
	set(&c.Kafka.Bootstrap, *bootstrap)
	set(&c.Backend.SalesSink, *salesSink)
	if *rateLimit > 0 {
		c.Backend.RateLimit = *rateLimit
	}
	if *burst > 0 {
		c.Backend.Burst = *burst
	}
	return c, nil
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	bc := cfg.Backend

	products, err := catalog.LoadFile(bc.CatalogFile)
	if err != nil {
		return err
	}

	if bc.DBDriver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(bc.DSN), 0o755); err != nil {
			return fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := orders.Open(bc.DBDriver, bc.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SeedInventory(ctx, products); err != nil {
		return err
	}

	var pub sales.Publisher
	switch bc.SalesSink {
	case "kafka":
		brokers := journal.Brokers(cfg.Kafka.Bootstrap)
		if len(brokers) == 0 {
			return errors.New("sales sink kafka needs -kafka-bootstrap")
		}
		pub = sales.NewKafkaPublisher(brokers, cfg.Kafka.SalesTopic)
	case "file":
		fp, err := sales.NewFilePublisher(bc.SalesDir, "sales.jsonl")
		if err != nil {
			return fmt.Errorf("init sales file: %w", err)
		}
		pub = fp
	}

	var idem server.IdempotencyStore = server.NewMemoryIdempotencyStore(idempotencyTTL)
	if bc.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: bc.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		idem = server.NewRedisIdempotencyStore(rdb, idempotencyTTL)
	}

	mreg := metrics.NewRegistry()
	srv, err := server.New(server.Options{
		Catalog:     catalog.StaticSource(products),
		Orders:      store,
		Payments:    payments.NewSimulator(store, []byte(bc.TokenKey), 0),
		Sales:       pub,
		Idempotency: idem,
		RateLimit:   bc.RateLimit,
		Burst:       bc.Burst,
		Log:         logger,
		Metrics:     mreg,
	})
	if err != nil {
		return err
	}
	go srv.Limiter().Run(ctx)

	hs := &http.Server{Addr: bc.Addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	logger.Info("backend listening",
		zap.String("addr", bc.Addr),
		zap.String("db", bc.DBDriver),
		zap.Int("products", len(products)),
		zap.String("sales_sink", bc.SalesSink))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return hs.Shutdown(shutdownCtx)
}
