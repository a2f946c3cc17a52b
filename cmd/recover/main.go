package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"posterm/internal/config"
	"posterm/internal/journal"
	"posterm/internal/manifest"
	"posterm/internal/metrics"
	"posterm/internal/receipt"
	"posterm/internal/restore"
	"posterm/internal/snapshot"
)

func main() {
	var (
		path           string
		dataDir        string
		bootstrap      string
		manifestSource string
		journalSource  string
		httpAddr       string
		pollSec        int
	)
	flag.StringVar(&path, "config", os.Getenv("POS_CONFIG"), "YAML config file")
	flag.StringVar(&dataDir, "data-dir", "", "register data directory")
	flag.StringVar(&bootstrap, "kafka-bootstrap", "", "kafka bootstrap servers")
	flag.StringVar(&manifestSource, "manifest-source", "file", "file|kafka")
	flag.StringVar(&journalSource, "journal-source", "file", "file|kafka")
	flag.StringVar(&httpAddr, "http", "", "listen address for /metrics in watch mode")
	flag.IntVar(&pollSec, "poll", 0, "re-run every N seconds; 0 runs once")
	flag.Parse()

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("recover: %v", err)
	}
	if dataDir != "" {
		cfg.Register.DataDir = dataDir
	}
	if bootstrap != "" {
		cfg.Kafka.Bootstrap = bootstrap
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("recover: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	mreg := metrics.NewRegistry()
	if httpAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", mreg.Handler())
			_ = http.ListenAndServe(httpAddr, mux)
		}()
	}

	brokers := journal.Brokers(cfg.Kafka.Bootstrap)
	snapDir := filepath.Join(cfg.Register.DataDir, "snapshots")
	var mr manifest.Reader = manifest.NewFilesystemManifest(snapDir)
	if manifestSource == "kafka" {
		mr = manifest.NewKafkaReader(brokers, cfg.Kafka.ManifestTopic, cfg.Kafka.ManifestKey)
	}
	var src restore.Source = restore.FileSource{Path: filepath.Join(cfg.Register.DataDir, "journal", "journal.jsonl")}
	if journalSource == "kafka" {
		src = restore.NewKafkaSource(brokers, cfg.Kafka.JournalTopic)
	}
	r := restore.NewRestorer(snapshot.NewFilesystemSnapshotter(snapDir), mr, logger, mreg)

	for {
		t0 := time.Now()
		res, err := r.Restore(src)
		switch {
		case errors.Is(err, restore.ErrNothingToRestore):
			logger.Info("nothing to restore")
		case err != nil:
			logger.Error("restore failed", zap.Error(err))
		default:
			logger.Info("recovery cycle",
				zap.Int("applied", res.Applied),
				zap.Int("skipped", res.Skipped),
				zap.Duration("ttr", time.Since(t0)))
			if err := describe(os.Stdout, res); err != nil {
				logger.Error("print", zap.Error(err))
			}
		}
		if pollSec <= 0 {
			if err != nil && !errors.Is(err, restore.ErrNothingToRestore) {
				os.Exit(1)
			}
			return
		}
		time.Sleep(time.Duration(pollSec) * time.Second)
	}
}

// describe prints what the register would show after resuming.
func describe(w io.Writer, res restore.Result) error {
	s := restore.Settle(res.State)
	src := "journal only"
	if res.FromSnapshot {
		src = "snapshot " + res.SnapshotID
	}
	fmt.Fprintf(w, "session %s at seq %d (%s, %d replayed, %d skipped)\n", res.Session, res.Seq, src, res.Applied, res.Skipped)
	fmt.Fprintf(w, "view %s, tab %s, %d products loaded\n", s.View, s.ActiveTab, len(s.Products))
	for _, l := range s.Lines {
		fmt.Fprintf(w, "  %3d x %-40s %10s\n", l.Quantity, l.Label(), receipt.FormatCents(l.TotalCents()))
	}
	fmt.Fprintf(w, "subtotal %s\n", receipt.FormatCents(s.SubtotalCents()))
	if s.Order != nil {
		fmt.Fprintf(w, "order #%s total %s\n", s.Order.OrderNumber, receipt.FormatCents(s.Order.TotalCents))
	}
	if s.PaymentError != "" {
		fmt.Fprintf(w, "last payment error: %s\n", s.PaymentError)
	}
	if rc, err := receipt.FromState(s, time.Now()); err == nil {
		return receipt.Render(w, rc)
	}
	return nil
}
