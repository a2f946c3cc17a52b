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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"posterm/internal/catalog"
	"posterm/internal/checkout"
	"posterm/internal/config"
	"posterm/internal/favorites"
	"posterm/internal/journal"
	"posterm/internal/manifest"
	"posterm/internal/metrics"
	"posterm/internal/posapi"
	"posterm/internal/reader"
	"posterm/internal/receipt"
	"posterm/internal/restore"
	"posterm/internal/session"
	"posterm/internal/snapshot"
	"posterm/internal/terminal"
)

const journalFile = "journal.jsonl"

type Config struct {
	config.Config
	Resume bool
}

func main() {
	cfg, err := readFlags()
	if err != nil {
		log.Fatalf("pos: %v", err)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("pos: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if err := run(cfg, logger); err != nil {
		logger.Fatal("pos failed", zap.Error(err))
	}
}

func readFlags() (Config, error) {
	path := flag.String("config", os.Getenv("POS_CONFIG"), "YAML config file")
	register := flag.String("register", "", "register id")
	backend := flag.String("backend", "", "backend base URL")
	dataDir := flag.String("data-dir", "", "journal, snapshot and favorites directory")
	favs := flag.String("favorites", "", "favorites store: pebble|badger|memory")
	rd := flag.String("reader", "", "reader: simulated|none")
	bootstrap := flag.String("kafka-bootstrap", "", "kafka bootstrap servers")
	journalSink := flag.String("journal-sink", "", "journal sink: file|kafka|both")
	manifestSink := flag.String("manifest-sink", "", "manifest sink: file|kafka|both")
	metricsAddr := flag.String("metrics", "", "listen address for /metrics, empty disables")
	archiveDir := flag.String("archive-dir", "", "receipt archive directory")
	resume := flag.Bool("resume", true, "resume the last session from snapshot and journal")
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
	set(&c.Register.ID, *register)
	set(&c.Register.BackendURL, *backend)
	set(&c.Register.DataDir, *dataDir)
	set(&c.Register.Favorites, *favs)
	set(&c.Register.Reader, *rd)
	set(&c.Kafka.Bootstrap, *bootstrap)
	set(&c.Register.JournalSink, *journalSink)
	set(&c.Register.ManifestSink, *manifestSink)
	set(&c.Register.MetricsAddr, *metricsAddr)
	set(&c.Archive.Dir, *archiveDir)
	return Config{Config: c, Resume: *resume}, nil
}

func wantsFile(sink string) bool  { return sink == "" || sink == "file" || sink == "both" }
func wantsKafka(sink string) bool { return sink == "kafka" || sink == "both" }

func run(cfg Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := cfg.Register
	logger = logger.With(zap.String("register", rc.ID))
	mreg := metrics.NewRegistry()
	if rc.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", mreg.Handler())
			if err := http.ListenAndServe(rc.MetricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	journalDir := filepath.Join(rc.DataDir, "journal")
	snapDir := filepath.Join(rc.DataDir, "snapshots")
	brokers := journal.Brokers(cfg.Kafka.Bootstrap)
	kafkaOn := len(brokers) > 0

	// Journal writer
	var writers []journal.Writer
	if wantsFile(rc.JournalSink) {
		fw, err := journal.NewFileWriter(journalDir, journalFile)
		if err != nil {
			return fmt.Errorf("init journal file: %w", err)
		}
		writers = append(writers, fw)
	}
	if wantsKafka(rc.JournalSink) && kafkaOn {
		writers = append(writers, journal.NewKafkaWriter(cfg.Kafka.Bootstrap, cfg.Kafka.JournalTopic))
	}
	if len(writers) == 0 {
		return fmt.Errorf("journal sink %q needs -kafka-bootstrap", rc.JournalSink)
	}
	var jw journal.Writer = journal.NewMultiWriter(writers...)

	// Snapshots and manifest
	snap := snapshot.NewFilesystemSnapshotter(snapDir)
	maniFS := manifest.NewFilesystemManifest(snapDir)
	var pubs manifest.MultiPublisher
	if wantsFile(rc.ManifestSink) {
		pubs = append(pubs, maniFS)
	}
	var maniReader manifest.Reader = maniFS
	if wantsKafka(rc.ManifestSink) && kafkaOn {
		pubs = append(pubs, manifest.NewKafkaManifest(brokers, cfg.Kafka.ManifestTopic, cfg.Kafka.ManifestKey))
		if !wantsFile(rc.ManifestSink) {
			maniReader = manifest.NewKafkaReader(brokers, cfg.Kafka.ManifestTopic, cfg.Kafka.ManifestKey)
		}
	}

	// Resume or start fresh
	st := session.Initial()
	sessionID := uuid.NewString()
	var lastSeq int64
	if cfg.Resume {
		var src restore.Source = restore.FileSource{Path: filepath.Join(journalDir, journalFile)}
		if !wantsFile(rc.JournalSink) {
			src = restore.NewKafkaSource(brokers, cfg.Kafka.JournalTopic)
		}
		res, err := restore.NewRestorer(snap, maniReader, logger, mreg).Restore(src)
		switch {
		case errors.Is(err, restore.ErrNothingToRestore):
			logger.Info("no previous session")
		case err != nil:
			return fmt.Errorf("restore: %w", err)
		default:
			st, sessionID, lastSeq = restore.Settle(res.State), res.Session, res.Seq
			logger.Info("session resumed",
				zap.String("session", res.Session),
				zap.Int64("seq", res.Seq),
				zap.Int("applied", res.Applied),
				zap.Bool("from_snapshot", res.FromSnapshot),
				zap.String("view", string(st.View)))
		}
	}

	store := session.NewStore(st)
	rec := journal.NewRecorder(jw, sessionID, lastSeq, logger, mreg)
	store.Subscribe(rec.Listen)
	store.Subscribe(snapshot.NewCheckpointer(snap, pubs, rec, rc.SnapshotEvery, logger, mreg).Listen)

	// Favorites
	var setStore favorites.SetStore
	switch rc.Favorites {
	case "pebble":
		ps, err := favorites.NewPebbleStore(filepath.Join(rc.DataDir, "favorites"))
		if err != nil {
			return fmt.Errorf("init favorites: %w", err)
		}
		defer ps.Close()
		setStore = ps
	case "badger":
		bs, err := favorites.NewBadgerStore(filepath.Join(rc.DataDir, "favorites-badger"))
		if err != nil {
			return fmt.Errorf("init favorites: %w", err)
		}
		defer bs.Close()
		setStore = bs
	default:
		setStore = favorites.NewMemoryStore()
	}

	client := posapi.NewClient(rc.BackendURL, nil)
	client.RegisterID = rc.ID

	// Reader
	term := reader.NewSimulatedTerminal(client, reader.DefaultSimulatedReaders()...)
	rd := reader.New(func() bool { return rc.Reader == "simulated" }, term, logger)
	reader.Mirror(rd, store)

	var archiver receipt.Archiver
	switch {
	case cfg.Archive.S3Bucket != "":
		a, err := receipt.NewS3Archiver(ctx, receipt.S3Config{
			Bucket:   cfg.Archive.S3Bucket,
			Region:   cfg.Archive.S3Region,
			Endpoint: cfg.Archive.S3Endpoint,
			Prefix:   cfg.Archive.S3Prefix,
		})
		if err != nil {
			return fmt.Errorf("init receipt archive: %w", err)
		}
		archiver = a
	case cfg.Archive.Dir != "":
		a, err := receipt.NewDirArchiver(cfg.Archive.Dir)
		if err != nil {
			return fmt.Errorf("init receipt archive: %w", err)
		}
		archiver = a
	}

	console := terminal.New(terminal.Deps{
		Store:     store,
		Flow:      checkout.New(store, client, logger, mreg),
		Card:      checkout.NewCardElement(client),
		Favorites: favorites.Open(setStore, logger),
		Catalog:   client,
		Reader:    rd,
		Archiver:  archiver,
		Log:       logger,
	}, os.Stdout)

	if s := store.State(); len(s.Products) == 0 || s.Error != "" {
		if err := catalog.Load(ctx, store, client, logger); err != nil {
			fmt.Fprintf(os.Stdout, "%s (use reload)\n", store.State().Error)
		}
	}
	logger.Info("register ready", zap.String("session", sessionID), zap.String("backend", rc.BackendURL))
	return console.Run(ctx, os.Stdin)
}
