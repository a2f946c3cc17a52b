// Package config resolves settings for every binary: built-in defaults, then
// an optional YAML file, then POS_* environment variables. Command-line flags
// are applied last by each main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Register   RegisterConfig   `yaml:"register"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Backend    BackendConfig    `yaml:"backend"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // json|console
}

type RegisterConfig struct {
	ID            string `yaml:"id"`
	BackendURL    string `yaml:"backend_url"`
	DataDir       string `yaml:"data_dir"`
	Favorites     string `yaml:"favorites"` // pebble|badger|memory
	SnapshotEvery int    `yaml:"snapshot_every"`
	JournalSink   string `yaml:"journal_sink"`  // file|kafka|both
	ManifestSink  string `yaml:"manifest_sink"` // file|kafka|both
	Reader        string `yaml:"reader"`        // simulated|none
	MetricsAddr   string `yaml:"metrics_addr"`
}

type KafkaConfig struct {
	Bootstrap     string `yaml:"bootstrap"`
	JournalTopic  string `yaml:"journal_topic"`
	ManifestTopic string `yaml:"manifest_topic"`
	ManifestKey   string `yaml:"manifest_key"`
	SalesTopic    string `yaml:"sales_topic"`
	OutputTopic   string `yaml:"output_topic"`
	GroupID       string `yaml:"group_id"`
}

type BackendConfig struct {
	Addr        string  `yaml:"addr"`
	CatalogFile string  `yaml:"catalog_file"`
	DBDriver    string  `yaml:"db_driver"` // sqlite|postgres
	DSN         string  `yaml:"dsn"`
	TokenKey    string  `yaml:"token_key"`
	RedisAddr   string  `yaml:"redis_addr"`
	RateLimit   float64 `yaml:"rate_limit"`
	Burst       int     `yaml:"burst"`
	SalesSink   string  `yaml:"sales_sink"` // file|kafka|none
	SalesDir    string  `yaml:"sales_dir"`
}

type ArchiveConfig struct {
	Dir        string `yaml:"dir"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

type AggregatorConfig struct {
	StateBackend string `yaml:"state_backend"` // memory|pebble|badger
	StateDir     string `yaml:"state_dir"`
	WindowSec    int    `yaml:"window_sec"`
	MetricsAddr  string `yaml:"metrics_addr"`
	OutputTxID   string `yaml:"output_tx_id"`
}

// Default returns a configuration that runs everything locally without Kafka.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Register: RegisterConfig{
			ID:            "register-1",
			BackendURL:    "http://localhost:8787",
			DataDir:       "./data/pos",
			Favorites:     "pebble",
			SnapshotEvery: 25,
			JournalSink:   "file",
			ManifestSink:  "file",
			Reader:        "simulated",
		},
		Kafka: KafkaConfig{
			JournalTopic:  "pos.journal",
			ManifestTopic: "pos.snapshots",
			ManifestKey:   "pos-manifest-latest",
			SalesTopic:    "pos.sales",
			OutputTopic:   "pos.sales.totals",
			GroupID:       "salesagg",
		},
		Backend: BackendConfig{
			Addr:        ":8787",
			CatalogFile: "./catalog.yaml",
			DBDriver:    "sqlite",
			DSN:         "./data/backend/pos.db",
			TokenKey:    "dev-only-connection-token-key",
			RateLimit:   5,
			Burst:       10,
			SalesSink:   "file",
			SalesDir:    "./data/backend",
		},
		Aggregator: AggregatorConfig{
			StateBackend: "pebble",
			StateDir:     "./data/salesagg",
			WindowSec:    300,
			MetricsAddr:  ":8081",
		},
	}
}

// Load returns Default overlaid with the YAML file at path (when path is not
// empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"POS_LOG_LEVEL":           &c.Log.Level,
		"POS_LOG_FORMAT":          &c.Log.Format,
		"POS_REGISTER_ID":         &c.Register.ID,
		"POS_BACKEND_URL":         &c.Register.BackendURL,
		"POS_DATA_DIR":            &c.Register.DataDir,
		"POS_FAVORITES":           &c.Register.Favorites,
		"POS_JOURNAL_SINK":        &c.Register.JournalSink,
		"POS_MANIFEST_SINK":       &c.Register.ManifestSink,
		"POS_READER":              &c.Register.Reader,
		"POS_KAFKA_BOOTSTRAP":     &c.Kafka.Bootstrap,
		"POS_BACKEND_ADDR":        &c.Backend.Addr,
		"POS_CATALOG_FILE":        &c.Backend.CatalogFile,
		"POS_DB_DRIVER":           &c.Backend.DBDriver,
		"POS_DATABASE_URL":        &c.Backend.DSN,
		"POS_TOKEN_KEY":           &c.Backend.TokenKey,
		"POS_REDIS_ADDR":          &c.Backend.RedisAddr,
		"POS_SALES_SINK":          &c.Backend.SalesSink,
		"POS_ARCHIVE_DIR":         &c.Archive.Dir,
		"POS_ARCHIVE_S3_BUCKET":   &c.Archive.S3Bucket,
		"POS_ARCHIVE_S3_REGION":   &c.Archive.S3Region,
		"POS_ARCHIVE_S3_ENDPOINT": &c.Archive.S3Endpoint,
		"POS_STATE_BACKEND":       &c.Aggregator.StateBackend,
		"POS_STATE_DIR":           &c.Aggregator.StateDir,
	}
	for k, p := range str {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			*p = v
		}
	}
	ints := map[string]*int{
		"POS_SNAPSHOT_EVERY": &c.Register.SnapshotEvery,
		"POS_BURST":          &c.Backend.Burst,
		"POS_WINDOW_SEC":     &c.Aggregator.WindowSec,
	}
	for k, p := range ints {
		v := strings.TrimSpace(getenv(k))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		*p = n
	}
	if v := strings.TrimSpace(getenv("POS_RATE_LIMIT")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("POS_RATE_LIMIT: %w", err)
		}
		c.Backend.RateLimit = f
	}
	return nil
}
