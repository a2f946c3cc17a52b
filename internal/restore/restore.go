// Package restore rebuilds the last register session from its newest
// snapshot plus the journal entries written after it.
package restore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"posterm/internal/journal"
	"posterm/internal/manifest"
	"posterm/internal/metrics"
	"posterm/internal/model"
	"posterm/internal/session"
	"posterm/internal/snapshot"
)

// SupportedFormats is the snapshot format range this build can load.
const SupportedFormats = "^1.0.0"

var (
	ErrIncompatibleSnapshot = errors.New("incompatible snapshot format")
	// ErrNothingToRestore means there is neither a snapshot nor a journal entry.
	ErrNothingToRestore = errors.New("nothing to restore")
)

// Source yields journal entries in append order.
type Source interface {
	Entries(fn func(e journal.Entry) error) error
}

type Result struct {
	Session      string
	Seq          int64
	State        session.State
	SnapshotID   string
	Applied      int
	Skipped      int
	ReplayBytes  int64
	FromSnapshot bool
}

type Restorer struct {
	loader    snapshot.Loader
	manifests manifest.Reader
	formats   *semver.Constraints
	log       *zap.Logger
	m         *metrics.Registry
}

func NewRestorer(loader snapshot.Loader, mr manifest.Reader, log *zap.Logger, m *metrics.Registry) *Restorer {
	c, err := semver.NewConstraint(SupportedFormats)
	if err != nil {
		panic(err)
	}
	return &Restorer{loader: loader, manifests: mr, formats: c, log: log, m: m}
}

// CheckFormat fails with ErrIncompatibleSnapshot unless format is within
// SupportedFormats.
func (r *Restorer) CheckFormat(format string) error {
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrIncompatibleSnapshot, format, err)
	}
	if !r.formats.Check(v) {
		return fmt.Errorf("%w: %s not in %s", ErrIncompatibleSnapshot, v, SupportedFormats)
	}
	return nil
}

// Restore loads the latest snapshot, when one exists, and replays the
// entries of its session that come after it. Without a manifest the last
// session found in the journal is rebuilt from the initial state.
func (r *Restorer) Restore(src Source) (Result, error) {
	start := time.Now()
	res := Result{State: session.Initial()}

	m, err := r.manifests.ReadLatest()
	switch {
	case errors.Is(err, manifest.ErrNoManifest):
		r.log.Info("restore: no manifest, replaying journal from scratch")
	case err != nil:
		return Result{}, fmt.Errorf("read manifest: %w", err)
	default:
		doc, err := r.loader.LoadSnapshot(m.SnapshotID)
		if err != nil {
			return Result{}, fmt.Errorf("load snapshot: %w", err)
		}
		if err := r.CheckFormat(doc.Format); err != nil {
			return Result{}, err
		}
		res.Session, res.Seq, res.State = doc.Session, doc.Seq, doc.State
		res.SnapshotID, res.FromSnapshot = m.SnapshotID, true
		r.m.LastManifestAgeSec.Set(time.Since(time.Unix(m.CreatedAtEpochSecond, 0)).Seconds())
		r.log.Info("restore: loaded snapshot", zap.String("id", m.SnapshotID), zap.Int64("seq", doc.Seq))
	}

	var tail []journal.Entry
	err = src.Entries(func(e journal.Entry) error {
		if res.FromSnapshot {
			if e.Session != res.Session {
				return nil
			}
		} else if e.Session != res.Session {
			// a newer session started; forget the older one
			res.Session = e.Session
			tail = tail[:0]
		}
		tail = append(tail, e)
		res.ReplayBytes += int64(len(e.Payload))
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("read journal: %w", err)
	}
	if !res.FromSnapshot && len(tail) == 0 {
		return Result{}, ErrNothingToRestore
	}

	for _, e := range tail {
		if e.Seq <= res.Seq {
			res.Skipped++
			continue
		}
		a, err := session.DecodeAction(e.Type, e.Payload)
		if err != nil {
			return Result{}, fmt.Errorf("decode seq %d: %w", e.Seq, err)
		}
		res.State = session.Reduce(res.State, a)
		res.Seq = e.Seq
		res.Applied++
	}

	r.m.Applied.Add(float64(res.Applied))
	r.m.Skipped.Add(float64(res.Skipped))
	r.m.ReplayBytes.Add(float64(res.ReplayBytes))
	r.m.TTRSec.Set(time.Since(start).Seconds())
	return res, nil
}

// Settle makes a replayed state safe to resume on a fresh process. Reader
// connections and in-flight charges do not survive a restart.
func Settle(s session.State) session.State {
	s.Reader = session.ReaderState{Status: model.ReaderNotConnected}
	s.IsProcessing = false
	return s
}

// FileSource reads a JSONL journal.
type FileSource struct {
	Path string
}

func (f FileSource) Entries(fn func(e journal.Entry) error) error {
	file, err := os.Open(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		var e journal.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return fmt.Errorf("unmarshal line %d: %w", lineNum, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	return nil
}

// kafkaMessageReader abstracts kafka.Reader for testability.
type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes the journal topic from the beginning until it has
// been idle for Timeout.
type KafkaSource struct {
	open    func() kafkaMessageReader
	Timeout time.Duration
}

func NewKafkaSource(brokers []string, topic string) *KafkaSource {
	return &KafkaSource{
		open: func() kafkaMessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
		Timeout: 20 * time.Second,
	}
}

// NewKafkaSourceWith is only for tests to inject a fake reader.
func NewKafkaSourceWith(r kafkaMessageReader, timeout time.Duration) *KafkaSource {
	return &KafkaSource{open: func() kafkaMessageReader { return r }, Timeout: timeout}
}

func (k *KafkaSource) Entries(fn func(e journal.Entry) error) error {
	rd := k.open()
	defer rd.Close()

	ctx, cancel := context.WithTimeout(context.Background(), k.Timeout)
	defer cancel()

	for {
		m, err := rd.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read kafka: %w", err)
		}
		var e journal.Entry
		if err := json.Unmarshal(m.Value, &e); err != nil {
			return fmt.Errorf("unmarshal entry at offset %d: %w", m.Offset, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
