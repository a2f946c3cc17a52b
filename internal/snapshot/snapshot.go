// Package snapshot persists whole register sessions so recovery only has to
// replay the journal tail.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"posterm/internal/session"
)

// FileName is the snapshot document inside a snapshot directory.
const FileName = "session.json"

// Format is the document version written by this build. Readers accept any
// 1.x document.
const Format = "1.0.0"

// ErrNotFound is returned when the snapshot directory has no document.
var ErrNotFound = errors.New("snapshot not found")

// Doc is one persisted session.
type Doc struct {
	Format  string        `json:"format"`
	Session string        `json:"session"`
	Seq     int64         `json:"seq"`
	TakenAt time.Time     `json:"takenAt"`
	State   session.State `json:"state"`
}

type Snapshotter interface {
	WriteSnapshot(snapshotID string, doc Doc) error
}

type Loader interface {
	LoadSnapshot(snapshotID string) (Doc, error)
}

type FilesystemSnapshotter struct {
	baseDir string
}

func NewFilesystemSnapshotter(baseDir string) *FilesystemSnapshotter {
	return &FilesystemSnapshotter{baseDir: baseDir}
}

func (f *FilesystemSnapshotter) BaseDir() string { return f.baseDir }

func (f *FilesystemSnapshotter) WriteSnapshot(snapshotID string, doc Doc) error {
	dir := filepath.Join(f.baseDir, snapshotID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if doc.Format == "" {
		doc.Format = Format
	}
	b, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	file := filepath.Join(dir, FileName)
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (f *FilesystemSnapshotter) LoadSnapshot(snapshotID string) (Doc, error) {
	path := filepath.Join(f.baseDir, snapshotID, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Doc{}, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if err != nil {
		return Doc{}, fmt.Errorf("read snapshot: %w", err)
	}
	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Doc{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return doc, nil
}
