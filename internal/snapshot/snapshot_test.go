package snapshot

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"posterm/internal/manifest"
	"posterm/internal/metrics"
	"posterm/internal/model"
	"posterm/internal/session"
)

func TestWriteAndLoadSnapshot(t *testing.T) {
	dir := t.TempDir()
	snap := NewFilesystemSnapshotter(dir)
	st := session.Initial()
	st.Lines = []model.CartLine{{Key: "p1:v1", ProductID: "p1", VariantID: "v1", Title: "Tee", UnitPriceCents: 1500, Quantity: 2}}
	if err := snap.WriteSnapshot("sid", Doc{Session: "s1", Seq: 4, State: st}); err != nil {
		t.Fatalf("WriteSnapshot error: %v", err)
	}
	doc, err := snap.LoadSnapshot("sid")
	if err != nil {
		t.Fatalf("LoadSnapshot error: %v", err)
	}
	if doc.Format != Format || doc.Seq != 4 || doc.Session != "s1" {
		t.Fatalf("unexpected doc header: %+v", doc)
	}
	if got := doc.State.SubtotalCents(); got != 3000 {
		t.Fatalf("subtotal=%d want 3000", got)
	}

	if _, err := snap.LoadSnapshot("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

type fixedSeq struct {
	id  string
	seq int64
}

func (f *fixedSeq) Session() string { return f.id }
func (f *fixedSeq) Seq() int64      { return f.seq }

func TestCheckpointer_MilestonesAndInterval(t *testing.T) {
	dir := t.TempDir()
	snap := NewFilesystemSnapshotter(dir)
	mani := manifest.NewFilesystemManifest(dir)
	seq := &fixedSeq{id: "s1"}
	c := NewCheckpointer(snap, mani, seq, 3, zap.NewNop(), metrics.NewRegistry())

	st := session.Initial()
	seq.seq = 1
	c.Listen(session.SetTab{Tab: session.TabKeypad}, st)
	if _, err := mani.ReadLatest(); !errors.Is(err, manifest.ErrNoManifest) {
		t.Fatalf("no snapshot expected yet, got %v", err)
	}

	seq.seq = 2
	c.Listen(session.SetProducts{}, st)
	m, err := mani.ReadLatest()
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if m.LastJournalSeq != 2 || m.Session != "s1" {
		t.Fatalf("unexpected manifest after milestone: %+v", m)
	}

	for i := int64(3); i <= 5; i++ {
		seq.seq = i
		c.Listen(session.SetTab{Tab: session.TabLibrary}, st)
	}
	m, _ = mani.ReadLatest()
	if m.LastJournalSeq != 5 {
		t.Fatalf("interval snapshot expected at seq 5, got %+v", m)
	}
	if _, err := snap.LoadSnapshot(m.SnapshotID); err != nil {
		t.Fatalf("snapshot of manifest missing: %v", err)
	}
}
