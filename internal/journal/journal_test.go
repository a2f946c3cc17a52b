package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"posterm/internal/metrics"
	"posterm/internal/model"
	"posterm/internal/session"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	defer f.Close()
	var got []Entry
	s := bufio.NewScanner(f)
	for s.Scan() {
		var e Entry
		if err := json.Unmarshal(s.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, e)
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return got
}

func TestFileWriter_Append(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, FileName)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	e1 := Entry{Session: "s1", Seq: 1, Type: session.TypeClearCart, TS: 1}
	e2 := Entry{Session: "s1", Seq: 2, Type: session.TypeNewSale, TS: 2}
	if err := w.Append(e1); err != nil {
		t.Fatalf("append1: %v", err)
	}
	if err := w.Append(e2); err != nil {
		t.Fatalf("append2: %v", err)
	}

	got := readEntries(t, filepath.Join(dir, FileName))
	if len(got) != 2 {
		t.Fatalf("want 2 lines, got %d", len(got))
	}
	if got[0].Seq != 1 || got[1].Type != session.TypeNewSale {
		t.Fatalf("mismatch: %+v", got)
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaWriter_KeyedBySession(t *testing.T) {
	fk := &fakeKafkaWriter{}
	kw := NewKafkaWriterWith(fk)
	if err := kw.Append(Entry{Session: "reg-1", Seq: 1, Type: session.TypeClearCart}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(fk.msgs) != 1 || string(fk.msgs[0].Key) != "reg-1" {
		t.Fatalf("unexpected msgs: %+v", fk.msgs)
	}

	fk.fail = true
	if err := kw.Append(Entry{Session: "reg-1", Seq: 2}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiWriter_StopsOnError(t *testing.T) {
	ok := &fakeKafkaWriter{}
	bad := &fakeKafkaWriter{fail: true}
	mw := NewMultiWriter(NewKafkaWriterWith(ok), NewKafkaWriterWith(bad))
	if err := mw.Append(Entry{Session: "s", Seq: 1}); err == nil {
		t.Fatalf("expected error")
	}
	if len(ok.msgs) != 1 {
		t.Fatalf("first writer should have received the entry")
	}
}

func TestRecorder_SequencesActions(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFileWriter(dir, FileName)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	rec := NewRecorder(w, "sess-1", 4, zap.NewNop(), metrics.NewRegistry())
	st := session.NewStore(session.Initial())
	st.Subscribe(rec.Listen)

	st.Dispatch(session.SetProducts{Products: []model.Product{{ID: "p1"}}})
	st.Dispatch(session.AddToCart{Line: model.CartLine{Key: "p1::v1", Quantity: 1, UnitPriceCents: 100}})

	if rec.Seq() != 6 {
		t.Fatalf("want seq 6, got %d", rec.Seq())
	}
	got := readEntries(t, w.Path())
	if len(got) != 2 || got[0].Seq != 5 || got[1].Seq != 6 {
		t.Fatalf("unexpected entries: %+v", got)
	}
	a, err := session.DecodeAction(got[1].Type, got[1].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if add, ok := a.(session.AddToCart); !ok || add.Line.Key != "p1::v1" {
		t.Fatalf("unexpected action: %#v", a)
	}
}

func TestRecorder_FailedAppendKeepsSeq(t *testing.T) {
	rec := NewRecorder(NewKafkaWriterWith(&fakeKafkaWriter{fail: true}), "s", 0, zap.NewNop(), metrics.NewRegistry())
	rec.Listen(session.ClearCart{}, session.Initial())
	if rec.Seq() != 0 {
		t.Fatalf("seq advanced on failed append: %d", rec.Seq())
	}
}
