package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestPublishAndReadLatest(t *testing.T) {
	dir := t.TempDir()
	m := NewFilesystemManifest(dir)
	if _, err := m.ReadLatest(); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("want ErrNoManifest, got %v", err)
	}
	if err := m.PublishLatest(Manifest{SnapshotID: "sid-123", Session: "s1", LastJournalSeq: 42}); err != nil {
		t.Fatalf("PublishLatest error: %v", err)
	}
	got, err := m.ReadLatest()
	if err != nil {
		t.Fatalf("ReadLatest error: %v", err)
	}
	if got.SnapshotID != "sid-123" || got.Session != "s1" || got.LastJournalSeq != 42 || got.CreatedAtEpochSecond == 0 {
		t.Fatalf("unexpected manifest: %+v", got)
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

func TestKafkaManifest_PublishLatest(t *testing.T) {
	fk := &fakeKafkaWriter{}
	km := NewKafkaManifestWith(fk, "pos-manifest-latest")
	if err := km.PublishLatest(Manifest{SnapshotID: "sid-abc", LastJournalSeq: 99}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fk.msgs) != 1 || string(fk.msgs[0].Key) != "pos-manifest-latest" {
		t.Fatalf("unexpected msgs: %+v", fk.msgs)
	}

	fk.fail = true
	if err := km.PublishLatest(Manifest{SnapshotID: "sid-abc"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiPublisher(t *testing.T) {
	dir := t.TempDir()
	fk := &fakeKafkaWriter{}
	mp := MultiPublisher{NewFilesystemManifest(dir), NewKafkaManifestWith(fk, "k")}
	if err := mp.PublishLatest(Manifest{SnapshotID: "sid"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fk.msgs) != 1 {
		t.Fatalf("kafka not written")
	}
	if _, err := NewFilesystemManifest(dir).ReadLatest(); err != nil {
		t.Fatalf("file not written: %v", err)
	}
}

type fakeKafkaReader struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeKafkaReader) Close() error {
	f.closed = true
	return nil
}

func record(t *testing.T, key string, m Manifest) kafka.Message {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte(key), Value: b}
}

func TestKafkaReader_KeepsLastForKey(t *testing.T) {
	fr := &fakeKafkaReader{msgs: []kafka.Message{
		record(t, "k", Manifest{SnapshotID: "one", LastJournalSeq: 1}),
		record(t, "other", Manifest{SnapshotID: "nope"}),
		record(t, "k", Manifest{SnapshotID: "two", LastJournalSeq: 7}),
	}}
	got, err := NewKafkaReaderWith(fr, "k", 50*time.Millisecond).ReadLatest()
	if err != nil {
		t.Fatalf("ReadLatest: %v", err)
	}
	if got.SnapshotID != "two" || got.LastJournalSeq != 7 {
		t.Fatalf("unexpected manifest: %+v", got)
	}
	if !fr.closed {
		t.Fatalf("reader not closed")
	}

	_, err = NewKafkaReaderWith(&fakeKafkaReader{}, "k", 10*time.Millisecond).ReadLatest()
	if !errors.Is(err, ErrNoManifest) {
		t.Fatalf("want ErrNoManifest, got %v", err)
	}
}
