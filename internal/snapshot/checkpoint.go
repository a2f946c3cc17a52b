package snapshot

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"posterm/internal/manifest"
	"posterm/internal/metrics"
	"posterm/internal/session"
)

// SeqSource reports the journal position of the last dispatched action.
type SeqSource interface {
	Session() string
	Seq() int64
}

// Checkpointer snapshots the session after milestone actions (catalog
// loaded, sale paid, new sale) and after every Every actions otherwise.
// It must be subscribed after the journal recorder.
type Checkpointer struct {
	snap  Snapshotter
	pub   manifest.Publisher
	seq   SeqSource
	log   *zap.Logger
	m     *metrics.Registry
	now   func() time.Time
	every int

	since int
}

func NewCheckpointer(snap Snapshotter, pub manifest.Publisher, seq SeqSource, every int, log *zap.Logger, m *metrics.Registry) *Checkpointer {
	return &Checkpointer{snap: snap, pub: pub, seq: seq, every: every, log: log, m: m, now: time.Now}
}

func milestone(t string) bool {
	switch t {
	case session.TypeSetProducts, session.TypePaymentSuccess, session.TypeNewSale:
		return true
	}
	return false
}

// Listen implements session.Listener. The store serializes dispatches, so
// since is never touched concurrently.
func (c *Checkpointer) Listen(a session.Action, next session.State) {
	c.since++
	if !milestone(a.Type()) && (c.every <= 0 || c.since < c.every) {
		return
	}
	if err := c.Checkpoint(next); err != nil {
		c.log.Error("snapshot: checkpoint", zap.String("after", a.Type()), zap.Error(err))
	}
}

// Checkpoint writes st as a snapshot and then publishes it as latest.
func (c *Checkpointer) Checkpoint(st session.State) error {
	seq := c.seq.Seq()
	id := fmt.Sprintf("%s-%08d", c.seq.Session(), seq)
	doc := Doc{Format: Format, Session: c.seq.Session(), Seq: seq, TakenAt: c.now().UTC(), State: st}
	if err := c.snap.WriteSnapshot(id, doc); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := c.pub.PublishLatest(manifest.Manifest{
		SnapshotID:           id,
		Session:              doc.Session,
		LastJournalSeq:       seq,
		CreatedAtEpochSecond: doc.TakenAt.Unix(),
	}); err != nil {
		return fmt.Errorf("publish manifest: %w", err)
	}
	c.since = 0
	c.m.SnapshotsWritten.Inc()
	c.log.Debug("snapshot written", zap.String("id", id), zap.Int64("seq", seq))
	return nil
}
