package journal

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"posterm/internal/metrics"
	"posterm/internal/session"
)

// Recorder turns dispatched actions into journal entries. Register it as the
// first store listener so later listeners see its sequence number.
type Recorder struct {
	w       Writer
	session string
	log     *zap.Logger
	m       *metrics.Registry
	now     func() time.Time

	mu  sync.Mutex
	seq int64
}

// NewRecorder continues session id after lastSeq (0 for a new session).
func NewRecorder(w Writer, id string, lastSeq int64, log *zap.Logger, m *metrics.Registry) *Recorder {
	return &Recorder{w: w, session: id, seq: lastSeq, log: log, m: m, now: time.Now}
}

func (r *Recorder) Session() string { return r.session }

// Seq is the sequence number of the last journaled action.
func (r *Recorder) Seq() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

// Listen implements session.Listener. Journal failures are logged and the
// sale goes on; the register never blocks on its own audit trail.
func (r *Recorder) Listen(a session.Action, _ session.State) {
	r.m.ActionsDispatched.WithLabelValues(a.Type()).Inc()
	typ, payload, err := session.EncodeAction(a)
	if err != nil {
		r.log.Error("journal: encode action", zap.String("type", a.Type()), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e := Entry{Session: r.session, Seq: r.seq + 1, Type: typ, Payload: payload, TS: r.now().UnixMilli()}
	if err := r.w.Append(e); err != nil {
		r.log.Error("journal: append", zap.Int64("seq", e.Seq), zap.String("type", typ), zap.Error(err))
		return
	}
	r.seq = e.Seq
	r.m.JournalAppended.Inc()
}
