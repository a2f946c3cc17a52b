// Package reader tracks the card reader connection. Two implementations share
// one observable shape: RealSession drives a terminal SDK, ManualSession
// trusts the cashier.
package reader

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"posterm/internal/model"
	"posterm/internal/session"
)

var (
	ErrBusy             = errors.New("reader operation already in progress")
	ErrAlreadyConnected = errors.New("reader already connected")
	ErrNotConnected     = errors.New("no reader connected")
	ErrUnknownReader    = errors.New("reader was not discovered")
	ErrNoReaders        = errors.New("no readers found")
)

// Messages shown in the reader tab.
const (
	MsgNoReaders            = "No readers found"
	MsgUnexpectedDisconnect = "Reader disconnected unexpectedly"
)

// Snapshot is what the register displays about the reader.
type Snapshot struct {
	Status model.ReaderStatus
	Reader *model.ReaderInfo
	Err    string
}

func (s Snapshot) Connected() bool { return s.Status == model.ReaderConnected }

// Session is the common face of both reader implementations.
type Session interface {
	Snapshot() Snapshot
	Subscribe(func(Snapshot))
	// Manual reports whether connection state is attested by the cashier.
	Manual() bool
}

// Probe reports whether the device can drive a reader through the SDK.
type Probe func() bool

// New picks the implementation once. A nil terminal or a failing probe
// yields a ManualSession.
func New(probe Probe, term Terminal, log *zap.Logger) Session {
	if term != nil && probe != nil && probe() {
		log.Info("reader: sdk available, using terminal session")
		return NewRealSession(term, log)
	}
	log.Info("reader: sdk unavailable, using manual session")
	return NewManualSession(log)
}

// Mirror copies every snapshot of s into the register state.
func Mirror(s Session, d session.Dispatcher) {
	push := func(snap Snapshot) {
		d.Dispatch(session.ReaderChanged{Status: snap.Status, Reader: snap.Reader, Err: snap.Err})
	}
	s.Subscribe(push)
	push(s.Snapshot())
}

type observable struct {
	mu        sync.Mutex
	snap      Snapshot
	listeners []func(Snapshot)
}

func (o *observable) reset() {
	o.snap = Snapshot{Status: model.ReaderNotConnected}
}

func (o *observable) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snap
}

func (o *observable) Subscribe(fn func(Snapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

func (o *observable) set(s Snapshot) {
	_ = o.setIf(nil, s)
}

// setIf moves to s only when check accepts the current snapshot. The check
// and the move happen under one lock.
func (o *observable) setIf(check func(cur Snapshot) error, s Snapshot) error {
	o.mu.Lock()
	if check != nil {
		if err := check(o.snap); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	o.snap = s
	ls := append([]func(Snapshot){}, o.listeners...)
	o.mu.Unlock()
	for _, fn := range ls {
		fn(s)
	}
	return nil
}

// ManualSession is used when the SDK can not reach a reader. The cashier
// confirms the reader is paired through the device's own settings.
type ManualSession struct {
	observable
	log *zap.Logger
}

func NewManualSession(log *zap.Logger) *ManualSession {
	m := &ManualSession{log: log}
	m.reset()
	return m
}

func (m *ManualSession) Manual() bool { return true }

// ConfirmConnected records a cashier-attested connection with a placeholder reader.
func (m *ManualSession) ConfirmConnected() {
	m.log.Info("reader: manually confirmed")
	m.set(Snapshot{
		Status: model.ReaderConnected,
		Reader: &model.ReaderInfo{Serial: "manual", Label: "Manually confirmed reader", Manual: true},
	})
}

func (m *ManualSession) MarkDisconnected() {
	m.log.Info("reader: manually disconnected")
	m.set(Snapshot{Status: model.ReaderNotConnected})
}
