package reader

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"posterm/internal/model"
)

// Terminal is the subset of the card terminal SDK the register uses.
type Terminal interface {
	DiscoverReaders(ctx context.Context) ([]model.ReaderInfo, error)
	ConnectReader(ctx context.Context, r model.ReaderInfo) (model.ReaderInfo, error)
	DisconnectReader(ctx context.Context) error
	// OnUnexpectedDisconnect registers the callback run when a connected
	// reader drops without DisconnectReader being called.
	OnUnexpectedDisconnect(fn func(error))
}

// TokenProvider fetches short-lived connection tokens from the backend.
type TokenProvider interface {
	ConnectionToken(ctx context.Context) (string, error)
}

// RealSession drives a Terminal through
// not_connected -> discovering -> connecting -> connected.
type RealSession struct {
	observable
	term Terminal
	log  *zap.Logger

	mu         sync.Mutex
	discovered []model.ReaderInfo
}

func NewRealSession(term Terminal, log *zap.Logger) *RealSession {
	s := &RealSession{term: term, log: log}
	s.reset()
	term.OnUnexpectedDisconnect(s.handleDrop)
	return s
}

func (s *RealSession) Manual() bool { return false }

// Discovered returns the readers found by the last Discover.
func (s *RealSession) Discovered() []model.ReaderInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ReaderInfo(nil), s.discovered...)
}

func idle(cur Snapshot) error {
	switch cur.Status {
	case model.ReaderDiscovering, model.ReaderConnecting:
		return ErrBusy
	case model.ReaderConnected:
		return ErrAlreadyConnected
	}
	return nil
}

func (s *RealSession) begin(next model.ReaderStatus) error {
	return s.setIf(idle, Snapshot{Status: next})
}

func (s *RealSession) fail(op string, err error) error {
	s.log.Warn("reader: "+op+" failed", zap.Error(err))
	s.set(Snapshot{Status: model.ReaderNotConnected, Err: err.Error()})
	return fmt.Errorf("%s reader: %w", op, err)
}

// Discover searches for readers. It fails with ErrNoReaders when none answer.
func (s *RealSession) Discover(ctx context.Context) ([]model.ReaderInfo, error) {
	if err := s.begin(model.ReaderDiscovering); err != nil {
		return nil, err
	}
	found, err := s.term.DiscoverReaders(ctx)
	if err != nil {
		return nil, s.fail("discover", err)
	}
	s.mu.Lock()
	s.discovered = append([]model.ReaderInfo(nil), found...)
	s.mu.Unlock()
	if len(found) == 0 {
		s.set(Snapshot{Status: model.ReaderNotConnected, Err: MsgNoReaders})
		return nil, ErrNoReaders
	}
	s.log.Info("reader: discovered", zap.Int("readers", len(found)))
	s.set(Snapshot{Status: model.ReaderNotConnected})
	return found, nil
}

// Connect connects to a previously discovered reader by serial number.
func (s *RealSession) Connect(ctx context.Context, serial string) error {
	var target *model.ReaderInfo
	for _, r := range s.Discovered() {
		if r.Serial == serial {
			r := r
			target = &r
			break
		}
	}
	if target == nil {
		return ErrUnknownReader
	}
	if err := s.begin(model.ReaderConnecting); err != nil {
		return err
	}
	connected, err := s.term.ConnectReader(ctx, *target)
	if err != nil {
		return s.fail("connect", err)
	}
	s.log.Info("reader: connected", zap.String("serial", connected.Serial), zap.String("label", connected.Label))
	s.set(Snapshot{Status: model.ReaderConnected, Reader: &connected})
	return nil
}

// Disconnect releases the connected reader. On failure the reader stays
// connected and the error is shown.
func (s *RealSession) Disconnect(ctx context.Context) error {
	cur := s.Snapshot()
	if !cur.Connected() {
		return ErrNotConnected
	}
	if err := s.term.DisconnectReader(ctx); err != nil {
		s.log.Warn("reader: disconnect failed", zap.Error(err))
		cur.Err = err.Error()
		s.set(cur)
		return fmt.Errorf("disconnect reader: %w", err)
	}
	s.set(Snapshot{Status: model.ReaderNotConnected})
	return nil
}

func (s *RealSession) handleDrop(err error) {
	fields := []zap.Field{}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.log.Warn("reader: unexpected disconnect", fields...)
	s.set(Snapshot{Status: model.ReaderNotConnected, Err: MsgUnexpectedDisconnect})
}
