package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"posterm/internal/model"
)

// SimulatedTerminal is a Terminal without hardware. Connecting fetches a
// connection token the way the SDK does.
type SimulatedTerminal struct {
	mu        sync.Mutex
	readers   []model.ReaderInfo
	tokens    TokenProvider
	connected *model.ReaderInfo
	onDrop    func(error)

	// FailConnect, when set, is returned by the next ConnectReader.
	FailConnect error
}

func NewSimulatedTerminal(tokens TokenProvider, readers ...model.ReaderInfo) *SimulatedTerminal {
	return &SimulatedTerminal{tokens: tokens, readers: readers}
}

// DefaultSimulatedReaders is the reader set the console offers in development.
func DefaultSimulatedReaders() []model.ReaderInfo {
	return []model.ReaderInfo{
		{Serial: "SIM-WP3-0001", Label: "Simulated WisePad 3", FirmwareVersion: "2.1.0", BatteryLevel: 0.82},
		{Serial: "SIM-M2-0002", Label: "Simulated M2", FirmwareVersion: "1.4.3", BatteryLevel: 0.35},
	}
}

func (t *SimulatedTerminal) DiscoverReaders(ctx context.Context) ([]model.ReaderInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.ReaderInfo(nil), t.readers...), nil
}

func (t *SimulatedTerminal) ConnectReader(ctx context.Context, r model.ReaderInfo) (model.ReaderInfo, error) {
	t.mu.Lock()
	fail := t.FailConnect
	t.FailConnect = nil
	t.mu.Unlock()
	if fail != nil {
		return model.ReaderInfo{}, fail
	}

	token, err := t.tokens.ConnectionToken(ctx)
	if err != nil {
		return model.ReaderInfo{}, fmt.Errorf("fetch connection token: %w", err)
	}
	if token == "" {
		return model.ReaderInfo{}, errors.New("empty connection token")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = &r
	return r, nil
}

func (t *SimulatedTerminal) DisconnectReader(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = nil
	return nil
}

func (t *SimulatedTerminal) OnUnexpectedDisconnect(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDrop = fn
}

// Drop simulates the reader going away (battery, range).
func (t *SimulatedTerminal) Drop(reason error) {
	t.mu.Lock()
	was := t.connected != nil
	t.connected = nil
	fn := t.onDrop
	t.mu.Unlock()
	if was && fn != nil {
		fn(reason)
	}
}

// Connected returns the reader currently held, if any.
func (t *SimulatedTerminal) Connected() (model.ReaderInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected == nil {
		return model.ReaderInfo{}, false
	}
	return *t.connected, true
}
