package reader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"posterm/internal/model"
	"posterm/internal/session"
)

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) ConnectionToken(context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

func newReal(t *testing.T, tokens TokenProvider, readers ...model.ReaderInfo) (*RealSession, *SimulatedTerminal) {
	t.Helper()
	term := NewSimulatedTerminal(tokens, readers...)
	return NewRealSession(term, zap.NewNop()), term
}

func TestNewPicksImplementationOnce(t *testing.T) {
	term := NewSimulatedTerminal(&staticTokens{token: "t"})
	assert.False(t, New(func() bool { return true }, term, zap.NewNop()).Manual())
	assert.True(t, New(func() bool { return false }, term, zap.NewNop()).Manual())
	assert.True(t, New(func() bool { return true }, nil, zap.NewNop()).Manual())
}

func TestRealSessionHappyPath(t *testing.T) {
	tokens := &staticTokens{token: "pst_test"}
	s, term := newReal(t, tokens, DefaultSimulatedReaders()...)

	var seen []model.ReaderStatus
	s.Subscribe(func(snap Snapshot) { seen = append(seen, snap.Status) })

	found, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 2)

	require.NoError(t, s.Connect(context.Background(), found[0].Serial))
	snap := s.Snapshot()
	assert.True(t, snap.Connected())
	assert.Equal(t, "SIM-WP3-0001", snap.Reader.Serial)
	assert.Equal(t, 1, tokens.calls)
	_, held := term.Connected()
	assert.True(t, held)

	assert.Equal(t, []model.ReaderStatus{
		model.ReaderDiscovering, model.ReaderNotConnected,
		model.ReaderConnecting, model.ReaderConnected,
	}, seen)

	assert.ErrorIs(t, s.Connect(context.Background(), found[1].Serial), ErrAlreadyConnected)

	require.NoError(t, s.Disconnect(context.Background()))
	assert.Equal(t, model.ReaderNotConnected, s.Snapshot().Status)
	assert.ErrorIs(t, s.Disconnect(context.Background()), ErrNotConnected)
}

func TestRealSessionErrors(t *testing.T) {
	s, _ := newReal(t, &staticTokens{token: "t"})
	_, err := s.Discover(context.Background())
	assert.ErrorIs(t, err, ErrNoReaders)
	assert.Equal(t, MsgNoReaders, s.Snapshot().Err)

	assert.ErrorIs(t, s.Connect(context.Background(), "ghost"), ErrUnknownReader)

	s, _ = newReal(t, &staticTokens{err: errors.New("backend down")}, DefaultSimulatedReaders()...)
	_, err = s.Discover(context.Background())
	require.NoError(t, err)
	err = s.Connect(context.Background(), "SIM-M2-0002")
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, model.ReaderNotConnected, snap.Status)
	assert.Contains(t, snap.Err, "backend down")
}

// gatedTerminal holds every DiscoverReaders call until release is closed.
type gatedTerminal struct {
	inside  atomic.Int32
	release chan struct{}
}

func (g *gatedTerminal) DiscoverReaders(context.Context) ([]model.ReaderInfo, error) {
	g.inside.Add(1)
	<-g.release
	return DefaultSimulatedReaders(), nil
}

func (g *gatedTerminal) ConnectReader(_ context.Context, r model.ReaderInfo) (model.ReaderInfo, error) {
	return r, nil
}

func (g *gatedTerminal) DisconnectReader(context.Context) error { return nil }
func (g *gatedTerminal) OnUnexpectedDisconnect(func(error)) {}

func TestConcurrentDiscoverAdmitsOne(t *testing.T) {
	term := &gatedTerminal{release: make(chan struct{})}
	s := NewRealSession(term, zap.NewNop())

	const n = 20
	var busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Discover(context.Background()); errors.Is(err, ErrBusy) {
				busy.Add(1)
			}
		}()
	}
	require.Eventually(t, func() bool {
		return busy.Load()+term.inside.Load() == n
	}, 2*time.Second, time.Millisecond)
	close(term.release)
	wg.Wait()

	assert.Equal(t, int32(1), term.inside.Load())
	assert.Equal(t, int32(n-1), busy.Load())
	assert.Equal(t, model.ReaderNotConnected, s.Snapshot().Status)
}

func TestUnexpectedDisconnect(t *testing.T) {
	s, term := newReal(t, &staticTokens{token: "t"}, DefaultSimulatedReaders()...)
	_, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background(), "SIM-WP3-0001"))

	term.Drop(errors.New("battery"))
	snap := s.Snapshot()
	assert.Equal(t, model.ReaderNotConnected, snap.Status)
	assert.Nil(t, snap.Reader)
	assert.Equal(t, MsgUnexpectedDisconnect, snap.Err)
}

func TestMirrorNeverTouchesCart(t *testing.T) {
	st := session.NewStore(session.Initial())
	st.Dispatch(session.SetProducts{})
	st.Dispatch(session.AddToCart{Line: model.CartLine{Key: "p::v", Quantity: 2, UnitPriceCents: 100}})

	m := NewManualSession(zap.NewNop())
	Mirror(m, st)
	assert.Equal(t, model.ReaderNotConnected, st.State().Reader.Status)

	m.ConfirmConnected()
	s := st.State()
	assert.True(t, s.ReaderConnected())
	require.NotNil(t, s.Reader.Reader)
	assert.True(t, s.Reader.Reader.Manual)
	assert.Len(t, s.Lines, 1)

	m.MarkDisconnected()
	assert.False(t, st.State().ReaderConnected())
	assert.Len(t, st.State().Lines, 1)
}
