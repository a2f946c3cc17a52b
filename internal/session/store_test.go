package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreDispatchNotifiesInOrder(t *testing.T) {
	st := NewStore(loaded())
	var got []string
	st.Subscribe(func(a Action, next State) { got = append(got, "a:"+a.Type()) })
	st.Subscribe(func(a Action, next State) {
		got = append(got, "b:"+a.Type())
		assert.Equal(t, next, st.State())
	})

	st.Dispatch(AddToCart{Line: teeLine(1)})
	assert.Equal(t, []string{"a:ADD_TO_CART", "b:ADD_TO_CART"}, got)
	require.Len(t, st.State().Lines, 1)
}

func TestStoreConcurrentDispatch(t *testing.T) {
	st := NewStore(loaded())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Dispatch(AddToCart{Line: teeLine(1)})
		}()
	}
	wg.Wait()

	l, ok := st.State().Line(teeLine(1).Key)
	require.True(t, ok)
	assert.Equal(t, int64(50), l.Quantity)
}

func TestStoreListenersSeeReduceOrder(t *testing.T) {
	st := NewStore(loaded())
	var seen []int64
	st.Subscribe(func(_ Action, next State) {
		l, _ := next.Line(teeLine(1).Key)
		seen = append(seen, l.Quantity)
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Dispatch(AddToCart{Line: teeLine(1)})
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	for i, q := range seen {
		assert.Equal(t, int64(i+1), q)
	}
}

func TestStoreResetIsSilent(t *testing.T) {
	st := NewStore(Initial())
	calls := 0
	st.Subscribe(func(Action, State) { calls++ })
	st.Reset(loaded())
	assert.Equal(t, 0, calls)
	assert.False(t, st.State().Loading)
}
