package favorites

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"posterm/internal/catalog"
	"posterm/internal/model"
)

type brokenStore struct{ loadErr, saveErr error }

func (b brokenStore) LoadSet(string) ([]string, error) { return nil, b.loadErr }
func (b brokenStore) SaveSet(string, []string) error   { return b.saveErr }

func products() []model.Product {
	return []model.Product{{ID: "p1", Title: "Tee"}, {ID: "p2", Title: "Mug"}, {ID: "p3", Title: "Cap"}}
}

func TestToggleRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	f := Open(store, zap.NewNop())

	on, err := f.Toggle("p3")
	require.NoError(t, err)
	assert.True(t, on)
	_, err = f.Toggle("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"p3", "p1"}, f.IDs())

	reopened := Open(store, zap.NewNop())
	assert.True(t, reopened.Has("p1"))
	assert.Equal(t, []string{"p1", "p3"}, ids(reopened.Filter(products())))

	on, err = reopened.Toggle("p3")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, []string{"p1"}, reopened.IDs())
}

func TestOpenToleratesBadStore(t *testing.T) {
	f := Open(brokenStore{loadErr: errors.New("corrupt")}, zap.NewNop())
	assert.Empty(t, f.IDs())
}

func TestToggleRollsBackOnSaveError(t *testing.T) {
	f := Open(brokenStore{saveErr: errors.New("disk full")}, zap.NewNop())
	_, err := f.Toggle("p1")
	require.Error(t, err)
	assert.False(t, f.Has("p1"))
	assert.Empty(t, f.IDs())
}

func TestToggleDoesNotAffectSearch(t *testing.T) {
	f := Open(NewMemoryStore(), zap.NewNop())
	filter := catalog.Filter{Query: "m"}
	before := filter.Apply(products())
	_, err := f.Toggle("p1")
	require.NoError(t, err)
	assert.Equal(t, before, filter.Apply(products()))
}

func TestDiskStores(t *testing.T) {
	pebbleStore, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer pebbleStore.Close()

	badgerStore, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer badgerStore.Close()

	for name, s := range map[string]SetStore{"pebble": pebbleStore, "badger": badgerStore} {
		got, err := s.LoadSet(SetName)
		require.NoError(t, err, name)
		assert.Empty(t, got, name)

		require.NoError(t, s.SaveSet(SetName, []string{"a", "b"}), name)
		got, err = s.LoadSet(SetName)
		require.NoError(t, err, name)
		assert.Equal(t, []string{"a", "b"}, got, name)
	}
}

func ids(ps []model.Product) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}
