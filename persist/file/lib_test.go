package file

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrhy/segment"
	"github.com/jrhy/segment/memory"
)

var ctx = context.Background()

func TestFiles(t *testing.T) {
	p := NewPersistForPath(t.TempDir())

	err := p.Store(ctx, "foo", []byte("hello"))
	require.NoError(t, err)
	loaded, err := p.Load(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), loaded)

	err = p.Store(ctx, "foo", []byte("again"))
	require.NoError(t, err)
	loaded, err = p.Load(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), loaded)

	_, err = p.Load(ctx, "missing")
	assert.ErrorIs(t, err, segment.ErrNotFound)
}

func TestList(t *testing.T) {
	p := NewPersistForPath(t.TempDir())
	for _, name := range []string{"segments/b", "segments/a", "root"} {
		require.NoError(t, p.Store(ctx, name, []byte(name)))
	}
	names, err := p.List(ctx, "segments/")
	require.NoError(t, err)
	assert.Equal(t, []string{"segments/a", "segments/b"}, names)
}

func TestStoreInFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := segment.NewStore(segment.StoreConfig{Persist: NewPersistForPath(dir)})
	require.NoError(t, err)
	w, err := segment.NewWriter(store, segment.WriterConfig{})
	require.NoError(t, err)
	tree := memory.NewNode([]*memory.PropertyState{memory.StringProperty("k", "v")}, nil)
	_, err = w.Commit(ctx, tree)
	require.NoError(t, err)

	reopened, err := segment.NewStore(segment.StoreConfig{Persist: NewPersistForPath(dir)})
	require.NoError(t, err)
	head, err := reopened.Head(ctx)
	require.NoError(t, err)
	n, err := segment.NewReader(reopened).ReadNode(ctx, head.Node)
	require.NoError(t, err)
	equal, err := memory.Equal(ctx, tree, n)
	require.NoError(t, err)
	assert.True(t, equal)
}
