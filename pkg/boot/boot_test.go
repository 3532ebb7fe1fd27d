package boot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashmap-kz/objstore/config"
	"github.com/hashmap-kz/objstore/pkg/objstore"
	"github.com/hashmap-kz/objstore/pkg/opath"
)

func TestFromURL_Memory(t *testing.T) {
	store, err := FromURL(context.Background(), "memory:///")
	require.NoError(t, err)
	assert.Equal(t, "InMemory", store.String())
}

func TestFromURL_MemoryWithPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := FromURL(ctx, "memory:///tenant/a")
	require.NoError(t, err)

	ps, ok := store.(*objstore.MaybePrefixedStore)
	require.True(t, ok)
	assert.Equal(t, "tenant/a", ps.Prefix().String())

	_, err = store.Put(ctx, opath.MustParse("f.txt"), []byte("x"), objstore.PutOptions{})
	require.NoError(t, err)

	// the inner store carries the full key
	_, err = ps.Inner().Head(ctx, opath.MustParse("tenant/a/f.txt"))
	assert.NoError(t, err)
}

func TestFromURL_File(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := FromURL(ctx, "file://"+dir)
	require.NoError(t, err)

	_, err = store.Put(ctx, opath.MustParse("probe.txt"), []byte("x"), objstore.PutOptions{})
	require.NoError(t, err)
	meta, err := store.Head(ctx, opath.MustParse("probe.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), meta.Size)
}

func TestFromURL_UnknownScheme(t *testing.T) {
	_, err := FromURL(context.Background(), "ftp://host/dir")
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := &config.Config{}

	err := ApplyOverrides(cfg, map[string]string{"STORE_TYPE": "memory"})
	require.NoError(t, err)
	assert.Equal(t, config.StoreTypeMemory, cfg.StoreType)

	err = ApplyOverrides(cfg, map[string]string{"NOT_A_KEY": "x"})
	require.Error(t, err)
	assert.Equal(t, objstore.KindUnknownConfigurationKey, objstore.ErrKind(err))

	var unknown *config.UnknownKeyError
	assert.True(t, errors.As(err, &unknown))
}

func TestApplyPrefix(t *testing.T) {
	mem := objstore.NewInMemory()

	store, err := applyPrefix(mem, "")
	require.NoError(t, err)
	assert.Same(t, objstore.ObjectStore(mem), store)

	store, err = applyPrefix(mem, "data/raw")
	require.NoError(t, err)
	_, ok := store.(*objstore.MaybePrefixedStore)
	assert.True(t, ok)

	_, err = applyPrefix(mem, "../escape")
	assert.Error(t, err)
}
