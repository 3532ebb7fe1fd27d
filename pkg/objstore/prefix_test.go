package objstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

func TestPrefixedStore_RoundTrip(t *testing.T) {
	inner := NewInMemory()
	s := NewPrefixedStore(inner, opath.MustParse("tenant/a"))
	ctx := context.Background()
	loc := opath.MustParse("docs/readme.md")

	_, err := s.Put(ctx, loc, []byte("content"), PutOptions{})
	require.NoError(t, err)

	// the inner store sees the full key
	_, err = inner.Head(ctx, opath.MustParse("tenant/a/docs/readme.md"))
	require.NoError(t, err)

	// the decorated store answers in caller coordinates
	meta, err := s.Head(ctx, loc)
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.md", meta.Location.String())

	got, err := s.Get(ctx, loc, GetOptions{})
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)
}

func TestPrefixedStore_ListStripsPrefix(t *testing.T) {
	inner := NewInMemory()
	s := NewPrefixedStore(inner, opath.MustParse("p"))
	ctx := context.Background()

	for _, key := range []string{"x/1", "x/2", "y/1"} {
		_, err := s.Put(ctx, opath.MustParse(key), []byte("v"), PutOptions{})
		require.NoError(t, err)
	}

	stream := s.List(ctx, opath.MustParse("x"))
	var keys []string
	for {
		meta, err := stream.Next(ctx)
		if err != nil {
			break
		}
		keys = append(keys, meta.Location.String())
	}
	assert.Equal(t, []string{"x/1", "x/2"}, keys)

	res, err := s.ListWithDelimiter(ctx, opath.Path{})
	require.NoError(t, err)
	var prefixes []string
	for _, p := range res.CommonPrefixes {
		prefixes = append(prefixes, p.String())
	}
	assert.ElementsMatch(t, []string{"x", "y"}, prefixes)
}

func TestPrefixedStore_CopyRename(t *testing.T) {
	inner := NewInMemory()
	s := NewPrefixedStore(inner, opath.MustParse("ns"))
	ctx := context.Background()

	_, err := s.Put(ctx, opath.MustParse("a.txt"), []byte("v"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, opath.MustParse("a.txt"), opath.MustParse("b.txt")))
	_, err = inner.Head(ctx, opath.MustParse("ns/b.txt"))
	assert.NoError(t, err)
	_, err = inner.Head(ctx, opath.MustParse("ns/a.txt"))
	assert.True(t, IsNotFound(err))
}

func TestPrefixedStore_ListPaginatedNotSupported(t *testing.T) {
	s := NewPrefixedStore(NewInMemory(), opath.MustParse("ns"))
	_, err := s.ListPaginated(context.Background(), "x", PaginatedListOptions{})
	assert.True(t, IsNotSupported(err))
}

// offsetPagedStub answers paginated listings with start-after semantics over
// a canned, sorted key set.
type offsetPagedStub struct {
	*InMemory
	keys       []string
	lastOffset string
}

func (p *offsetPagedStub) ListPaginated(_ context.Context, prefix string, opts PaginatedListOptions) (PaginatedListResult, error) {
	p.lastOffset = opts.Offset
	var res PaginatedListResult
	for _, key := range p.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if opts.Offset != "" && key <= opts.Offset {
			continue
		}
		res.Result.Objects = append(res.Result.Objects, ObjectMeta{Location: opath.MustParse(key)})
	}
	return res, nil
}

func TestPrefixedStore_ListPaginatedRewritesOffset(t *testing.T) {
	stub := &offsetPagedStub{InMemory: NewInMemory(), keys: []string{"p/x/01", "p/x/09"}}
	s := NewPrefixedStore(stub, opath.MustParse("p"))
	ctx := context.Background()

	metas, err := List(ctx, s, "x/", WithOffset("x/05")).Collect(ctx)
	require.NoError(t, err)

	// the backend sees the offset in its own (prefixed) coordinates
	assert.Equal(t, "p/x/05", stub.lastOffset)
	require.Len(t, metas, 1)
	assert.Equal(t, "x/09", metas[0].Location.String())
}

func TestPaginationCapability(t *testing.T) {
	mem := NewInMemory()

	_, ok := paginationCapability(mem)
	assert.False(t, ok)

	// decorators must not upgrade a non-paginating store
	_, ok = paginationCapability(NewPrefixedStore(mem, opath.MustParse("p")))
	assert.False(t, ok)
	_, ok = paginationCapability(NewInstrumentedStore(mem, "mem"))
	assert.False(t, ok)

	stub := &pagedStub{InMemory: mem}
	_, ok = paginationCapability(stub)
	assert.True(t, ok)
	_, ok = paginationCapability(NewPrefixedStore(stub, opath.MustParse("p")))
	assert.True(t, ok)
	_, ok = paginationCapability(NewInstrumentedStore(stub, "mem"))
	assert.True(t, ok)
}
