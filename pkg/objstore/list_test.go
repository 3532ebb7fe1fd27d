package objstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

func seedObjects(t *testing.T, s ObjectStore, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		loc := opath.MustParse(fmt.Sprintf("data/obj-%04d", i))
		_, err := s.Put(ctx, loc, []byte("x"), PutOptions{})
		require.NoError(t, err)
	}
}

func TestList_ChunkSizes(t *testing.T) {
	s := NewInMemory()
	seedObjects(t, s, 125)
	ctx := context.Background()

	stream := List(ctx, s, "data/")
	var sizes []int
	total := 0
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			assert.Equal(t, errStreamEnd, err)
			break
		}
		sizes = append(sizes, len(chunk))
		total += len(chunk)
	}
	assert.Equal(t, []int{50, 50, 25}, sizes)
	assert.Equal(t, 125, total)
}

func TestList_Empty(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	stream := List(ctx, s, "nothing/")
	_, err := stream.Next(ctx)
	assert.Equal(t, errStreamEnd, err)

	// exhausted streams stay exhausted
	_, err = stream.Next(ctx)
	assert.Equal(t, errStreamEnd, err)
}

func TestList_Collect(t *testing.T) {
	s := NewInMemory()
	seedObjects(t, s, 7)
	ctx := context.Background()

	metas, err := List(ctx, s, "data/", WithChunkSize(3)).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 7)
	assert.Equal(t, "data/obj-0000", metas[0].Location.String())
}

func TestList_MidSegmentPrefix(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for _, key := range []string{"logs/app-1.txt", "logs/app-2.txt", "logs/db-1.txt"} {
		_, err := s.Put(ctx, opath.MustParse(key), []byte("x"), PutOptions{})
		require.NoError(t, err)
	}

	metas, err := List(ctx, s, "logs/app-").Collect(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "logs/app-1.txt", metas[0].Location.String())
	assert.Equal(t, "logs/app-2.txt", metas[1].Location.String())
}

func TestList_WithOffset(t *testing.T) {
	s := NewInMemory()
	seedObjects(t, s, 10)
	ctx := context.Background()

	metas, err := List(ctx, s, "data/", WithOffset("data/obj-0004")).Collect(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 5)
	assert.Equal(t, "data/obj-0005", metas[0].Location.String())
}

func TestList_InvalidPrefix(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()

	_, err := List(ctx, s, "../escape/").Collect(ctx)
	assert.Equal(t, KindInvalidPath, ErrKind(err))
}

// pagedStub serves canned pages to exercise the paginated list path.
type pagedStub struct {
	*InMemory
	pages     []PaginatedListResult
	calls     int
	lastToken string
	failAt    int
}

func (p *pagedStub) ListPaginated(_ context.Context, _ string, opts PaginatedListOptions) (PaginatedListResult, error) {
	p.lastToken = opts.PageToken
	if p.failAt > 0 && p.calls+1 == p.failAt {
		return PaginatedListResult{}, fmt.Errorf("backend listing failed")
	}
	page := p.pages[p.calls]
	p.calls++
	return page, nil
}

func pageOf(token string, keys ...string) PaginatedListResult {
	var res PaginatedListResult
	for _, key := range keys {
		res.Result.Objects = append(res.Result.Objects, ObjectMeta{Location: opath.MustParse(key)})
	}
	res.PageToken = token
	return res
}

func TestList_PaginatedPath(t *testing.T) {
	stub := &pagedStub{
		InMemory: NewInMemory(),
		pages: []PaginatedListResult{
			pageOf("t1", "a/1", "a/2"),
			pageOf("", "a/3"),
		},
	}
	ctx := context.Background()

	metas, err := List(ctx, stub, "a/", WithChunkSize(2)).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 3)
	assert.Equal(t, 2, stub.calls)
	assert.Equal(t, "t1", stub.lastToken)
}

func TestList_PaginatedPageErrorPropagates(t *testing.T) {
	stub := &pagedStub{
		InMemory: NewInMemory(),
		pages:    []PaginatedListResult{pageOf("t1", "a/1")},
		failAt:   2,
	}
	ctx := context.Background()

	stream := List(ctx, stub, "a/", WithChunkSize(1))
	chunk, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, chunk, 1)

	_, err = stream.Next(ctx)
	require.Error(t, err)
	assert.NotEqual(t, errStreamEnd, err)

	// errors fuse the stream
	_, err = stream.Next(ctx)
	assert.Equal(t, errStreamEnd, err)
}
