package objstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

func TestInMemory_PutAndGet(t *testing.T) {
	s := NewInMemory()
	loc := opath.MustParse("test/obj/put.txt")

	res, err := s.Put(context.Background(), loc, []byte("hello, objstore!"), PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	got, err := s.Get(context.Background(), loc, GetOptions{})
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello, objstore!"), data)
	assert.Equal(t, int64(len(data)), got.Meta.Size)
}

func TestInMemory_GetResultConsumedOnce(t *testing.T) {
	s := NewInMemory()
	loc := opath.MustParse("once.txt")
	_, err := s.Put(context.Background(), loc, []byte("x"), PutOptions{})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), loc, GetOptions{})
	require.NoError(t, err)
	_, err = got.Bytes()
	require.NoError(t, err)

	_, err = got.Bytes()
	assert.Equal(t, KindAlreadyConsumed, ErrKind(err))
}

func TestInMemory_GetMissing(t *testing.T) {
	s := NewInMemory()
	_, err := s.Get(context.Background(), opath.MustParse("missing.txt"), GetOptions{})
	assert.True(t, IsNotFound(err))
}

func TestInMemory_PutModeCreate(t *testing.T) {
	s := NewInMemory()
	loc := opath.MustParse("create.txt")

	_, err := s.Put(context.Background(), loc, []byte("first"), PutOptions{Mode: ModeCreate})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), loc, []byte("second"), PutOptions{Mode: ModeCreate})
	assert.True(t, IsAlreadyExists(err))

	data, err := s.GetRange(context.Background(), loc, Range{Start: 0, End: 5})
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestInMemory_PutModeUpdate(t *testing.T) {
	s := NewInMemory()
	loc := opath.MustParse("update.txt")

	first, err := s.Put(context.Background(), loc, []byte("v1"), PutOptions{})
	require.NoError(t, err)

	// stale etag after another write
	_, err = s.Put(context.Background(), loc, []byte("v2"), PutOptions{})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), loc, []byte("v3"), PutOptions{
		Mode:   ModeUpdate,
		Update: UpdateVersion{ETag: first.ETag},
	})
	assert.True(t, IsPrecondition(err))

	// empty update version never matches
	_, err = s.Put(context.Background(), loc, []byte("v3"), PutOptions{Mode: ModeUpdate})
	assert.True(t, IsPrecondition(err))
}

func TestInMemory_GetConditions(t *testing.T) {
	s := NewInMemory()
	loc := opath.MustParse("cond.txt")
	res, err := s.Put(context.Background(), loc, []byte("data"), PutOptions{})
	require.NoError(t, err)

	_, err = s.Get(context.Background(), loc, GetOptions{IfNoneMatch: res.ETag})
	assert.True(t, IsNotModified(err))

	_, err = s.Get(context.Background(), loc, GetOptions{IfMatch: "bogus"})
	assert.True(t, IsPrecondition(err))

	got, err := s.Get(context.Background(), loc, GetOptions{IfMatch: res.ETag})
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), data)
}

func TestInMemory_GetRangeClamped(t *testing.T) {
	s := NewInMemory()
	loc := opath.MustParse("range.txt")
	_, err := s.Put(context.Background(), loc, []byte("0123456789"), PutOptions{})
	require.NoError(t, err)

	data, err := s.GetRange(context.Background(), loc, Range{Start: 5, End: 100})
	require.NoError(t, err)
	assert.Equal(t, []byte("56789"), data)

	_, err = s.GetRange(context.Background(), loc, Range{Start: 20, End: 30})
	assert.Error(t, err)
}

func TestInMemory_GetRanges(t *testing.T) {
	s := NewInMemory()
	loc := opath.MustParse("ranges.txt")
	_, err := s.Put(context.Background(), loc, []byte("0123456789"), PutOptions{})
	require.NoError(t, err)

	chunks, err := s.GetRanges(context.Background(), loc, []Range{
		{Start: 0, End: 2},
		{Start: 8, End: 10},
		{Start: 2, End: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("01"), []byte("89"), []byte("23")}, chunks)
}

func TestInMemory_DeleteMissing(t *testing.T) {
	s := NewInMemory()
	err := s.Delete(context.Background(), opath.MustParse("gone.txt"))
	assert.True(t, IsNotFound(err))
}

func TestInMemory_ListWithDelimiter(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for _, key := range []string{
		"a/file1.txt",
		"a/b/file2.txt",
		"a/b/c/file3.txt",
		"top.txt",
	} {
		_, err := s.Put(ctx, opath.MustParse(key), []byte("x"), PutOptions{})
		require.NoError(t, err)
	}

	res, err := s.ListWithDelimiter(ctx, opath.Path{})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "top.txt", res.Objects[0].Location.String())
	require.Len(t, res.CommonPrefixes, 1)
	assert.Equal(t, "a", res.CommonPrefixes[0].String())

	res, err = s.ListWithDelimiter(ctx, opath.MustParse("a"))
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "a/file1.txt", res.Objects[0].Location.String())
	require.Len(t, res.CommonPrefixes, 1)
	assert.Equal(t, "a/b", res.CommonPrefixes[0].String())
}

func TestInMemory_ListWithOffset(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	for _, key := range []string{"k/a", "k/b", "k/c"} {
		_, err := s.Put(ctx, opath.MustParse(key), []byte("x"), PutOptions{})
		require.NoError(t, err)
	}

	stream := s.ListWithOffset(ctx, opath.MustParse("k"), opath.MustParse("k/a"))
	var keys []string
	for {
		meta, err := stream.Next(ctx)
		if err != nil {
			break
		}
		keys = append(keys, meta.Location.String())
	}
	assert.Equal(t, []string{"k/b", "k/c"}, keys)
}

func TestInMemory_CopyAndRename(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	from := opath.MustParse("src.txt")
	dst := opath.MustParse("dst.txt")

	_, err := s.Put(ctx, from, []byte("payload"), PutOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Copy(ctx, from, dst))
	_, err = s.Head(ctx, from)
	assert.NoError(t, err)

	err = s.CopyIfNotExists(ctx, from, dst)
	assert.True(t, IsAlreadyExists(err))

	other := opath.MustParse("moved.txt")
	require.NoError(t, s.Rename(ctx, from, other))
	_, err = s.Head(ctx, from)
	assert.True(t, IsNotFound(err))
	_, err = s.Head(ctx, other)
	assert.NoError(t, err)
}

func TestInMemory_Multipart(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	loc := opath.MustParse("multi.bin")

	up, err := s.Multipart(ctx, loc)
	require.NoError(t, err)

	// out-of-order part uploads still assemble by index
	require.NoError(t, up.UploadPart(ctx, 1, []byte("world")))
	require.NoError(t, up.UploadPart(ctx, 0, []byte("hello ")))

	_, err = up.Complete(ctx)
	require.NoError(t, err)

	got, err := s.Get(ctx, loc, GetOptions{})
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	_, err = up.Complete(ctx)
	assert.Equal(t, KindAlreadyConsumed, ErrKind(err))
}

func TestInMemory_MultipartAbortedIsConsumed(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	loc := opath.MustParse("aborted.bin")

	up, err := s.Multipart(ctx, loc)
	require.NoError(t, err)
	require.NoError(t, up.UploadPart(ctx, 0, []byte("data")))
	require.NoError(t, up.Abort(ctx))

	err = up.UploadPart(ctx, 1, []byte("late"))
	assert.Equal(t, KindAlreadyConsumed, ErrKind(err))
	_, err = up.Complete(ctx)
	assert.Equal(t, KindAlreadyConsumed, ErrKind(err))

	// nothing materialized
	_, err = s.Head(ctx, loc)
	assert.True(t, IsNotFound(err))
}
