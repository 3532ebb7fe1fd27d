package objstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

func newLocalStore(t *testing.T) *LocalFS {
	t.Helper()
	s, err := NewLocalFS(LocalFSOpts{Root: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestLocalFS_PutAndGet(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := opath.MustParse("test/obj/put.txt")

	res, err := s.Put(ctx, loc, []byte("hello, objstore!"), PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	got, err := s.Get(ctx, loc, GetOptions{})
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello, objstore!"), data)
}

func TestLocalFS_PutModeCreate(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := opath.MustParse("create.txt")

	_, err := s.Put(ctx, loc, []byte("first"), PutOptions{Mode: ModeCreate})
	require.NoError(t, err)

	_, err = s.Put(ctx, loc, []byte("second"), PutOptions{Mode: ModeCreate})
	assert.True(t, IsAlreadyExists(err))
}

func TestLocalFS_PutModeUpdate(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := opath.MustParse("update.txt")

	res, err := s.Put(ctx, loc, []byte("v1"), PutOptions{})
	require.NoError(t, err)

	_, err = s.Put(ctx, loc, []byte("v2"), PutOptions{
		Mode:   ModeUpdate,
		Update: UpdateVersion{ETag: res.ETag},
	})
	require.NoError(t, err)

	// the old etag is stale now
	_, err = s.Put(ctx, loc, []byte("v3"), PutOptions{
		Mode:   ModeUpdate,
		Update: UpdateVersion{ETag: res.ETag},
	})
	assert.True(t, IsPrecondition(err))
}

func TestLocalFS_GetRange(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := opath.MustParse("range.txt")

	_, err := s.Put(ctx, loc, []byte("0123456789"), PutOptions{})
	require.NoError(t, err)

	data, err := s.GetRange(ctx, loc, Range{Start: 3, End: 7})
	require.NoError(t, err)
	assert.Equal(t, []byte("3456"), data)
}

func TestLocalFS_DeleteMissing(t *testing.T) {
	s := newLocalStore(t)
	err := s.Delete(context.Background(), opath.MustParse("gone.txt"))
	assert.True(t, IsNotFound(err))
}

func TestLocalFS_ListSkipsTempFiles(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, opath.MustParse("dir/real.txt"), []byte("x"), PutOptions{})
	require.NoError(t, err)

	// simulate a leftover in-progress write
	stray := filepath.Join(s.root, "dir", tmpFilePrefix+"999")
	require.NoError(t, os.WriteFile(stray, []byte("junk"), 0o640))

	metas, err := List(ctx, s, "dir/").Collect(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "dir/real.txt", metas[0].Location.String())
}

func TestLocalFS_ListWithDelimiter(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	for _, key := range []string{"a/1.txt", "a/b/2.txt", "top.txt"} {
		_, err := s.Put(ctx, opath.MustParse(key), []byte("x"), PutOptions{})
		require.NoError(t, err)
	}

	res, err := s.ListWithDelimiter(ctx, opath.Path{})
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "top.txt", res.Objects[0].Location.String())
	require.Len(t, res.CommonPrefixes, 1)
	assert.Equal(t, "a", res.CommonPrefixes[0].String())
}

func TestLocalFS_RenameIfNotExists(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, opath.MustParse("src.txt"), []byte("v"), PutOptions{})
	require.NoError(t, err)
	_, err = s.Put(ctx, opath.MustParse("dst.txt"), []byte("w"), PutOptions{})
	require.NoError(t, err)

	err = s.RenameIfNotExists(ctx, opath.MustParse("src.txt"), opath.MustParse("dst.txt"))
	assert.True(t, IsAlreadyExists(err))

	// source survives a refused rename
	_, err = s.Head(ctx, opath.MustParse("src.txt"))
	assert.NoError(t, err)

	require.NoError(t, s.RenameIfNotExists(ctx, opath.MustParse("src.txt"), opath.MustParse("fresh.txt")))
	_, err = s.Head(ctx, opath.MustParse("src.txt"))
	assert.True(t, IsNotFound(err))
}

func TestLocalFS_Multipart(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := opath.MustParse("multi/obj.bin")

	up, err := s.Multipart(ctx, loc)
	require.NoError(t, err)
	require.NoError(t, up.UploadPart(ctx, 1, []byte("tail")))
	require.NoError(t, up.UploadPart(ctx, 0, []byte("head-")))

	_, err = up.Complete(ctx)
	require.NoError(t, err)

	got, err := s.Get(ctx, loc, GetOptions{})
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("head-tail"), data)

	// no staging directories survive completion
	metas, err := List(ctx, s, "multi/").Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestLocalFS_MultipartAbort(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	loc := opath.MustParse("multi/aborted.bin")

	up, err := s.Multipart(ctx, loc)
	require.NoError(t, err)
	require.NoError(t, up.UploadPart(ctx, 0, []byte("staged")))
	require.NoError(t, up.Abort(ctx))

	_, err = s.Head(ctx, loc)
	assert.True(t, IsNotFound(err))
}

func TestLocalFS_UploadEquivalence(t *testing.T) {
	s := newLocalStore(t)
	ctx := context.Background()
	payload := randomPayload(t, 8_000)

	_, err := Upload(ctx, s, opath.MustParse("eq/multi.bin"), newChunkReader(payload), WithPartSize(1000))
	require.NoError(t, err)
	_, err = s.Put(ctx, opath.MustParse("eq/single.bin"), payload, PutOptions{})
	require.NoError(t, err)

	a, err := s.GetRange(ctx, opath.MustParse("eq/multi.bin"), Range{Start: 0, End: int64(len(payload))})
	require.NoError(t, err)
	b, err := s.GetRange(ctx, opath.MustParse("eq/single.bin"), Range{Start: 0, End: int64(len(payload))})
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

// chunkReader returns data in small irregular reads, without Seek.
type chunkReader struct {
	data []byte
	pos  int
}

func newChunkReader(data []byte) *chunkReader { return &chunkReader{data: data} }

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := 37
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}
