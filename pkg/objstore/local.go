package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashmap-kz/objstore/pkg/fsync"
	"github.com/hashmap-kz/objstore/pkg/opath"
)

// tmpFilePrefix marks in-progress writes and staged multipart data; listings
// skip these names.
const tmpFilePrefix = ".objstore-tmp-"

// LocalFS implements ObjectStore on a directory of the local filesystem.
// Writes go through a temp file in the destination directory followed by a
// rename, so no partial object is ever visible under its final name.
//
// ETags are derived from mtime and size, so conditional operations hold only
// against modifications made through this process (or any writer that bumps
// mtime). Delete of a missing key returns KindNotFound, matching the
// underlying filesystem behavior.
type LocalFS struct {
	root         string
	fsyncOnWrite bool
	tmpSeq       atomic.Uint64
}

// LocalFSOpts configures NewLocalFS.
type LocalFSOpts struct {
	// Root is created if missing.
	Root string
	// FsyncOnWrite syncs file contents before the final rename.
	FsyncOnWrite bool
}

var _ ObjectStore = &LocalFS{}

// NewLocalFS creates a store rooted at opts.Root.
func NewLocalFS(opts LocalFSOpts) (*LocalFS, error) {
	abs, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", opts.Root, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create root %q: %w", abs, err)
	}
	return &LocalFS{root: abs, fsyncOnWrite: opts.FsyncOnWrite}, nil
}

func (s *LocalFS) String() string {
	return fmt.Sprintf("LocalFileSystem(%s)", s.root)
}

func (s *LocalFS) fullPath(location opath.Path) string {
	return filepath.Join(s.root, filepath.FromSlash(location.String()))
}

func (s *LocalFS) relPath(full string) (opath.Path, error) {
	rel, err := filepath.Rel(s.root, full)
	if err != nil {
		return opath.Path{}, err
	}
	return opath.FromRaw(filepath.ToSlash(rel)), nil
}

func etagFromInfo(info os.FileInfo) string {
	return strconv.FormatInt(info.ModTime().UnixNano(), 16) + "-" + strconv.FormatInt(info.Size(), 16)
}

func (s *LocalFS) statMeta(location opath.Path) (ObjectMeta, error) {
	info, err := os.Stat(s.fullPath(location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ObjectMeta{}, notFoundErr(s.String(), location, err)
		}
		return ObjectMeta{}, genericErr(s.String(), location, err)
	}
	if !info.Mode().IsRegular() {
		return ObjectMeta{}, notFoundErr(s.String(), location, fmt.Errorf("not a regular file"))
	}
	return ObjectMeta{
		Location:     location,
		LastModified: info.ModTime().UTC(),
		Size:         info.Size(),
		ETag:         etagFromInfo(info),
	}, nil
}

// writeTemp writes payload to a hidden temp file next to the destination and
// returns its path.
func (s *LocalFS) writeTemp(dir string, payload []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	name := filepath.Join(dir, tmpFilePrefix+strconv.FormatUint(s.tmpSeq.Add(1), 10))
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", err
	}
	if s.fsyncOnWrite {
		if err := fsync.Fsync(f); err != nil {
			_ = f.Close()
			_ = os.Remove(name)
			return "", err
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

func (s *LocalFS) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, &Error{Kind: KindJoin, Store: s.String(), Err: err}
	}
	full := s.fullPath(location)

	if opts.Mode == ModeUpdate {
		meta, err := s.statMeta(location)
		if err != nil {
			return PutResult{}, err
		}
		if !versionMatches(opts.Update, meta.ETag, "") {
			return PutResult{}, preconditionErr(s.String(), location, fmt.Errorf("etag %q no longer current", opts.Update.ETag))
		}
	}

	tmp, err := s.writeTemp(filepath.Dir(full), payload)
	if err != nil {
		return PutResult{}, genericErr(s.String(), location, err)
	}

	if opts.Mode == ModeCreate {
		// Hard link keeps the create atomic: it fails if the name exists.
		if err := os.Link(tmp, full); err != nil {
			_ = os.Remove(tmp)
			if errors.Is(err, fs.ErrExist) {
				return PutResult{}, alreadyExistsErr(s.String(), location, err)
			}
			return PutResult{}, genericErr(s.String(), location, err)
		}
		_ = os.Remove(tmp)
	} else {
		if err := os.Rename(tmp, full); err != nil {
			_ = os.Remove(tmp)
			return PutResult{}, genericErr(s.String(), location, err)
		}
	}
	if s.fsyncOnWrite {
		if err := fsync.FsyncDir(filepath.Dir(full)); err != nil {
			return PutResult{}, genericErr(s.String(), location, err)
		}
	}

	info, err := os.Stat(full)
	if err != nil {
		return PutResult{}, genericErr(s.String(), location, err)
	}
	return PutResult{ETag: etagFromInfo(info)}, nil
}

func (s *LocalFS) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	meta, err := s.statMeta(location)
	if err != nil {
		return nil, err
	}
	if opts.Version != "" {
		return nil, notSupportedErr(s.String(), "get by explicit version")
	}
	if err := evalGetConditions(s.String(), meta, opts); err != nil {
		return nil, err
	}

	rng := Range{Start: 0, End: meta.Size}
	if opts.Range != nil {
		if rng, err = clampRange(s.String(), meta, *opts.Range); err != nil {
			return nil, err
		}
	}

	if opts.Head {
		return &GetResult{Meta: meta, Range: rng, Body: emptyBody(), store: s.String()}, nil
	}

	f, err := os.Open(s.fullPath(location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFoundErr(s.String(), location, err)
		}
		return nil, genericErr(s.String(), location, err)
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, genericErr(s.String(), location, err)
	}
	return &GetResult{
		Meta:  meta,
		Range: rng,
		Body:  newLimitedFileReader(f, rng.Len()),
		store: s.String(),
	}, nil
}

// limitedFileReader bounds a file read to a range and closes the file.
type limitedFileReader struct {
	io.Reader
	f *os.File
}

func newLimitedFileReader(f *os.File, n int64) io.ReadCloser {
	return &limitedFileReader{Reader: io.LimitReader(f, n), f: f}
}

func (r *limitedFileReader) Close() error { return r.f.Close() }

func (s *LocalFS) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	res, err := s.Get(ctx, location, GetOptions{Range: &rng})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (s *LocalFS) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	return getRangesCommon(ctx, s, location, ranges)
}

func (s *LocalFS) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	return s.statMeta(location)
}

func (s *LocalFS) Delete(ctx context.Context, location opath.Path) error {
	err := os.Remove(s.fullPath(location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFoundErr(s.String(), location, err)
		}
		return genericErr(s.String(), location, err)
	}
	return nil
}

// walk materializes the flat listing under prefix in lexicographic order.
// Temp files and dangling symlinks are skipped.
func (s *LocalFS) walk(prefix opath.Path) ([]ObjectMeta, error) {
	rootDir := s.fullPath(prefix)
	var metas []ObjectMeta

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), tmpFilePrefix) {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), tmpFilePrefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			// Follow the link; skip it when the target is gone.
			if info, err = os.Stat(path); err != nil {
				return nil
			}
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := s.relPath(path)
		if err != nil {
			return err
		}
		metas = append(metas, ObjectMeta{
			Location:     rel,
			LastModified: info.ModTime().UTC(),
			Size:         info.Size(),
			ETag:         etagFromInfo(info),
		})
		return nil
	})
	if err != nil {
		return nil, genericErr(s.String(), prefix, err)
	}
	sort.Slice(metas, func(i, j int) bool {
		return opath.Compare(metas[i].Location, metas[j].Location) < 0
	})
	return metas, nil
}

func (s *LocalFS) List(ctx context.Context, prefix opath.Path) MetaStream {
	metas, err := s.walk(prefix)
	if err != nil {
		return &errMetaStream{err: err}
	}
	return newSliceMetaStream(metas)
}

func (s *LocalFS) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	metas, err := s.walk(prefix)
	if err != nil {
		return &errMetaStream{err: err}
	}
	kept := metas[:0]
	for _, meta := range metas {
		if meta.Location.String() > offset.String() {
			kept = append(kept, meta)
		}
	}
	return newSliceMetaStream(kept)
}

func (s *LocalFS) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	metas, err := s.walk(prefix)
	if err != nil {
		return ListResult{}, err
	}
	return groupByDelimiter(prefix, metas), nil
}

func (s *LocalFS) Copy(ctx context.Context, from, to opath.Path) error {
	return s.copyFile(from, to, true)
}

func (s *LocalFS) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.copyFile(from, to, false)
}

func (s *LocalFS) copyFile(from, to opath.Path, overwrite bool) error {
	src, err := os.Open(s.fullPath(from))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFoundErr(s.String(), from, err)
		}
		return genericErr(s.String(), from, err)
	}
	defer src.Close()

	payload, err := io.ReadAll(src)
	if err != nil {
		return genericErr(s.String(), from, err)
	}

	dst := s.fullPath(to)
	tmp, err := s.writeTemp(filepath.Dir(dst), payload)
	if err != nil {
		return genericErr(s.String(), to, err)
	}
	if overwrite {
		if err := os.Rename(tmp, dst); err != nil {
			_ = os.Remove(tmp)
			return genericErr(s.String(), to, err)
		}
		return nil
	}
	if err := os.Link(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		if errors.Is(err, fs.ErrExist) {
			return alreadyExistsErr(s.String(), to, err)
		}
		return genericErr(s.String(), to, err)
	}
	_ = os.Remove(tmp)
	return nil
}

func (s *LocalFS) Rename(ctx context.Context, from, to opath.Path) error {
	dst := s.fullPath(to)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return genericErr(s.String(), to, err)
	}
	if err := os.Rename(s.fullPath(from), dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFoundErr(s.String(), from, err)
		}
		return genericErr(s.String(), from, err)
	}
	return nil
}

func (s *LocalFS) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	src, dst := s.fullPath(from), s.fullPath(to)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return genericErr(s.String(), to, err)
	}
	// Link-then-remove keeps the no-overwrite check atomic.
	if err := os.Link(src, dst); err != nil {
		switch {
		case errors.Is(err, fs.ErrExist):
			return alreadyExistsErr(s.String(), to, err)
		case errors.Is(err, fs.ErrNotExist):
			return notFoundErr(s.String(), from, err)
		default:
			return genericErr(s.String(), from, err)
		}
	}
	if err := os.Remove(src); err != nil {
		return genericErr(s.String(), from, err)
	}
	return nil
}

// localUpload stages parts as temp files and concatenates them in index
// order on Complete.
type localUpload struct {
	store    *LocalFS
	location opath.Path
	dir      string

	mu    sync.Mutex
	parts map[int]string
	done  bool
}

func (s *LocalFS) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	dir := filepath.Join(filepath.Dir(s.fullPath(location)), tmpFilePrefix+"mp-"+strconv.FormatUint(s.tmpSeq.Add(1), 10))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, genericErr(s.String(), location, err)
	}
	return &localUpload{
		store:    s,
		location: location,
		dir:      dir,
		parts:    make(map[int]string),
	}, nil
}

func (u *localUpload) UploadPart(ctx context.Context, idx int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindJoin, Store: u.store.String(), Err: err}
	}
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return &Error{Kind: KindAlreadyConsumed, Store: u.store.String(), Path: u.location.String(), Err: fmt.Errorf("upload already completed or aborted")}
	}
	u.mu.Unlock()

	name := filepath.Join(u.dir, "part."+strconv.Itoa(idx))
	if err := os.WriteFile(name, data, 0o640); err != nil {
		return genericErr(u.store.String(), u.location, err)
	}
	u.mu.Lock()
	u.parts[idx] = name
	u.mu.Unlock()
	return nil
}

func (u *localUpload) Complete(ctx context.Context) (PutResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return PutResult{}, &Error{Kind: KindAlreadyConsumed, Store: u.store.String(), Path: u.location.String(), Err: fmt.Errorf("upload already completed or aborted")}
	}
	u.done = true
	defer os.RemoveAll(u.dir)

	idxs := make([]int, 0, len(u.parts))
	for i := range u.parts {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)

	var assembled []byte
	for _, i := range idxs {
		data, err := os.ReadFile(u.parts[i])
		if err != nil {
			return PutResult{}, genericErr(u.store.String(), u.location, err)
		}
		assembled = append(assembled, data...)
	}
	return u.store.Put(ctx, u.location, assembled, PutOptions{})
}

func (u *localUpload) Abort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.done = true
	if err := os.RemoveAll(u.dir); err != nil {
		return genericErr(u.store.String(), u.location, err)
	}
	return nil
}
