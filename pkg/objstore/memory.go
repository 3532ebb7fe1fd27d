package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

// InMemory is a fully in-process ObjectStore, mainly for tests and as the
// reference implementation of the contract semantics. All operations are
// guarded by one mutex; the store is safe for concurrent use.
//
// Delete of a missing key returns KindNotFound.
type InMemory struct {
	mu      sync.RWMutex
	objects map[string]memEntry
	nextTag uint64
}

type memEntry struct {
	data         []byte
	lastModified time.Time
	etag         string
}

var _ ObjectStore = &InMemory{}

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{
		objects: make(map[string]memEntry),
	}
}

func (s *InMemory) String() string { return "InMemory" }

func (s *InMemory) newTagLocked() string {
	s.nextTag++
	return strconv.FormatUint(s.nextTag, 10)
}

func (s *InMemory) makeMeta(location opath.Path, e memEntry) ObjectMeta {
	return ObjectMeta{
		Location:     location,
		LastModified: e.lastModified,
		Size:         int64(len(e.data)),
		ETag:         e.etag,
		Version:      e.etag,
	}
}

func (s *InMemory) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, &Error{Kind: KindJoin, Store: s.String(), Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := location.String()
	cur, exists := s.objects[key]
	switch opts.Mode {
	case ModeCreate:
		if exists {
			return PutResult{}, alreadyExistsErr(s.String(), location, nil)
		}
	case ModeUpdate:
		if !exists {
			return PutResult{}, notFoundErr(s.String(), location, nil)
		}
		if !versionMatches(opts.Update, cur.etag, cur.etag) {
			return PutResult{}, preconditionErr(s.String(), location, fmt.Errorf("object changed since version %q", opts.Update.ETag))
		}
	}

	e := memEntry{
		data:         slices.Clone(payload),
		lastModified: time.Now().UTC(),
		etag:         s.newTagLocked(),
	}
	s.objects[key] = e
	return PutResult{ETag: e.etag, Version: e.etag}, nil
}

func versionMatches(want UpdateVersion, etag, version string) bool {
	if want.ETag != "" && want.ETag != etag {
		return false
	}
	if want.Version != "" && want.Version != version {
		return false
	}
	return want.ETag != "" || want.Version != ""
}

func (s *InMemory) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	s.mu.RLock()
	e, ok := s.objects[location.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, notFoundErr(s.String(), location, nil)
	}
	meta := s.makeMeta(location, e)
	if opts.Version != "" && opts.Version != meta.Version {
		return nil, preconditionErr(s.String(), location, fmt.Errorf("version %q is not current", opts.Version))
	}
	if err := evalGetConditions(s.String(), meta, opts); err != nil {
		return nil, err
	}

	body := e.data
	rng := Range{Start: 0, End: meta.Size}
	if opts.Range != nil {
		var err error
		rng, err = clampRange(s.String(), meta, *opts.Range)
		if err != nil {
			return nil, err
		}
		body = body[rng.Start:rng.End]
	}
	if opts.Head {
		body = nil
	}
	return &GetResult{
		Meta:  meta,
		Range: rng,
		Body:  io.NopCloser(bytes.NewReader(body)),
		store: s.String(),
	}, nil
}

func (s *InMemory) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	res, err := s.Get(ctx, location, GetOptions{Range: &rng})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (s *InMemory) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	return getRangesCommon(ctx, s, location, ranges)
}

func (s *InMemory) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.objects[location.String()]
	if !ok {
		return ObjectMeta{}, notFoundErr(s.String(), location, nil)
	}
	return s.makeMeta(location, e), nil
}

func (s *InMemory) Delete(ctx context.Context, location opath.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := location.String()
	if _, ok := s.objects[key]; !ok {
		return notFoundErr(s.String(), location, nil)
	}
	delete(s.objects, key)
	return nil
}

// sortedKeys returns all keys under prefix in lexicographic order,
// optionally skipping keys <= offset.
func (s *InMemory) sortedKeys(prefix opath.Path, offset string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		p := opath.FromRaw(k)
		if !p.HasPrefix(prefix) {
			continue
		}
		if offset != "" && k <= offset {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *InMemory) listMetas(prefix opath.Path, offset string) []ObjectMeta {
	keys := s.sortedKeys(prefix, offset)
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]ObjectMeta, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.objects[k]; ok {
			metas = append(metas, s.makeMeta(opath.FromRaw(k), e))
		}
	}
	return metas
}

func (s *InMemory) List(ctx context.Context, prefix opath.Path) MetaStream {
	return newSliceMetaStream(s.listMetas(prefix, ""))
}

func (s *InMemory) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	return newSliceMetaStream(s.listMetas(prefix, offset.String()))
}

func (s *InMemory) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	metas := s.listMetas(prefix, "")
	return groupByDelimiter(prefix, metas), nil
}

// groupByDelimiter folds a flat listing into one directory page: entries
// exactly one segment below prefix become objects, deeper entries collapse
// into common prefixes.
func groupByDelimiter(prefix opath.Path, metas []ObjectMeta) ListResult {
	var res ListResult
	seen := make(map[string]struct{})
	for _, meta := range metas {
		rest, ok := meta.Location.StripPrefix(prefix)
		if !ok || rest.IsEmpty() {
			continue
		}
		parts := rest.Parts()
		if len(parts) == 1 {
			res.Objects = append(res.Objects, meta)
			continue
		}
		cp := prefix.Child(parts[0])
		if _, dup := seen[cp.String()]; !dup {
			seen[cp.String()] = struct{}{}
			res.CommonPrefixes = append(res.CommonPrefixes, cp)
		}
	}
	return res
}

func (s *InMemory) Copy(ctx context.Context, from, to opath.Path) error {
	return s.copy(from, to, true)
}

func (s *InMemory) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.copy(from, to, false)
}

func (s *InMemory) copy(from, to opath.Path, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.objects[from.String()]
	if !ok {
		return notFoundErr(s.String(), from, nil)
	}
	if !overwrite {
		if _, exists := s.objects[to.String()]; exists {
			return alreadyExistsErr(s.String(), to, nil)
		}
	}
	s.objects[to.String()] = memEntry{
		data:         slices.Clone(src.data),
		lastModified: time.Now().UTC(),
		etag:         s.newTagLocked(),
	}
	return nil
}

func (s *InMemory) Rename(ctx context.Context, from, to opath.Path) error {
	if err := s.copy(from, to, true); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

func (s *InMemory) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	if err := s.copy(from, to, false); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

// memUpload buffers parts until Complete assembles them in index order.
type memUpload struct {
	store    *InMemory
	location opath.Path

	mu    sync.Mutex
	parts map[int][]byte
	done  bool
}

func (s *InMemory) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	return &memUpload{store: s, location: location, parts: make(map[int][]byte)}, nil
}

func (u *memUpload) UploadPart(ctx context.Context, idx int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return &Error{Kind: KindJoin, Store: u.store.String(), Err: err}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return &Error{Kind: KindAlreadyConsumed, Store: u.store.String(), Path: u.location.String(), Err: fmt.Errorf("upload already completed or aborted")}
	}
	u.parts[idx] = slices.Clone(data)
	return nil
}

func (u *memUpload) Complete(ctx context.Context) (PutResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return PutResult{}, &Error{Kind: KindAlreadyConsumed, Store: u.store.String(), Path: u.location.String(), Err: fmt.Errorf("upload already completed or aborted")}
	}
	u.done = true

	idxs := make([]int, 0, len(u.parts))
	for i := range u.parts {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	var buf bytes.Buffer
	for _, i := range idxs {
		buf.Write(u.parts[i])
	}
	u.parts = nil
	return u.store.Put(ctx, u.location, buf.Bytes(), PutOptions{})
}

func (u *memUpload) Abort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.done = true
	u.parts = nil
	return nil
}
