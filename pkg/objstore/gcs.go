package objstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/hashmap-kz/objstore/pkg/gcsx"
	"github.com/hashmap-kz/objstore/pkg/opath"
)

// composeBatchSize is the GCS limit on sources per compose call.
const composeBatchSize = 32

// GCSStore implements ObjectStore on one GCS bucket. Version strings are
// decimal object generations. ETag conditions are emulated: the object is
// headed first and the read pinned to the observed generation, so a writer
// racing between the two calls surfaces as KindNotFound rather than a torn
// read.
//
// Delete of a missing object returns KindNotFound. Multipart uploads stage
// hidden part objects and assemble them with iterative compose calls.
type GCSStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

var (
	_ ObjectStore     = &GCSStore{}
	_ PaginatedLister = &GCSStore{}
)

// NewGCSStore creates a store for the bucket configured in cfg.
func NewGCSStore(ctx context.Context, cfg *gcsx.GCSConfig) (*GCSStore, error) {
	c, err := gcsx.NewGCSClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: c.Client(), bucket: c.BucketHandle(), name: c.Bucket()}, nil
}

// NewGCSStoreFromClient wraps an already-built client.
func NewGCSStoreFromClient(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{client: client, bucket: client.Bucket(bucket), name: bucket}
}

func (s *GCSStore) String() string {
	return fmt.Sprintf("GoogleCloudStorage(%s)", s.name)
}

func (s *GCSStore) mapGCSErr(location opath.Path, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return notFoundErr(s.String(), location, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 304:
			return notModifiedErr(s.String(), location, err)
		case 401:
			return &Error{Kind: KindUnauthenticated, Store: s.String(), Path: location.String(), Err: err}
		case 403:
			return &Error{Kind: KindPermissionDenied, Store: s.String(), Path: location.String(), Err: err}
		case 404:
			return notFoundErr(s.String(), location, err)
		case 412:
			return preconditionErr(s.String(), location, err)
		}
	}
	return genericErr(s.String(), location, err)
}

func metaFromGCSAttrs(attrs *storage.ObjectAttrs) ObjectMeta {
	return ObjectMeta{
		Location:     opath.FromRaw(attrs.Name),
		LastModified: attrs.Updated.UTC(),
		Size:         attrs.Size,
		ETag:         attrs.Etag,
		Version:      strconv.FormatInt(attrs.Generation, 10),
	}
}

func (s *GCSStore) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	obj := s.bucket.Object(location.String())
	switch opts.Mode {
	case ModeCreate:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	case ModeUpdate:
		gen, err := s.resolveUpdateGeneration(ctx, location, opts.Update)
		if err != nil {
			return PutResult{}, err
		}
		obj = obj.If(storage.Conditions{GenerationMatch: gen})
	}

	w := obj.NewWriter(ctx)
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return PutResult{}, s.mapGCSErr(location, err)
	}
	if err := w.Close(); err != nil {
		mapped := s.mapGCSErr(location, err)
		if opts.Mode == ModeCreate && ErrKind(mapped) == KindPrecondition {
			return PutResult{}, alreadyExistsErr(s.String(), location, err)
		}
		return PutResult{}, mapped
	}
	attrs := w.Attrs()
	return PutResult{ETag: attrs.Etag, Version: strconv.FormatInt(attrs.Generation, 10)}, nil
}

// resolveUpdateGeneration turns an UpdateVersion into a generation to match.
// An explicit Version wins; an ETag is resolved with a head first.
func (s *GCSStore) resolveUpdateGeneration(ctx context.Context, location opath.Path, update UpdateVersion) (int64, error) {
	if update.Version != "" {
		gen, err := strconv.ParseInt(update.Version, 10, 64)
		if err != nil {
			return 0, preconditionErr(s.String(), location, fmt.Errorf("version %q is not a generation: %w", update.Version, err))
		}
		return gen, nil
	}
	if update.ETag == "" {
		return 0, preconditionErr(s.String(), location, fmt.Errorf("update mode requires an etag or version"))
	}
	meta, err := s.Head(ctx, location)
	if err != nil {
		return 0, err
	}
	if meta.ETag != update.ETag {
		return 0, preconditionErr(s.String(), location, fmt.Errorf("etag %q no longer current", update.ETag))
	}
	return strconv.ParseInt(meta.Version, 10, 64)
}

func (s *GCSStore) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	obj := s.bucket.Object(location.String())

	// Resolve conditions against a head and pin the read to the observed
	// generation so condition and body refer to the same object state.
	meta, err := s.headObject(ctx, obj, location, opts.Version)
	if err != nil {
		return nil, err
	}
	if err := evalGetConditions(s.String(), meta, opts); err != nil {
		return nil, err
	}
	gen, err := strconv.ParseInt(meta.Version, 10, 64)
	if err == nil && gen > 0 {
		obj = obj.Generation(gen)
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

	r, err := obj.NewRangeReader(ctx, rng.Start, rng.Len())
	if err != nil {
		return nil, s.mapGCSErr(location, err)
	}
	return &GetResult{Meta: meta, Range: rng, Body: r, store: s.String()}, nil
}

func (s *GCSStore) headObject(ctx context.Context, obj *storage.ObjectHandle, location opath.Path, version string) (ObjectMeta, error) {
	if version != "" {
		gen, err := strconv.ParseInt(version, 10, 64)
		if err != nil {
			return ObjectMeta{}, preconditionErr(s.String(), location, fmt.Errorf("version %q is not a generation: %w", version, err))
		}
		obj = obj.Generation(gen)
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return ObjectMeta{}, s.mapGCSErr(location, err)
	}
	meta := metaFromGCSAttrs(attrs)
	meta.Location = location
	return meta, nil
}

func (s *GCSStore) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	res, err := s.Get(ctx, location, GetOptions{Range: &rng})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (s *GCSStore) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	return getRangesCommon(ctx, s, location, ranges)
}

func (s *GCSStore) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	return s.headObject(ctx, s.bucket.Object(location.String()), location, "")
}

func (s *GCSStore) Delete(ctx context.Context, location opath.Path) error {
	if err := s.bucket.Object(location.String()).Delete(ctx); err != nil {
		return s.mapGCSErr(location, err)
	}
	return nil
}

// gcsMetaStream adapts the SDK object iterator, which already pages lazily.
type gcsMetaStream struct {
	store  *GCSStore
	prefix opath.Path
	it     *storage.ObjectIterator
}

func (s *gcsMetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	for {
		attrs, err := s.it.Next()
		if errors.Is(err, iterator.Done) {
			return ObjectMeta{}, errStreamEnd
		}
		if err != nil {
			return ObjectMeta{}, s.store.mapGCSErr(s.prefix, err)
		}
		if attrs.Name == "" {
			// Prefix entry; flat listings skip them.
			continue
		}
		return metaFromGCSAttrs(attrs), nil
	}
}

func (s *GCSStore) listStream(ctx context.Context, prefix opath.Path, startOffset string) MetaStream {
	q := &storage.Query{Prefix: keyPrefix(prefix), StartOffset: startOffset}
	return &gcsMetaStream{store: s, prefix: prefix, it: s.bucket.Objects(ctx, q)}
}

func (s *GCSStore) List(ctx context.Context, prefix opath.Path) MetaStream {
	return s.listStream(ctx, prefix, "")
}

// ListWithOffset uses StartOffset, which is inclusive; the exact offset key
// is dropped client-side.
func (s *GCSStore) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	inner := s.listStream(ctx, prefix, offset.String())
	return &offsetSkipStream{src: inner, offset: offset.String()}
}

type offsetSkipStream struct {
	src    MetaStream
	offset string
}

func (s *offsetSkipStream) Next(ctx context.Context) (ObjectMeta, error) {
	for {
		meta, err := s.src.Next(ctx)
		if err != nil {
			return ObjectMeta{}, err
		}
		if meta.Location.String() <= s.offset {
			continue
		}
		return meta, nil
	}
}

func (s *GCSStore) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: keyPrefix(prefix), Delimiter: opath.Delimiter})
	var out ListResult
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return ListResult{}, s.mapGCSErr(prefix, err)
		}
		appendGCSEntry(&out, attrs)
	}
}

func appendGCSEntry(out *ListResult, attrs *storage.ObjectAttrs) {
	if attrs.Prefix != "" {
		out.CommonPrefixes = append(out.CommonPrefixes, opath.FromRaw(attrs.Prefix))
		return
	}
	out.Objects = append(out.Objects, metaFromGCSAttrs(attrs))
}

// ListPaginated exposes one raw list page via the iterator pager, making
// GCSStore a PaginatedLister.
func (s *GCSStore) ListPaginated(ctx context.Context, prefix string, opts PaginatedListOptions) (PaginatedListResult, error) {
	q := &storage.Query{Prefix: prefix, Delimiter: opts.Delimiter, StartOffset: opts.Offset}
	it := s.bucket.Objects(ctx, q)

	pageSize := opts.MaxKeys
	if pageSize <= 0 {
		pageSize = 1000
	}
	var entries []*storage.ObjectAttrs
	token, err := iterator.NewPager(it, pageSize, opts.PageToken).NextPage(&entries)
	if err != nil {
		return PaginatedListResult{}, s.mapGCSErr(opath.FromRaw(prefix), err)
	}

	var res PaginatedListResult
	for _, attrs := range entries {
		if opts.Offset != "" && attrs.Name != "" && attrs.Name <= opts.Offset {
			continue
		}
		appendGCSEntry(&res.Result, attrs)
	}
	res.PageToken = token
	return res, nil
}

func (s *GCSStore) copyObject(ctx context.Context, from, dst opath.Path, overwrite bool) error {
	src := s.bucket.Object(from.String())
	target := s.bucket.Object(dst.String())
	if !overwrite {
		target = target.If(storage.Conditions{DoesNotExist: true})
	}
	if _, err := target.CopierFrom(src).Run(ctx); err != nil {
		mapped := s.mapGCSErr(dst, err)
		if !overwrite && ErrKind(mapped) == KindPrecondition {
			return alreadyExistsErr(s.String(), dst, err)
		}
		if IsNotFound(mapped) {
			return notFoundErr(s.String(), from, err)
		}
		return mapped
	}
	return nil
}

func (s *GCSStore) Copy(ctx context.Context, from, to opath.Path) error {
	return s.copyObject(ctx, from, to, true)
}

func (s *GCSStore) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.copyObject(ctx, from, to, false)
}

func (s *GCSStore) Rename(ctx context.Context, from, to opath.Path) error {
	if err := s.Copy(ctx, from, to); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

func (s *GCSStore) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	if err := s.CopyIfNotExists(ctx, from, to); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

// gcsUpload stages parts as hidden objects and assembles them with compose.
type gcsUpload struct {
	store    *GCSStore
	location opath.Path
	id       string

	mu    sync.Mutex
	parts map[int]string
	done  bool
}

var gcsUploadSeq struct {
	mu sync.Mutex
	n  uint64
}

func nextGCSUploadID() string {
	gcsUploadSeq.mu.Lock()
	defer gcsUploadSeq.mu.Unlock()
	gcsUploadSeq.n++
	return strconv.FormatUint(gcsUploadSeq.n, 10)
}

func (s *GCSStore) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	return &gcsUpload{
		store:    s,
		location: location,
		id:       nextGCSUploadID(),
		parts:    make(map[int]string),
	}, nil
}

func (u *gcsUpload) partName(idx int) string {
	return fmt.Sprintf("%s.upload-%s.part.%d", u.location.String(), u.id, idx)
}

func (u *gcsUpload) UploadPart(ctx context.Context, idx int, data []byte) error {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return &Error{Kind: KindAlreadyConsumed, Store: u.store.String(), Path: u.location.String(), Err: fmt.Errorf("upload already completed or aborted")}
	}
	u.mu.Unlock()

	name := u.partName(idx)
	w := u.store.bucket.Object(name).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return u.store.mapGCSErr(u.location, err)
	}
	if err := w.Close(); err != nil {
		return u.store.mapGCSErr(u.location, err)
	}
	u.mu.Lock()
	u.parts[idx] = name
	u.mu.Unlock()
	return nil
}

func (u *gcsUpload) Complete(ctx context.Context) (PutResult, error) {
	u.mu.Lock()
	if u.done {
		u.mu.Unlock()
		return PutResult{}, &Error{Kind: KindAlreadyConsumed, Store: u.store.String(), Path: u.location.String(), Err: fmt.Errorf("upload already completed or aborted")}
	}
	u.done = true
	idxs := make([]int, 0, len(u.parts))
	for i := range u.parts {
		idxs = append(idxs, i)
	}
	names := make([]string, 0, len(idxs))
	sort.Ints(idxs)
	for _, i := range idxs {
		names = append(names, u.parts[i])
	}
	u.mu.Unlock()

	attrs, err := u.compose(ctx, names)
	u.cleanup(ctx, names)
	if err != nil {
		return PutResult{}, err
	}
	return PutResult{ETag: attrs.Etag, Version: strconv.FormatInt(attrs.Generation, 10)}, nil
}

// compose folds the staged parts into the final object, batching to the
// 32-source compose limit.
func (u *gcsUpload) compose(ctx context.Context, names []string) (*storage.ObjectAttrs, error) {
	if len(names) == 0 {
		w := u.store.bucket.Object(u.location.String()).NewWriter(ctx)
		if err := w.Close(); err != nil {
			return nil, u.store.mapGCSErr(u.location, err)
		}
		return w.Attrs(), nil
	}

	scratch := u.partName(-1)
	cur := names
	for len(cur) > 1 {
		var folded []string
		for start := 0; start < len(cur); start += composeBatchSize {
			end := start + composeBatchSize
			if end > len(cur) {
				end = len(cur)
			}
			batch := cur[start:end]
			srcs := make([]*storage.ObjectHandle, len(batch))
			for i, name := range batch {
				srcs[i] = u.store.bucket.Object(name)
			}
			target := fmt.Sprintf("%s.c%d", scratch, start)
			if len(cur) <= composeBatchSize {
				target = u.location.String()
			}
			attrs, err := u.store.bucket.Object(target).ComposerFrom(srcs...).Run(ctx)
			if err != nil {
				return nil, u.store.mapGCSErr(u.location, err)
			}
			if target == u.location.String() {
				return attrs, nil
			}
			folded = append(folded, target)
			defer u.cleanup(ctx, []string{target})
		}
		cur = folded
	}

	// Single remaining source: finish with a copy.
	attrs, err := u.store.bucket.Object(u.location.String()).ComposerFrom(u.store.bucket.Object(cur[0])).Run(ctx)
	if err != nil {
		return nil, u.store.mapGCSErr(u.location, err)
	}
	return attrs, nil
}

func (u *gcsUpload) cleanup(ctx context.Context, names []string) {
	for _, name := range names {
		_ = u.store.bucket.Object(name).Delete(ctx)
	}
}

func (u *gcsUpload) Abort(ctx context.Context) error {
	u.mu.Lock()
	u.done = true
	names := make([]string, 0, len(u.parts))
	for _, name := range u.parts {
		names = append(names, name)
	}
	u.mu.Unlock()
	u.cleanup(ctx, names)
	return nil
}
