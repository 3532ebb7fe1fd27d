package objstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/hashmap-kz/objstore/pkg/azx"
	"github.com/hashmap-kz/objstore/pkg/opath"
)

// AzureStore implements ObjectStore on one blob container.
//
// Delete of a missing blob returns KindNotFound. CopyIfNotExists is atomic:
// the server-side copy carries an If-None-Match: * destination condition.
// Multipart uses staged blocks; Abort is a no-op since uncommitted blocks
// expire server-side after seven days.
type AzureStore struct {
	container *container.Client
	name      string
}

var (
	_ ObjectStore     = &AzureStore{}
	_ PaginatedLister = &AzureStore{}
)

// NewAzureStore creates a store for the container configured in cfg.
func NewAzureStore(cfg *azx.AzureConfig) (*AzureStore, error) {
	c, err := azx.NewAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	return &AzureStore{container: c.Container(), name: cfg.Container}, nil
}

// NewAzureStoreFromClient wraps an already-built container client.
func NewAzureStoreFromClient(client *container.Client, name string) *AzureStore {
	return &AzureStore{container: client, name: name}
}

func (s *AzureStore) String() string {
	return fmt.Sprintf("MicrosoftAzure(%s)", s.name)
}

func (s *AzureStore) mapAzErr(location opath.Path, err error) error {
	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound):
		return notFoundErr(s.String(), location, err)
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists):
		return alreadyExistsErr(s.String(), location, err)
	case bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.TargetConditionNotMet):
		return preconditionErr(s.String(), location, err)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.InvalidAuthenticationInfo):
		return &Error{Kind: KindUnauthenticated, Store: s.String(), Path: location.String(), Err: err}
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.InsufficientAccountPermissions):
		return &Error{Kind: KindPermissionDenied, Store: s.String(), Path: location.String(), Err: err}
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 304:
			return notModifiedErr(s.String(), location, err)
		case 404:
			return notFoundErr(s.String(), location, err)
		case 409:
			return alreadyExistsErr(s.String(), location, err)
		case 412:
			return preconditionErr(s.String(), location, err)
		}
	}
	return genericErr(s.String(), location, err)
}

func etagString(e *azcore.ETag) string {
	if e == nil {
		return ""
	}
	return string(*e)
}

func (s *AzureStore) blockBlob(location opath.Path) *blockblob.Client {
	return s.container.NewBlockBlobClient(location.String())
}

func (s *AzureStore) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	upload := &blockblob.UploadOptions{}
	switch opts.Mode {
	case ModeCreate:
		upload.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		}
	case ModeUpdate:
		if opts.Update.ETag == "" {
			return PutResult{}, preconditionErr(s.String(), location, fmt.Errorf("update mode requires an etag"))
		}
		upload.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: to.Ptr(azcore.ETag(opts.Update.ETag))},
		}
	}

	resp, err := s.blockBlob(location).Upload(ctx, readSeekNopCloser(payload), upload)
	if err != nil {
		mapped := s.mapAzErr(location, err)
		if opts.Mode == ModeCreate && ErrKind(mapped) == KindPrecondition {
			return PutResult{}, alreadyExistsErr(s.String(), location, err)
		}
		return PutResult{}, mapped
	}
	return PutResult{ETag: etagString(resp.ETag)}, nil
}

func readSeekNopCloser(payload []byte) io.ReadSeekCloser {
	return streaming.NopCloser(bytes.NewReader(payload))
}

func azGetConditions(opts GetOptions) *blob.AccessConditions {
	mac := &blob.ModifiedAccessConditions{}
	set := false
	if opts.IfMatch != "" {
		mac.IfMatch = to.Ptr(azcore.ETag(opts.IfMatch))
		set = true
	}
	if opts.IfNoneMatch != "" {
		mac.IfNoneMatch = to.Ptr(azcore.ETag(opts.IfNoneMatch))
		set = true
	}
	if !opts.IfModifiedSince.IsZero() {
		mac.IfModifiedSince = to.Ptr(opts.IfModifiedSince)
		set = true
	}
	if !opts.IfUnmodifiedSince.IsZero() {
		mac.IfUnmodifiedSince = to.Ptr(opts.IfUnmodifiedSince)
		set = true
	}
	if !set {
		return nil
	}
	return &blob.AccessConditions{ModifiedAccessConditions: mac}
}

func (s *AzureStore) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	if opts.Version != "" {
		return nil, notSupportedErr(s.String(), "get by explicit version")
	}
	if opts.Head {
		meta, err := s.headWithConditions(ctx, location, opts)
		if err != nil {
			return nil, err
		}
		return &GetResult{Meta: meta, Range: Range{Start: 0, End: meta.Size}, Body: emptyBody(), store: s.String()}, nil
	}

	dl := &blob.DownloadStreamOptions{AccessConditions: azGetConditions(opts)}
	if opts.Range != nil {
		dl.Range = blob.HTTPRange{Offset: opts.Range.Start, Count: opts.Range.Len()}
	}
	resp, err := s.blockBlob(location).DownloadStream(ctx, dl)
	if err != nil {
		return nil, s.mapAzErr(location, err)
	}

	length := int64(0)
	if resp.ContentLength != nil {
		length = *resp.ContentLength
	}
	rng := Range{Start: 0, End: length}
	size := length
	if opts.Range != nil {
		rng = Range{Start: opts.Range.Start, End: opts.Range.Start + length}
		if resp.ContentRange != nil {
			if start, end, ok := parseContentRange(*resp.ContentRange); ok {
				rng = Range{Start: start, End: end}
				size = total(*resp.ContentRange, size)
			}
		}
	}
	meta := ObjectMeta{
		Location: location,
		Size:     size,
		ETag:     etagString(resp.ETag),
	}
	if resp.LastModified != nil {
		meta.LastModified = resp.LastModified.UTC()
	}
	return &GetResult{Meta: meta, Range: rng, Body: resp.Body, store: s.String()}, nil
}

func (s *AzureStore) headWithConditions(ctx context.Context, location opath.Path, opts GetOptions) (ObjectMeta, error) {
	props, err := s.blockBlob(location).GetProperties(ctx, &blob.GetPropertiesOptions{AccessConditions: azGetConditions(opts)})
	if err != nil {
		return ObjectMeta{}, s.mapAzErr(location, err)
	}
	meta := ObjectMeta{Location: location, ETag: etagString(props.ETag)}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = props.LastModified.UTC()
	}
	return meta, nil
}

func (s *AzureStore) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	res, err := s.Get(ctx, location, GetOptions{Range: &rng})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (s *AzureStore) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	return getRangesCommon(ctx, s, location, ranges)
}

func (s *AzureStore) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	return s.headWithConditions(ctx, location, GetOptions{})
}

func (s *AzureStore) Delete(ctx context.Context, location opath.Path) error {
	if _, err := s.blockBlob(location).Delete(ctx, nil); err != nil {
		return s.mapAzErr(location, err)
	}
	return nil
}

func metaFromAzBlob(item *container.BlobItem) ObjectMeta {
	meta := ObjectMeta{}
	if item.Name != nil {
		meta.Location = opath.FromRaw(*item.Name)
	}
	if item.Properties != nil {
		if item.Properties.ContentLength != nil {
			meta.Size = *item.Properties.ContentLength
		}
		if item.Properties.LastModified != nil {
			meta.LastModified = item.Properties.LastModified.UTC()
		}
		meta.ETag = etagString(item.Properties.ETag)
	}
	return meta
}

// azMetaStream pulls flat-listing pages lazily. Azure has no StartAfter, so
// offset listings skip client-side.
type azMetaStream struct {
	store   *AzureStore
	prefix  opath.Path
	offset  string
	pager   *runtimePager
	current []ObjectMeta
	pos     int
}

// runtimePager narrows the generated pager to what the stream needs.
type runtimePager struct {
	more func() bool
	next func(ctx context.Context) ([]*container.BlobItem, error)
}

func (s *azMetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	for s.pos >= len(s.current) {
		if !s.pager.more() {
			return ObjectMeta{}, errStreamEnd
		}
		items, err := s.pager.next(ctx)
		if err != nil {
			return ObjectMeta{}, s.store.mapAzErr(s.prefix, err)
		}
		s.current = s.current[:0]
		for _, item := range items {
			meta := metaFromAzBlob(item)
			if s.offset != "" && meta.Location.String() <= s.offset {
				continue
			}
			s.current = append(s.current, meta)
		}
		s.pos = 0
	}
	meta := s.current[s.pos]
	s.pos++
	return meta, nil
}

func (s *AzureStore) listStream(prefix opath.Path, offset string) MetaStream {
	pager := s.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: to.Ptr(keyPrefix(prefix)),
	})
	return &azMetaStream{
		store:  s,
		prefix: prefix,
		offset: offset,
		pager: &runtimePager{
			more: pager.More,
			next: func(ctx context.Context) ([]*container.BlobItem, error) {
				page, err := pager.NextPage(ctx)
				if err != nil {
					return nil, err
				}
				return page.Segment.BlobItems, nil
			},
		},
	}
}

func (s *AzureStore) List(ctx context.Context, prefix opath.Path) MetaStream {
	return s.listStream(prefix, "")
}

func (s *AzureStore) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	return s.listStream(prefix, offset.String())
}

func (s *AzureStore) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	var out ListResult
	pager := s.container.NewListBlobsHierarchyPager(opath.Delimiter, &container.ListBlobsHierarchyOptions{
		Prefix: to.Ptr(keyPrefix(prefix)),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return ListResult{}, s.mapAzErr(prefix, err)
		}
		for _, bp := range page.Segment.BlobPrefixes {
			if bp.Name != nil {
				out.CommonPrefixes = append(out.CommonPrefixes, opath.FromRaw(*bp.Name))
			}
		}
		for _, item := range page.Segment.BlobItems {
			out.Objects = append(out.Objects, metaFromAzBlob(item))
		}
	}
	return out, nil
}

// ListPaginated exposes one raw list page, making AzureStore a
// PaginatedLister. Offset is applied client-side within the page.
func (s *AzureStore) ListPaginated(ctx context.Context, prefix string, opts PaginatedListOptions) (PaginatedListResult, error) {
	listOpts := container.ListBlobsHierarchyOptions{Prefix: to.Ptr(prefix)}
	if opts.PageToken != "" {
		listOpts.Marker = to.Ptr(opts.PageToken)
	}
	if opts.MaxKeys > 0 {
		listOpts.MaxResults = to.Ptr(int32(opts.MaxKeys))
	}

	var res PaginatedListResult
	if opts.Delimiter != "" {
		pager := s.container.NewListBlobsHierarchyPager(opts.Delimiter, &listOpts)
		page, err := pager.NextPage(ctx)
		if err != nil {
			return PaginatedListResult{}, s.mapAzErr(opath.FromRaw(prefix), err)
		}
		for _, bp := range page.Segment.BlobPrefixes {
			if bp.Name != nil {
				res.Result.CommonPrefixes = append(res.Result.CommonPrefixes, opath.FromRaw(*bp.Name))
			}
		}
		for _, item := range page.Segment.BlobItems {
			appendAzPageMeta(&res.Result, item, opts.Offset)
		}
		if page.NextMarker != nil {
			res.PageToken = *page.NextMarker
		}
		return res, nil
	}

	pager := s.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix:     listOpts.Prefix,
		Marker:     listOpts.Marker,
		MaxResults: listOpts.MaxResults,
	})
	page, err := pager.NextPage(ctx)
	if err != nil {
		return PaginatedListResult{}, s.mapAzErr(opath.FromRaw(prefix), err)
	}
	for _, item := range page.Segment.BlobItems {
		appendAzPageMeta(&res.Result, item, opts.Offset)
	}
	if page.NextMarker != nil {
		res.PageToken = *page.NextMarker
	}
	return res, nil
}

func appendAzPageMeta(out *ListResult, item *container.BlobItem, offset string) {
	meta := metaFromAzBlob(item)
	if offset != "" && meta.Location.String() <= offset {
		return
	}
	out.Objects = append(out.Objects, meta)
}

// sourceURL builds a same-container source URL for server-side copy. The
// copy runs under the destination client's credentials, which also cover
// the source here.
func (s *AzureStore) sourceURL(from opath.Path) string {
	return s.container.NewBlobClient(from.String()).URL()
}

func (s *AzureStore) copyBlob(ctx context.Context, from, dst opath.Path, overwrite bool) error {
	opts := &blob.CopyFromURLOptions{}
	if !overwrite {
		opts.BlobAccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		}
	}
	if _, err := s.blockBlob(dst).CopyFromURL(ctx, s.sourceURL(from), opts); err != nil {
		mapped := s.mapAzErr(dst, err)
		if !overwrite && ErrKind(mapped) == KindPrecondition {
			return alreadyExistsErr(s.String(), dst, err)
		}
		return mapped
	}
	return nil
}

func (s *AzureStore) Copy(ctx context.Context, from, to opath.Path) error {
	return s.copyBlob(ctx, from, to, true)
}

func (s *AzureStore) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.copyBlob(ctx, from, to, false)
}

func (s *AzureStore) Rename(ctx context.Context, from, to opath.Path) error {
	if err := s.Copy(ctx, from, to); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

func (s *AzureStore) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	if err := s.CopyIfNotExists(ctx, from, to); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

// azUpload stages blocks and commits them in index order. Block IDs encode
// the part index so ordering needs no extra state.
type azUpload struct {
	store    *AzureStore
	location opath.Path
	client   *blockblob.Client

	mu  sync.Mutex
	ids map[int]string
}

func (s *AzureStore) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	return &azUpload{
		store:    s,
		location: location,
		client:   s.blockBlob(location),
		ids:      make(map[int]string),
	}, nil
}

func blockID(idx int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%020d", idx)))
}

func (u *azUpload) UploadPart(ctx context.Context, idx int, data []byte) error {
	id := blockID(idx)
	if _, err := u.client.StageBlock(ctx, id, readSeekNopCloser(data), nil); err != nil {
		return u.store.mapAzErr(u.location, err)
	}
	u.mu.Lock()
	u.ids[idx] = id
	u.mu.Unlock()
	return nil
}

func (u *azUpload) Complete(ctx context.Context) (PutResult, error) {
	u.mu.Lock()
	idxs := make([]int, 0, len(u.ids))
	for i := range u.ids {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	ids := make([]string, 0, len(idxs))
	for _, i := range idxs {
		ids = append(ids, u.ids[i])
	}
	u.mu.Unlock()

	resp, err := u.client.CommitBlockList(ctx, ids, nil)
	if err != nil {
		return PutResult{}, u.store.mapAzErr(u.location, err)
	}
	return PutResult{ETag: etagString(resp.ETag)}, nil
}

// Abort is a no-op: uncommitted blocks are garbage-collected by the service.
func (u *azUpload) Abort(ctx context.Context) error {
	return nil
}
