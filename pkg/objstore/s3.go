package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hashmap-kz/objstore/pkg/opath"
	"github.com/hashmap-kz/objstore/pkg/s3x"
)

// S3Store implements ObjectStore on one S3 bucket. Conditional puts use the
// IfMatch / IfNoneMatch support of modern S3 and S3-compatible servers.
//
// Delete of a missing key succeeds, as S3 itself reports success there.
// CopyIfNotExists is emulated with a head-then-copy sequence and is not
// atomic against concurrent writers.
type S3Store struct {
	client *s3.Client
	bucket string
}

var (
	_ ObjectStore     = &S3Store{}
	_ PaginatedLister = &S3Store{}
)

// NewS3Store creates a store for the bucket configured in cfg.
func NewS3Store(ctx context.Context, cfg *s3x.S3Config) (*S3Store, error) {
	c, err := s3x.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Store{client: c.Client(), bucket: c.Bucket()}, nil
}

// NewS3StoreFromClient wraps an already-built client.
func NewS3StoreFromClient(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) String() string {
	return fmt.Sprintf("AmazonS3(%s)", s.bucket)
}

// mapS3Err translates SDK failures into the error taxonomy.
func (s *S3Store) mapS3Err(location opath.Path, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 304:
			return notModifiedErr(s.String(), location, err)
		case 404:
			return notFoundErr(s.String(), location, err)
		case 412:
			return preconditionErr(s.String(), location, err)
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchUpload":
			return notFoundErr(s.String(), location, err)
		case "PreconditionFailed":
			return preconditionErr(s.String(), location, err)
		case "NotModified":
			return notModifiedErr(s.String(), location, err)
		case "AccessDenied":
			return &Error{Kind: KindPermissionDenied, Store: s.String(), Path: location.String(), Err: err}
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
			return &Error{Kind: KindUnauthenticated, Store: s.String(), Path: location.String(), Err: err}
		case "NotImplemented":
			return notSupportedErr(s.String(), apiErr.ErrorCode())
		}
	}
	return genericErr(s.String(), location, err)
}

func (s *S3Store) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(location.String()),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
	}
	switch opts.Mode {
	case ModeCreate:
		in.IfNoneMatch = aws.String("*")
	case ModeUpdate:
		if opts.Update.ETag == "" {
			return PutResult{}, preconditionErr(s.String(), location, fmt.Errorf("update mode requires an etag"))
		}
		in.IfMatch = aws.String(opts.Update.ETag)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		mapped := s.mapS3Err(location, err)
		if opts.Mode == ModeCreate && ErrKind(mapped) == KindPrecondition {
			return PutResult{}, alreadyExistsErr(s.String(), location, err)
		}
		return PutResult{}, mapped
	}
	return PutResult{ETag: aws.ToString(out.ETag), Version: aws.ToString(out.VersionId)}, nil
}

func (s *S3Store) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	if opts.Head {
		meta, err := s.head(ctx, location, opts)
		if err != nil {
			return nil, err
		}
		return &GetResult{
			Meta:  meta,
			Range: Range{Start: 0, End: meta.Size},
			Body:  emptyBody(),
			store: s.String(),
		}, nil
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location.String()),
	}
	applyS3GetConditions(&in.IfMatch, &in.IfNoneMatch, &in.IfModifiedSince, &in.IfUnmodifiedSince, opts)
	if opts.Version != "" {
		in.VersionId = aws.String(opts.Version)
	}
	if opts.Range != nil {
		in.Range = aws.String(fmt.Sprintf("bytes=%d-%d", opts.Range.Start, opts.Range.End-1))
	}

	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, s.mapS3Err(location, err)
	}

	size := aws.ToInt64(out.ContentLength)
	rng := Range{Start: 0, End: size}
	if opts.Range != nil {
		rng = Range{Start: opts.Range.Start, End: opts.Range.Start + size}
		if start, end, ok := parseContentRange(aws.ToString(out.ContentRange)); ok {
			rng = Range{Start: start, End: end}
			size = total(aws.ToString(out.ContentRange), size)
		}
	}
	return &GetResult{
		Meta: ObjectMeta{
			Location:     location,
			LastModified: aws.ToTime(out.LastModified).UTC(),
			Size:         size,
			ETag:         aws.ToString(out.ETag),
			Version:      aws.ToString(out.VersionId),
		},
		Range: rng,
		Body:  out.Body,
		store: s.String(),
	}, nil
}

func applyS3GetConditions(ifMatch, ifNoneMatch **string, ifModified, ifUnmodified **time.Time, opts GetOptions) {
	if opts.IfMatch != "" {
		*ifMatch = aws.String(opts.IfMatch)
	}
	if opts.IfNoneMatch != "" {
		*ifNoneMatch = aws.String(opts.IfNoneMatch)
	}
	if !opts.IfModifiedSince.IsZero() {
		*ifModified = aws.Time(opts.IfModifiedSince)
	}
	if !opts.IfUnmodifiedSince.IsZero() {
		*ifUnmodified = aws.Time(opts.IfUnmodifiedSince)
	}
}

func (s *S3Store) head(ctx context.Context, location opath.Path, opts GetOptions) (ObjectMeta, error) {
	in := &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location.String()),
	}
	applyS3GetConditions(&in.IfMatch, &in.IfNoneMatch, &in.IfModifiedSince, &in.IfUnmodifiedSince, opts)
	if opts.Version != "" {
		in.VersionId = aws.String(opts.Version)
	}
	out, err := s.client.HeadObject(ctx, in)
	if err != nil {
		return ObjectMeta{}, s.mapS3Err(location, err)
	}
	return ObjectMeta{
		Location:     location,
		LastModified: aws.ToTime(out.LastModified).UTC(),
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         aws.ToString(out.ETag),
		Version:      aws.ToString(out.VersionId),
	}, nil
}

func (s *S3Store) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	res, err := s.Get(ctx, location, GetOptions{Range: &rng})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (s *S3Store) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	return getRangesCommon(ctx, s, location, ranges)
}

func (s *S3Store) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	return s.head(ctx, location, GetOptions{})
}

func (s *S3Store) Delete(ctx context.Context, location opath.Path) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location.String()),
	})
	if err != nil {
		return s.mapS3Err(location, err)
	}
	return nil
}

// keyPrefix renders a directory prefix as an S3 key prefix, trailing
// delimiter included.
func keyPrefix(prefix opath.Path) string {
	if prefix.IsEmpty() {
		return ""
	}
	return prefix.String() + "/"
}

func metaFromS3Object(obj types.Object) ObjectMeta {
	return ObjectMeta{
		Location:     opath.FromRaw(aws.ToString(obj.Key)),
		LastModified: aws.ToTime(obj.LastModified).UTC(),
		Size:         aws.ToInt64(obj.Size),
		ETag:         aws.ToString(obj.ETag),
	}
}

// s3MetaStream pulls ListObjectsV2 pages lazily.
type s3MetaStream struct {
	store   *S3Store
	prefix  opath.Path
	pager   *s3.ListObjectsV2Paginator
	current []ObjectMeta
	pos     int
}

func (s *s3MetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	for s.pos >= len(s.current) {
		if !s.pager.HasMorePages() {
			return ObjectMeta{}, errStreamEnd
		}
		page, err := s.pager.NextPage(ctx)
		if err != nil {
			return ObjectMeta{}, s.store.mapS3Err(s.prefix, err)
		}
		s.current = s.current[:0]
		for _, obj := range page.Contents {
			s.current = append(s.current, metaFromS3Object(obj))
		}
		s.pos = 0
	}
	meta := s.current[s.pos]
	s.pos++
	return meta, nil
}

func (s *S3Store) listStream(prefix opath.Path, startAfter string) MetaStream {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix(prefix)),
	}
	if startAfter != "" {
		in.StartAfter = aws.String(startAfter)
	}
	return &s3MetaStream{
		store:  s,
		prefix: prefix,
		pager:  s3.NewListObjectsV2Paginator(s.client, in),
	}
}

func (s *S3Store) List(ctx context.Context, prefix opath.Path) MetaStream {
	return s.listStream(prefix, "")
}

func (s *S3Store) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	return s.listStream(prefix, offset.String())
}

func (s *S3Store) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	var out ListResult
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(keyPrefix(prefix)),
		Delimiter: aws.String(opath.Delimiter),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return ListResult{}, s.mapS3Err(prefix, err)
		}
		appendS3Page(&out, page)
	}
	return out, nil
}

func appendS3Page(out *ListResult, page *s3.ListObjectsV2Output) {
	for _, cp := range page.CommonPrefixes {
		out.CommonPrefixes = append(out.CommonPrefixes, opath.FromRaw(aws.ToString(cp.Prefix)))
	}
	for _, obj := range page.Contents {
		out.Objects = append(out.Objects, metaFromS3Object(obj))
	}
}

// ListPaginated exposes one raw ListObjectsV2 page, making S3Store a
// PaginatedLister.
func (s *S3Store) ListPaginated(ctx context.Context, prefix string, opts PaginatedListOptions) (PaginatedListResult, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if opts.Offset != "" {
		in.StartAfter = aws.String(opts.Offset)
	}
	if opts.Delimiter != "" {
		in.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.PageToken != "" {
		in.ContinuationToken = aws.String(opts.PageToken)
	}
	if opts.MaxKeys > 0 {
		in.MaxKeys = aws.Int32(int32(opts.MaxKeys))
	}

	page, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return PaginatedListResult{}, s.mapS3Err(opath.FromRaw(prefix), err)
	}
	var res PaginatedListResult
	appendS3Page(&res.Result, page)
	res.PageToken = aws.ToString(page.NextContinuationToken)
	return res, nil
}

func (s *S3Store) copySource(from opath.Path) string {
	return url.PathEscape(s.bucket + "/" + from.String())
}

func (s *S3Store) Copy(ctx context.Context, from, to opath.Path) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(to.String()),
		CopySource: aws.String(s.copySource(from)),
	})
	if err != nil {
		return s.mapS3Err(from, err)
	}
	return nil
}

// CopyIfNotExists heads the destination first; a writer racing between the
// head and the copy can still be overwritten.
func (s *S3Store) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	_, err := s.Head(ctx, to)
	switch {
	case err == nil:
		return alreadyExistsErr(s.String(), to, fmt.Errorf("destination already exists"))
	case !IsNotFound(err):
		return err
	}
	return s.Copy(ctx, from, to)
}

func (s *S3Store) Rename(ctx context.Context, from, to opath.Path) error {
	if err := s.Copy(ctx, from, to); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

func (s *S3Store) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	if err := s.CopyIfNotExists(ctx, from, to); err != nil {
		return err
	}
	return s.Delete(ctx, from)
}

// s3Upload adapts one S3 multipart upload. Part indexes are shifted by one
// to S3 part numbers.
type s3Upload struct {
	store    *S3Store
	location opath.Path
	uploadID string

	parts *completedParts
}

func (s *S3Store) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location.String()),
	})
	if err != nil {
		return nil, s.mapS3Err(location, err)
	}
	return &s3Upload{
		store:    s,
		location: location,
		uploadID: aws.ToString(out.UploadId),
		parts:    &completedParts{},
	}, nil
}

func (u *s3Upload) UploadPart(ctx context.Context, idx int, data []byte) error {
	out, err := u.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(u.store.bucket),
		Key:           aws.String(u.location.String()),
		UploadId:      aws.String(u.uploadID),
		PartNumber:    aws.Int32(int32(idx + 1)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return u.store.mapS3Err(u.location, err)
	}
	u.parts.add(idx+1, aws.ToString(out.ETag))
	return nil
}

func (u *s3Upload) Complete(ctx context.Context) (PutResult, error) {
	parts := u.parts.sorted()
	out, err := u.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.store.bucket),
		Key:             aws.String(u.location.String()),
		UploadId:        aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return PutResult{}, u.store.mapS3Err(u.location, err)
	}
	return PutResult{ETag: aws.ToString(out.ETag), Version: aws.ToString(out.VersionId)}, nil
}

func (u *s3Upload) Abort(ctx context.Context) error {
	_, err := u.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.store.bucket),
		Key:      aws.String(u.location.String()),
		UploadId: aws.String(u.uploadID),
	})
	if err != nil {
		return u.store.mapS3Err(u.location, err)
	}
	return nil
}

// completedParts collects per-part etags concurrently.
type completedParts struct {
	mu    sync.Mutex
	parts []types.CompletedPart
}

func (p *completedParts) add(partNumber int, etag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parts = append(p.parts, types.CompletedPart{
		PartNumber: aws.Int32(int32(partNumber)),
		ETag:       aws.String(etag),
	})
}

func (p *completedParts) sorted() []types.CompletedPart {
	p.mu.Lock()
	defer p.mu.Unlock()
	parts := append([]types.CompletedPart(nil), p.parts...)
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})
	return parts
}
