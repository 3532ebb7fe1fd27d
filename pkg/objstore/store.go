// Package objstore provides a uniform, pluggable abstraction over remote and
// local object storage backends: S3-compatible, Azure Blob, Google Cloud
// Storage, generic HTTP (WebDAV), the local filesystem and an in-memory
// store. Every backend implements the same ObjectStore contract; callers are
// polymorphic over it and may stack the prefix and instrumentation
// decorators on top of any backend.
package objstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

// ObjectMeta holds metadata for a stored object. It is produced by head,
// list and put operations and is never partially populated: absent optional
// fields (ETag, Version) are empty strings.
type ObjectMeta struct {
	Location     opath.Path
	LastModified time.Time
	Size         int64
	ETag         string
	Version      string
}

// ListResult is one non-recursive "directory" page of a delimiter-bounded
// listing, fully materialized.
type ListResult struct {
	CommonPrefixes []opath.Path
	Objects        []ObjectMeta
}

// PutResult is the post-condition of a successful write, usable as the
// precondition of a later conditional update.
type PutResult struct {
	ETag    string
	Version string
}

// UpdateVersion is the precondition of a conditional overwrite: the write
// succeeds only if the current object still matches.
type UpdateVersion struct {
	ETag    string
	Version string
}

// PutMode selects the write discipline of a Put. Modes are mutually
// exclusive and chosen per call.
type PutMode int

const (
	// ModeOverwrite performs an unconditional, full replacement.
	ModeOverwrite PutMode = iota
	// ModeCreate fails with KindAlreadyExists if the object exists.
	ModeCreate
	// ModeUpdate fails with KindPrecondition unless the current etag/version
	// matches PutOptions.Update.
	ModeUpdate
)

func (m PutMode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeUpdate:
		return "update"
	default:
		return "overwrite"
	}
}

// PutOptions configures a single-shot write. Update is consulted only when
// Mode is ModeUpdate.
type PutOptions struct {
	Mode   PutMode
	Update UpdateVersion
}

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes the range covers.
func (r Range) Len() int64 { return r.End - r.Start }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// GetOptions configures a conditional or partial read.
type GetOptions struct {
	// IfMatch makes the read fail with KindPrecondition unless the current
	// etag matches.
	IfMatch string
	// IfNoneMatch makes the read fail with KindNotModified when the current
	// etag matches.
	IfNoneMatch string
	// IfModifiedSince short-circuits with KindNotModified when the object
	// has not changed after the given time.
	IfModifiedSince time.Time
	// IfUnmodifiedSince fails with KindPrecondition when the object changed
	// after the given time.
	IfUnmodifiedSince time.Time
	// Range restricts the returned body to a byte range.
	Range *Range
	// Version pins an explicit object version where the backend supports
	// versioning.
	Version string
	// Head requests metadata only; the returned body is empty.
	Head bool
}

// MetaStream is a lazy, possibly unbounded stream of object metadata.
// Next returns io.EOF once the stream is exhausted; a fresh listing is
// obtained by issuing a new List call, not by rewinding.
type MetaStream interface {
	Next(ctx context.Context) (ObjectMeta, error)
}

// MultipartUpload is one in-progress chunked upload on a backend. Parts are
// identified by a zero-based index assigned by the caller; completion order
// is free but Complete assembles strictly in index order. UploadPart is safe
// for concurrent use.
//
// An upload that is abandoned without Complete or Abort may leave orphaned
// uncommitted parts server-side; releasing them is the caller's
// responsibility.
type MultipartUpload interface {
	UploadPart(ctx context.Context, idx int, data []byte) error
	Complete(ctx context.Context) (PutResult, error)
	Abort(ctx context.Context) error
}

// ObjectStore is the capability contract every backend implements.
//
// All implementations are safe for concurrent use: configuration is
// immutable after construction and a store is shared by reference across
// tasks. Each method is a suspension point; the passed context bounds the
// underlying network or filesystem work.
type ObjectStore interface {
	fmt.Stringer

	// Put durably writes a full object, replacing prior content. No partial
	// write is ever visible. Conditional behavior is selected by opts.Mode.
	Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error)

	// Get retrieves an object, optionally conditionally or partially.
	Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error)

	// GetRange fetches a single byte range.
	GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error)

	// GetRanges fetches several byte ranges. Ranges are fetched
	// independently; there is no cross-range consistency guarantee unless
	// the caller pins a version via GetOptions on a surrounding protocol.
	GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error)

	// Head returns metadata without a body.
	Head(ctx context.Context, location opath.Path) (ObjectMeta, error)

	// Delete removes an object. Whether deleting a missing key errors or
	// no-ops is backend-dependent and documented per backend; this contract
	// deliberately does not paper over the difference.
	Delete(ctx context.Context, location opath.Path) error

	// List streams all keys under prefix, flat (no delimiter grouping).
	List(ctx context.Context, prefix opath.Path) MetaStream

	// ListWithOffset is List skipping all keys lexicographically less than
	// or equal to offset; used for resuming a previous listing.
	ListWithOffset(ctx context.Context, prefix opath.Path, offset opath.Path) MetaStream

	// ListWithDelimiter returns one fully-materialized directory page.
	ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error)

	// Copy duplicates an object, overwriting the destination.
	Copy(ctx context.Context, from, to opath.Path) error

	// CopyIfNotExists duplicates an object, failing with KindAlreadyExists
	// when the destination is occupied.
	CopyIfNotExists(ctx context.Context, from, to opath.Path) error

	// Rename moves an object. Backends without an atomic rename implement
	// it as copy followed by delete, which is NOT failure-atomic: a crash
	// mid-operation can leave both source and destination present.
	Rename(ctx context.Context, from, to opath.Path) error

	// RenameIfNotExists is Rename failing when the destination exists.
	RenameIfNotExists(ctx context.Context, from, to opath.Path) error

	// Multipart begins a chunked upload for location. Most callers should
	// use the Upload helper or WriteMultipart instead of driving this
	// directly.
	Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error)
}

// GetResult carries the metadata and body of a successful Get. The body is a
// one-shot resource: reading it through Bytes (or closing it) consumes the
// result, and a second consumption fails with KindAlreadyConsumed.
type GetResult struct {
	Meta ObjectMeta
	// Range is the byte range the body covers; for full reads it is
	// [0, Meta.Size).
	Range Range
	Body  io.ReadCloser

	store    string
	consumed bool
}

// Bytes drains and closes the body, returning its content. It may be called
// once.
func (r *GetResult) Bytes() ([]byte, error) {
	if r.consumed {
		return nil, &Error{Kind: KindAlreadyConsumed, Store: r.store, Path: r.Meta.Location.String(), Err: fmt.Errorf("get result body was already consumed")}
	}
	r.consumed = true
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, genericErr(r.store, r.Meta.Location, err)
	}
	return data, nil
}

// PaginatedListOptions configures one page fetch of a server-side paginated
// listing.
type PaginatedListOptions struct {
	// Offset skips keys lexicographically <= Offset.
	Offset string
	// Delimiter groups results when non-empty.
	Delimiter string
	// PageToken resumes from a previous page; empty starts from the front.
	PageToken string
	// MaxKeys bounds the page size; 0 uses the backend default.
	MaxKeys int
}

// PaginatedListResult is one page of a server-side paginated listing. An
// empty PageToken means no further pages exist.
type PaginatedListResult struct {
	Result    ListResult
	PageToken string
}

// PaginatedLister is the capability of backends with true server-side
// pagination (S3, Azure, GCS). The list engine upgrades to it when present;
// other backends are served by the client-side filtered path. The prefix is
// a raw string, not a Path: paginated backends match it as a key prefix, so
// it need not end on a segment boundary.
type PaginatedLister interface {
	ListPaginated(ctx context.Context, prefix string, opts PaginatedListOptions) (PaginatedListResult, error)
}
