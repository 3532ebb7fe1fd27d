package objstore

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

// errStreamEnd signals stream exhaustion from MetaStream.Next and
// ListStream.Next. It is io.EOF so callers can use the familiar idiom.
var errStreamEnd = io.EOF

// DefaultChunkSize is the default number of metas per ListStream chunk.
const DefaultChunkSize = 50

// ListOption configures the List engine.
type ListOption func(*listConfig)

type listConfig struct {
	offset    string
	chunkSize int
}

// WithOffset resumes the listing after the given key: all keys
// lexicographically <= offset are skipped.
func WithOffset(offset string) ListOption {
	return func(c *listConfig) { c.offset = offset }
}

// WithChunkSize bounds how many metas each ListStream.Next call returns.
// It bounds memory use per pull, not the total result size.
func WithChunkSize(n int) ListOption {
	return func(c *listConfig) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// List starts a lazy, chunked listing of all keys under prefix.
//
// Backends with server-side pagination (those implementing PaginatedLister)
// are driven page by page, threading the page token; for the rest, the
// prefix is split at its last delimiter into a directory prefix listed
// natively and a trailing filename-substring filter applied client-side. The
// filtered path degrades to O(children of the directory prefix) rather than
// O(matches), which is the documented cost of backends without pagination.
//
// The prefix is a raw string, not a Path, so it may end mid-segment
// ("logs/2024-" matches keys by string prefix on paginated backends).
func List(ctx context.Context, store ObjectStore, prefix string, opts ...ListOption) *ListStream {
	cfg := listConfig{chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	var src MetaStream
	if pl, ok := paginationCapability(store); ok {
		src = &paginatedMetaStream{
			store:    pl,
			prefix:   prefix,
			offset:   cfg.offset,
			pageSize: cfg.chunkSize,
		}
	} else {
		src = newFilteredMetaStream(ctx, store, prefix, cfg.offset)
	}
	return &ListStream{src: src, chunkSize: cfg.chunkSize}
}

// paginationCapability reports whether store can serve true server-side
// pagination. Decorators forward the question to the store they wrap: their
// own ListPaginated methods exist unconditionally, so a bare type assertion
// would misclassify a decorated local store.
func paginationCapability(store ObjectStore) (PaginatedLister, bool) {
	switch s := store.(type) {
	case *MaybePrefixedStore:
		if _, ok := paginationCapability(s.inner); ok {
			return s, true
		}
		return nil, false
	case *InstrumentedStore:
		if _, ok := paginationCapability(s.inner); ok {
			return s, true
		}
		return nil, false
	case PaginatedLister:
		return s, true
	default:
		return nil, false
	}
}

// ListStream is a chunked pull interface over a lazy listing.
//
// The stream is fused: once Next has reported an error or io.EOF, every
// further call deterministically returns io.EOF. The internal cursor is
// guarded by a mutex, so concurrent Next calls on the same handle serialize
// rather than race (safe, not parallel).
type ListStream struct {
	mu        sync.Mutex
	src       MetaStream
	chunkSize int
	done      bool
}

// Next returns the next chunk of metas. Chunks are full (chunkSize entries)
// until the underlying stream ends, at which point a final partial chunk may
// be returned; the exhaustion signal itself is io.EOF with a nil chunk, so a
// consumer can always tell "items, more may come" from "stream closed".
//
// A page-fetch error terminates the stream and is returned to the caller;
// the error is never swallowed.
func (s *ListStream) Next(ctx context.Context) ([]ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, errStreamEnd
	}

	var chunk []ObjectMeta
	for len(chunk) < s.chunkSize {
		meta, err := s.src.Next(ctx)
		if err == errStreamEnd {
			s.done = true
			if len(chunk) == 0 {
				return nil, errStreamEnd
			}
			return chunk, nil
		}
		if err != nil {
			s.done = true
			return nil, err
		}
		chunk = append(chunk, meta)
	}
	return chunk, nil
}

// Collect drains the whole stream into one slice, ignoring chunking. Memory
// use is unbounded; that is the caller's choice.
func (s *ListStream) Collect(ctx context.Context) ([]ObjectMeta, error) {
	var all []ObjectMeta
	for {
		chunk, err := s.Next(ctx)
		if err == errStreamEnd {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}
}

// paginatedMetaStream flattens successive ListPaginated pages into one meta
// stream. It stops when a page comes back without a continuation token.
type paginatedMetaStream struct {
	store    PaginatedLister
	prefix   string
	offset   string
	pageSize int

	token     string
	buf       []ObjectMeta
	i         int
	exhausted bool
}

func (s *paginatedMetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	for {
		if s.i < len(s.buf) {
			meta := s.buf[s.i]
			s.i++
			return meta, nil
		}
		if s.exhausted {
			return ObjectMeta{}, errStreamEnd
		}

		res, err := s.store.ListPaginated(ctx, s.prefix, PaginatedListOptions{
			Offset:    s.offset,
			MaxKeys:   s.pageSize,
			PageToken: s.token,
		})
		if err != nil {
			s.exhausted = true
			return ObjectMeta{}, err
		}
		s.token = res.PageToken
		s.exhausted = res.PageToken == ""
		s.buf = res.Result.Objects
		s.i = 0
	}
}

// newFilteredMetaStream serves backends without server-side pagination. The
// raw prefix is split at the last delimiter: the directory part is listed
// through the store's native call, the trailing part becomes a substring
// filter on filenames.
func newFilteredMetaStream(ctx context.Context, store ObjectStore, prefix, offset string) MetaStream {
	var dirPrefix, substr string
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		dirPrefix, substr = prefix[:i], prefix[i+1:]
	} else {
		substr = prefix
	}

	dir, err := parseListPrefix(dirPrefix)
	if err != nil {
		return &errMetaStream{err: err}
	}

	var base MetaStream
	if offset != "" {
		base = store.ListWithOffset(ctx, dir, opathFromOffset(offset))
	} else {
		base = store.List(ctx, dir)
	}
	if substr == "" {
		return base
	}
	return &filteredMetaStream{src: base, substr: substr}
}

func parseListPrefix(raw string) (opath.Path, error) {
	p, err := opath.Parse(raw)
	if err != nil {
		return opath.Path{}, &Error{Kind: KindInvalidPath, Path: raw, Err: err}
	}
	return p, nil
}

func opathFromOffset(offset string) opath.Path {
	return opath.FromRaw(offset)
}

type filteredMetaStream struct {
	src    MetaStream
	substr string
}

func (s *filteredMetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	for {
		meta, err := s.src.Next(ctx)
		if err != nil {
			return ObjectMeta{}, err
		}
		if strings.Contains(meta.Location.Filename(), s.substr) {
			return meta, nil
		}
	}
}
