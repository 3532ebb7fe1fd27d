package objstore

import (
	"context"
	"fmt"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

// MaybePrefixedStore wraps any store with an optional constant path prefix.
// Inbound paths are rewritten to prefix.Join(input) before delegating;
// outbound metadata locations and list results have the prefix stripped back
// off. With an empty prefix the decorator is a plain passthrough.
//
// The Version field of stripped metadata is deliberately cleared: backend
// version identifiers are tied to the full underlying path and are not
// meaningful after prefix translation.
type MaybePrefixedStore struct {
	prefix opath.Path
	inner  ObjectStore
}

var (
	_ ObjectStore     = &MaybePrefixedStore{}
	_ PaginatedLister = &MaybePrefixedStore{}
)

// NewPrefixedStore wraps inner under prefix. An empty prefix yields a
// zero-overhead passthrough.
func NewPrefixedStore(inner ObjectStore, prefix opath.Path) *MaybePrefixedStore {
	return &MaybePrefixedStore{prefix: prefix, inner: inner}
}

// Inner returns the wrapped store.
func (s *MaybePrefixedStore) Inner() ObjectStore { return s.inner }

// Prefix returns the constant prefix, which may be empty.
func (s *MaybePrefixedStore) Prefix() opath.Path { return s.prefix }

func (s *MaybePrefixedStore) String() string {
	if s.prefix.IsEmpty() {
		return s.inner.String()
	}
	return fmt.Sprintf("PrefixObjectStore(%s, %s)", s.prefix, s.inner)
}

func (s *MaybePrefixedStore) fullPath(location opath.Path) opath.Path {
	return s.prefix.Join(location)
}

func (s *MaybePrefixedStore) stripPath(p opath.Path) opath.Path {
	stripped, ok := p.StripPrefix(s.prefix)
	if !ok {
		return p
	}
	return stripped
}

func (s *MaybePrefixedStore) stripMeta(meta ObjectMeta) ObjectMeta {
	meta.Location = s.stripPath(meta.Location)
	meta.Version = ""
	return meta
}

func (s *MaybePrefixedStore) stripListResult(res ListResult) ListResult {
	for i, cp := range res.CommonPrefixes {
		res.CommonPrefixes[i] = s.stripPath(cp)
	}
	for i, meta := range res.Objects {
		res.Objects[i] = s.stripMeta(meta)
	}
	return res
}

func (s *MaybePrefixedStore) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	return s.inner.Put(ctx, s.fullPath(location), payload, opts)
}

func (s *MaybePrefixedStore) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	res, err := s.inner.Get(ctx, s.fullPath(location), opts)
	if err != nil {
		return nil, err
	}
	res.Meta = s.stripMeta(res.Meta)
	return res, nil
}

func (s *MaybePrefixedStore) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	return s.inner.GetRange(ctx, s.fullPath(location), rng)
}

func (s *MaybePrefixedStore) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	return s.inner.GetRanges(ctx, s.fullPath(location), ranges)
}

func (s *MaybePrefixedStore) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	meta, err := s.inner.Head(ctx, s.fullPath(location))
	if err != nil {
		return ObjectMeta{}, err
	}
	return s.stripMeta(meta), nil
}

func (s *MaybePrefixedStore) Delete(ctx context.Context, location opath.Path) error {
	return s.inner.Delete(ctx, s.fullPath(location))
}

// strippedMetaStream rewrites locations on the way out of the inner stream.
type strippedMetaStream struct {
	src   MetaStream
	store *MaybePrefixedStore
}

func (m *strippedMetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	meta, err := m.src.Next(ctx)
	if err != nil {
		return ObjectMeta{}, err
	}
	return m.store.stripMeta(meta), nil
}

func (s *MaybePrefixedStore) List(ctx context.Context, prefix opath.Path) MetaStream {
	return &strippedMetaStream{src: s.inner.List(ctx, s.fullPath(prefix)), store: s}
}

func (s *MaybePrefixedStore) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	return &strippedMetaStream{
		src:   s.inner.ListWithOffset(ctx, s.fullPath(prefix), s.fullPath(offset)),
		store: s,
	}
}

func (s *MaybePrefixedStore) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	res, err := s.inner.ListWithDelimiter(ctx, s.fullPath(prefix))
	if err != nil {
		return ListResult{}, err
	}
	return s.stripListResult(res), nil
}

func (s *MaybePrefixedStore) Copy(ctx context.Context, from, to opath.Path) error {
	return s.inner.Copy(ctx, s.fullPath(from), s.fullPath(to))
}

func (s *MaybePrefixedStore) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.inner.CopyIfNotExists(ctx, s.fullPath(from), s.fullPath(to))
}

func (s *MaybePrefixedStore) Rename(ctx context.Context, from, to opath.Path) error {
	return s.inner.Rename(ctx, s.fullPath(from), s.fullPath(to))
}

func (s *MaybePrefixedStore) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.inner.RenameIfNotExists(ctx, s.fullPath(from), s.fullPath(to))
}

func (s *MaybePrefixedStore) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	return s.inner.Multipart(ctx, s.fullPath(location))
}

// ListPaginated delegates to the inner store when it supports server-side
// pagination, combining the constant prefix with the raw list prefix and
// stripping results. When the inner store has no pagination support the
// returned error is KindNotSupported; the list engine never calls it in that
// case because the capability check happens on the decorated store.
func (s *MaybePrefixedStore) ListPaginated(ctx context.Context, prefix string, opts PaginatedListOptions) (PaginatedListResult, error) {
	pl, ok := s.inner.(PaginatedLister)
	if !ok {
		return PaginatedListResult{}, notSupportedErr(s.String(), "list_paginated")
	}
	full := prefix
	if !s.prefix.IsEmpty() {
		if prefix == "" {
			full = s.prefix.String() + opath.Delimiter
		} else {
			full = s.prefix.String() + opath.Delimiter + prefix
		}
		// the offset compares against prefixed keys inside the backend
		if opts.Offset != "" {
			opts.Offset = s.prefix.String() + opath.Delimiter + opts.Offset
		}
	}
	res, err := pl.ListPaginated(ctx, full, opts)
	if err != nil {
		return PaginatedListResult{}, err
	}
	res.Result = s.stripListResult(res.Result)
	return res, nil
}
