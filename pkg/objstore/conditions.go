package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// emptyBody is the zero-length body attached to head-style GetResults.
func emptyBody() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(nil))
}

// evalGetConditions applies the conditional-get rules against known metadata.
// Used by backends that keep metadata locally (memory, local fs); the cloud
// backends delegate the same rules to their servers via request headers.
func evalGetConditions(store string, meta ObjectMeta, opts GetOptions) error {
	if opts.IfMatch != "" && opts.IfMatch != meta.ETag {
		return preconditionErr(store, meta.Location, fmt.Errorf("etag %q does not match %q", meta.ETag, opts.IfMatch))
	}
	if !opts.IfUnmodifiedSince.IsZero() && meta.LastModified.After(opts.IfUnmodifiedSince) {
		return preconditionErr(store, meta.Location, fmt.Errorf("modified at %s", meta.LastModified))
	}
	if opts.IfNoneMatch != "" && opts.IfNoneMatch == meta.ETag {
		return notModifiedErr(store, meta.Location, nil)
	}
	if !opts.IfModifiedSince.IsZero() && !meta.LastModified.After(opts.IfModifiedSince) {
		return notModifiedErr(store, meta.Location, nil)
	}
	return nil
}

// clampRange validates rng against the object size and returns the effective
// range. Start past the end of the object is an error; End is clamped.
func clampRange(store string, meta ObjectMeta, rng Range) (Range, error) {
	if rng.Start < 0 || rng.End < rng.Start {
		return Range{}, genericErr(store, meta.Location, fmt.Errorf("invalid range %s", rng))
	}
	if rng.Start >= meta.Size && meta.Size > 0 {
		return Range{}, genericErr(store, meta.Location, fmt.Errorf("range %s starts beyond object size %d", rng, meta.Size))
	}
	if rng.End > meta.Size {
		rng.End = meta.Size
	}
	return rng, nil
}

// sliceMetaStream serves an already-materialized listing lazily.
type sliceMetaStream struct {
	metas []ObjectMeta
	i     int
}

func newSliceMetaStream(metas []ObjectMeta) *sliceMetaStream {
	return &sliceMetaStream{metas: metas}
}

func (s *sliceMetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	if err := ctx.Err(); err != nil {
		return ObjectMeta{}, &Error{Kind: KindJoin, Err: err}
	}
	if s.i >= len(s.metas) {
		return ObjectMeta{}, errStreamEnd
	}
	meta := s.metas[s.i]
	s.i++
	return meta, nil
}

// errMetaStream yields a single error and then reports exhaustion.
type errMetaStream struct {
	err error
}

func (s *errMetaStream) Next(context.Context) (ObjectMeta, error) {
	if s.err != nil {
		err := s.err
		s.err = nil
		return ObjectMeta{}, err
	}
	return ObjectMeta{}, errStreamEnd
}
