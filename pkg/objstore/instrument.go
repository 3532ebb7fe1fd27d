package objstore

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hashmap-kz/objstore/pkg/metrics"
	"github.com/hashmap-kz/objstore/pkg/opath"
)

const tracerName = "github.com/hashmap-kz/objstore"

// InstrumentedStore wraps a store and records one trace span per operation,
// plus optional per-operation counters through a metrics registry. Errors
// and results pass through unchanged; only observability is added.
type InstrumentedStore struct {
	inner  ObjectStore
	name   string
	tracer trace.Tracer
	ops    metrics.Registry
}

// InstrumentOption configures an InstrumentedStore.
type InstrumentOption func(*InstrumentedStore)

// WithTracerProvider overrides the global otel tracer provider.
func WithTracerProvider(tp trace.TracerProvider) InstrumentOption {
	return func(s *InstrumentedStore) { s.tracer = tp.Tracer(tracerName) }
}

// WithMetrics wires a registry for per-operation counters.
func WithMetrics(reg metrics.Registry) InstrumentOption {
	return func(s *InstrumentedStore) { s.ops = reg }
}

var (
	_ ObjectStore     = &InstrumentedStore{}
	_ PaginatedLister = &InstrumentedStore{}
)

// NewInstrumentedStore wraps inner; name identifies the store in spans.
func NewInstrumentedStore(inner ObjectStore, name string, opts ...InstrumentOption) *InstrumentedStore {
	s := &InstrumentedStore{
		inner:  inner,
		name:   name,
		tracer: otel.Tracer(tracerName),
		ops:    metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inner returns the wrapped store.
func (s *InstrumentedStore) Inner() ObjectStore { return s.inner }

func (s *InstrumentedStore) String() string {
	return fmt.Sprintf("InstrumentedStore(%s)", s.inner)
}

func (s *InstrumentedStore) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	base := []attribute.KeyValue{attribute.String("objstore.store", s.name)}
	ctx, span := s.tracer.Start(ctx, "objstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(base, attrs...)...),
	)
	s.ops.Counter("objstore_"+op+"_total", "Total "+op+" operations issued.").Inc()
	return ctx, span
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func pathAttr(location opath.Path) attribute.KeyValue {
	return attribute.String("objstore.path", location.String())
}

func (s *InstrumentedStore) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	ctx, span := s.start(ctx, "put", pathAttr(location),
		attribute.Int("objstore.size", len(payload)),
		attribute.String("objstore.mode", opts.Mode.String()),
	)
	res, err := s.inner.Put(ctx, location, payload, opts)
	if err == nil {
		span.SetAttributes(attribute.String("objstore.result.e_tag", res.ETag))
	}
	finish(span, err)
	return res, err
}

func (s *InstrumentedStore) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	ctx, span := s.start(ctx, "get", pathAttr(location), attribute.Bool("objstore.head", opts.Head))
	res, err := s.inner.Get(ctx, location, opts)
	if err == nil {
		span.SetAttributes(
			attribute.Int64("objstore.result.size", res.Meta.Size),
			attribute.String("objstore.result.range", res.Range.String()),
		)
	}
	finish(span, err)
	return res, err
}

func (s *InstrumentedStore) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	ctx, span := s.start(ctx, "get_range", pathAttr(location), attribute.String("objstore.range", rng.String()))
	data, err := s.inner.GetRange(ctx, location, rng)
	if err == nil {
		span.SetAttributes(attribute.Int("objstore.result.content_length", len(data)))
	}
	finish(span, err)
	return data, err
}

func (s *InstrumentedStore) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	ctx, span := s.start(ctx, "get_ranges", pathAttr(location), attribute.Int("objstore.range_count", len(ranges)))
	data, err := s.inner.GetRanges(ctx, location, ranges)
	if err == nil {
		total := 0
		for _, b := range data {
			total += len(b)
		}
		span.SetAttributes(attribute.Int("objstore.result.content_length", total))
	}
	finish(span, err)
	return data, err
}

func (s *InstrumentedStore) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	ctx, span := s.start(ctx, "head", pathAttr(location))
	meta, err := s.inner.Head(ctx, location)
	if err == nil {
		span.SetAttributes(attribute.Int64("objstore.result.size", meta.Size))
	}
	finish(span, err)
	return meta, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, location opath.Path) error {
	ctx, span := s.start(ctx, "delete", pathAttr(location))
	err := s.inner.Delete(ctx, location)
	finish(span, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, prefix opath.Path) MetaStream {
	// List itself does no I/O; spans are recorded around each page pull by
	// the instrumented stream.
	return &instrumentedMetaStream{src: s.inner.List(ctx, prefix), store: s, op: "list"}
}

func (s *InstrumentedStore) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	return &instrumentedMetaStream{src: s.inner.ListWithOffset(ctx, prefix, offset), store: s, op: "list_with_offset"}
}

type instrumentedMetaStream struct {
	src   MetaStream
	store *InstrumentedStore
	op    string
}

func (m *instrumentedMetaStream) Next(ctx context.Context) (ObjectMeta, error) {
	meta, err := m.src.Next(ctx)
	if err != nil && err != errStreamEnd {
		_, span := m.store.start(ctx, m.op)
		finish(span, err)
	}
	return meta, err
}

func (s *InstrumentedStore) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	ctx, span := s.start(ctx, "list_with_delimiter", attribute.String("objstore.prefix", prefix.String()))
	res, err := s.inner.ListWithDelimiter(ctx, prefix)
	if err == nil {
		span.SetAttributes(
			attribute.Int("objstore.result.object_count", len(res.Objects)),
			attribute.Int("objstore.result.common_prefix_count", len(res.CommonPrefixes)),
		)
	}
	finish(span, err)
	return res, err
}

func (s *InstrumentedStore) copyOp(ctx context.Context, op string, from, to opath.Path, fn func(ctx context.Context, from, to opath.Path) error) error {
	ctx, span := s.start(ctx, op,
		attribute.String("objstore.from", from.String()),
		attribute.String("objstore.to", to.String()),
	)
	err := fn(ctx, from, to)
	finish(span, err)
	return err
}

func (s *InstrumentedStore) Copy(ctx context.Context, from, to opath.Path) error {
	return s.copyOp(ctx, "copy", from, to, s.inner.Copy)
}

func (s *InstrumentedStore) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.copyOp(ctx, "copy_if_not_exists", from, to, s.inner.CopyIfNotExists)
}

func (s *InstrumentedStore) Rename(ctx context.Context, from, to opath.Path) error {
	return s.copyOp(ctx, "rename", from, to, s.inner.Rename)
}

func (s *InstrumentedStore) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.copyOp(ctx, "rename_if_not_exists", from, to, s.inner.RenameIfNotExists)
}

func (s *InstrumentedStore) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	ctx, span := s.start(ctx, "create_multipart", pathAttr(location))
	up, err := s.inner.Multipart(ctx, location)
	finish(span, err)
	if err != nil {
		return nil, err
	}
	return up, nil
}

// ListPaginated delegates when the inner store supports pagination; the list
// engine routes here via the capability check so each page fetch gets a span.
func (s *InstrumentedStore) ListPaginated(ctx context.Context, prefix string, opts PaginatedListOptions) (PaginatedListResult, error) {
	pl, ok := paginationCapability(s.inner)
	if !ok {
		return PaginatedListResult{}, notSupportedErr(s.String(), "list_paginated")
	}
	ctx, span := s.start(ctx, "list_page",
		attribute.String("objstore.prefix", prefix),
		attribute.Int("objstore.max_keys", opts.MaxKeys),
	)
	res, err := pl.ListPaginated(ctx, prefix, opts)
	if err == nil {
		span.SetAttributes(attribute.Int("objstore.result.object_count", len(res.Result.Objects)))
	}
	finish(span, err)
	return res, err
}
