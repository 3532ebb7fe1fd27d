package objstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

const (
	// DefaultPartSize is the default multipart part size (5 MiB, the
	// smallest part most backends accept).
	DefaultPartSize = 5 * 1024 * 1024
	// DefaultMaxConcurrency bounds how many part uploads may be in flight
	// for one WriteMultipart.
	DefaultMaxConcurrency = 12
)

// WriteMultipart drives one chunked upload: it assigns part indexes in write
// order, runs part uploads with bounded concurrency, and finalizes or aborts
// the upload transactionally.
//
// State machine: created -> uploading parts -> completing -> completed |
// aborted. Once Finish or Abort has been called the writer is consumed and
// further use fails with KindAlreadyConsumed.
type WriteMultipart struct {
	upload MultipartUpload
	g      *errgroup.Group
	gctx   context.Context

	mu      sync.Mutex
	nextIdx int
	done    bool
}

// NewWriteMultipart wraps an in-progress backend upload. maxConcurrency <= 0
// uses DefaultMaxConcurrency.
func NewWriteMultipart(ctx context.Context, upload MultipartUpload, maxConcurrency int) *WriteMultipart {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	return &WriteMultipart{upload: upload, g: g, gctx: gctx}
}

// Write schedules one chunk as the next part. When maxConcurrency part
// uploads are already in flight, Write blocks until capacity frees up; this
// is the engine's backpressure gate, not unbounded fan-out. The chunk is
// copied, so the caller may reuse its buffer.
//
// Part upload failures surface from Finish (or from a later Write).
func (w *WriteMultipart) Write(data []byte) error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return &Error{Kind: KindAlreadyConsumed, Err: fmt.Errorf("multipart writer already finished or aborted")}
	}
	idx := w.nextIdx
	w.nextIdx++
	w.mu.Unlock()

	buf := slices.Clone(data)
	// Go blocks while the group is at its limit.
	w.g.Go(func() error {
		return w.upload.UploadPart(w.gctx, idx, buf)
	})
	return nil
}

// Finish waits for all outstanding parts, then assembles the final object
// and returns its PutResult. If any part failed, the upload is aborted
// server-side first (releasing orphaned parts) and the original part error is
// returned; a failure of the abort itself is logged, never masking the part
// error.
func (w *WriteMultipart) Finish(ctx context.Context) (PutResult, error) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return PutResult{}, &Error{Kind: KindAlreadyConsumed, Err: fmt.Errorf("multipart writer already finished or aborted")}
	}
	w.done = true
	w.mu.Unlock()

	if err := w.g.Wait(); err != nil {
		if abortErr := w.upload.Abort(ctx); abortErr != nil {
			slog.Warn("multipart abort failed after part error",
				slog.String("module", "objstore"),
				slog.String("error", abortErr.Error()),
			)
		}
		return PutResult{}, err
	}
	return w.upload.Complete(ctx)
}

// Abort cancels the upload: it waits out in-flight parts, then releases any
// uncommitted parts server-side.
func (w *WriteMultipart) Abort(ctx context.Context) error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return &Error{Kind: KindAlreadyConsumed, Err: fmt.Errorf("multipart writer already finished or aborted")}
	}
	w.done = true
	w.mu.Unlock()

	_ = w.g.Wait()
	return w.upload.Abort(ctx)
}

// UploadOption configures the Upload helper.
type UploadOption func(*uploadConfig)

type uploadConfig struct {
	partSize       int
	maxConcurrency int
	putOpts        PutOptions
	useMultipart   *bool
}

// WithPartSize sets the chunk size for multipart uploads and the single-shot
// threshold.
func WithPartSize(n int) UploadOption {
	return func(c *uploadConfig) {
		if n > 0 {
			c.partSize = n
		}
	}
}

// WithMaxConcurrency bounds concurrent part uploads.
func WithMaxConcurrency(n int) UploadOption {
	return func(c *uploadConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithPutOptions sets the write mode. Any mode other than ModeOverwrite
// forces a single-shot put: conditional semantics do not compose with a
// multi-request multipart protocol, so large conditional payloads are
// uploaded in one request. This is a documented limitation.
func WithPutOptions(opts PutOptions) UploadOption {
	return func(c *uploadConfig) { c.putOpts = opts }
}

// WithUseMultipart overrides the size-based multipart inference.
func WithUseMultipart(use bool) UploadOption {
	return func(c *uploadConfig) { c.useMultipart = &use }
}

// Upload writes the content of r to location, choosing between a single-shot
// put and a chunked multipart upload.
//
// When r implements io.Seeker the size is measured; inputs no larger than
// the part size go through one Put. Unseekable inputs of unknown size use
// multipart (unless the mode forbids it, in which case the whole input is
// buffered for a single conditional put).
func Upload(ctx context.Context, store ObjectStore, location opath.Path, r io.Reader, opts ...UploadOption) (PutResult, error) {
	cfg := uploadConfig{partSize: DefaultPartSize, maxConcurrency: DefaultMaxConcurrency}
	for _, opt := range opts {
		opt(&cfg)
	}

	size := int64(-1)
	if s, ok := r.(io.Seeker); ok {
		var err error
		if size, err = measureSize(s); err != nil {
			return PutResult{}, genericErr(store.String(), location, err)
		}
	}

	useMultipart := size < 0 || size > int64(cfg.partSize)
	if cfg.useMultipart != nil {
		useMultipart = *cfg.useMultipart
	}
	if cfg.putOpts.Mode != ModeOverwrite {
		useMultipart = false
	}

	if !useMultipart {
		payload, err := io.ReadAll(r)
		if err != nil {
			return PutResult{}, genericErr(store.String(), location, err)
		}
		return store.Put(ctx, location, payload, cfg.putOpts)
	}

	upload, err := store.Multipart(ctx, location)
	if err != nil {
		return PutResult{}, err
	}
	w := NewWriteMultipart(ctx, upload, cfg.maxConcurrency)

	buf := make([]byte, cfg.partSize)
	for {
		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if err := w.Write(buf[:n]); err != nil {
				_ = w.Abort(ctx)
				return PutResult{}, err
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			_ = w.Abort(ctx)
			return PutResult{}, genericErr(store.String(), location, readErr)
		}
	}
	return w.Finish(ctx)
}

func measureSize(s io.Seeker) (int64, error) {
	cur, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := s.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end - cur, nil
}
