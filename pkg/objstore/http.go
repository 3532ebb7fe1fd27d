package objstore

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

// HTTPStore talks plain HTTP with WebDAV extensions: MKCOL for intermediate
// collections, PROPFIND for listings, COPY and MOVE for server-side renames.
// Servers without the DAV verbs still support Put, Get, Head and Delete.
//
// Multipart uploads are not provided; Upload falls back to a single Put.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
	retry  RetryConfig
}

// HTTPOpts configures NewHTTPStore.
type HTTPOpts struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// Retry defaults to DefaultRetryConfig.
	Retry *RetryConfig
	// Header is attached to every request, e.g. Authorization.
	Header http.Header
}

type headerRoundTripper struct {
	next   http.RoundTripper
	header http.Header
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return t.next.RoundTrip(req)
}

var _ ObjectStore = &HTTPStore{}

// NewHTTPStore creates a store rooted at baseURL.
func NewHTTPStore(baseURL string, opts HTTPOpts) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	if len(opts.Header) > 0 {
		next := client.Transport
		if next == nil {
			next = http.DefaultTransport
		}
		wrapped := *client
		wrapped.Transport = &headerRoundTripper{next: next, header: opts.Header}
		client = &wrapped
	}

	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &HTTPStore{base: u, client: client, retry: retry}, nil
}

func (s *HTTPStore) String() string {
	return fmt.Sprintf("HTTP(%s)", s.base)
}

func (s *HTTPStore) urlFor(location opath.Path) string {
	u := *s.base
	u.Path = s.base.Path + "/" + location.String()
	return u.String()
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// do runs one request builder under the retry policy. The builder is called
// once per attempt so request bodies are fresh.
func (s *HTTPStore) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	if s.retry.RetryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.retry.RetryTimeout)
		defer cancel()
	}
	bo := newBackoff(s.retry.Backoff)
	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server returned %s", resp.Status)
			_ = resp.Body.Close()
		}
		if attempt >= s.retry.MaxRetries {
			return nil, lastErrWithAttempts(lastErr, attempt+1)
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-time.After(bo.sleep()):
		}
	}
}

func lastErrWithAttempts(err error, attempts int) error {
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func (s *HTTPStore) statusErr(location opath.Path, resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return notFoundErr(s.String(), location, err)
	case http.StatusPreconditionFailed:
		return preconditionErr(s.String(), location, err)
	case http.StatusNotModified:
		return notModifiedErr(s.String(), location, err)
	case http.StatusUnauthorized:
		return &Error{Kind: KindUnauthenticated, Store: s.String(), Path: location.String(), Err: err}
	case http.StatusForbidden:
		return &Error{Kind: KindPermissionDenied, Store: s.String(), Path: location.String(), Err: err}
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return notSupportedErr(s.String(), resp.Request.Method)
	default:
		return genericErr(s.String(), location, err)
	}
}

func (s *HTTPStore) Put(ctx context.Context, location opath.Path, payload []byte, opts PutOptions) (PutResult, error) {
	header := http.Header{}
	switch opts.Mode {
	case ModeCreate:
		header.Set("If-None-Match", "*")
	case ModeUpdate:
		if opts.Update.ETag == "" {
			return PutResult{}, preconditionErr(s.String(), location, fmt.Errorf("update mode requires an etag"))
		}
		header.Set("If-Match", opts.Update.ETag)
	}

	resp, err := s.putRaw(ctx, location, payload, header)
	if err != nil {
		return PutResult{}, genericErr(s.String(), location, err)
	}
	if resp.StatusCode == http.StatusConflict {
		// Missing intermediate collections; create them and retry once.
		_ = resp.Body.Close()
		if err := s.mkcolParents(ctx, location); err != nil {
			return PutResult{}, err
		}
		if resp, err = s.putRaw(ctx, location, payload, header); err != nil {
			return PutResult{}, genericErr(s.String(), location, err)
		}
	}
	if resp.StatusCode == http.StatusPreconditionFailed && opts.Mode == ModeCreate {
		_ = resp.Body.Close()
		return PutResult{}, alreadyExistsErr(s.String(), location, fmt.Errorf("object already exists"))
	}
	if resp.StatusCode/100 != 2 {
		return PutResult{}, s.statusErr(location, resp)
	}
	defer resp.Body.Close()
	return PutResult{ETag: unquoteETag(resp.Header.Get("ETag"))}, nil
}

func (s *HTTPStore) putRaw(ctx context.Context, location opath.Path, payload []byte, header http.Header) (*http.Response, error) {
	return s.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.urlFor(location), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			req.Header[k] = vs
		}
		req.ContentLength = int64(len(payload))
		return req, nil
	})
}

// mkcolParents issues MKCOL for each ancestor collection of location,
// shallowest first. Existing collections answer 405 and are skipped.
func (s *HTTPStore) mkcolParents(ctx context.Context, location opath.Path) error {
	parts := location.Parts()
	for i := 1; i < len(parts); i++ {
		dir := opath.FromParts(parts[:i]...)
		resp, err := s.do(ctx, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, "MKCOL", s.urlFor(dir)+"/", nil)
		})
		if err != nil {
			return genericErr(s.String(), dir, err)
		}
		_ = resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusCreated, http.StatusOK, http.StatusMethodNotAllowed, http.StatusConflict:
		default:
			return genericErr(s.String(), dir, fmt.Errorf("MKCOL returned %s", resp.Status))
		}
	}
	return nil
}

func unquoteETag(v string) string {
	v = strings.TrimPrefix(v, "W/")
	return strings.Trim(v, `"`)
}

func (s *HTTPStore) Get(ctx context.Context, location opath.Path, opts GetOptions) (*GetResult, error) {
	if opts.Version != "" {
		return nil, notSupportedErr(s.String(), "get by explicit version")
	}
	method := http.MethodGet
	if opts.Head {
		method = http.MethodHead
	}
	resp, err := s.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, s.urlFor(location), nil)
		if err != nil {
			return nil, err
		}
		if opts.IfMatch != "" {
			req.Header.Set("If-Match", opts.IfMatch)
		}
		if opts.IfNoneMatch != "" {
			req.Header.Set("If-None-Match", opts.IfNoneMatch)
		}
		if !opts.IfModifiedSince.IsZero() {
			req.Header.Set("If-Modified-Since", opts.IfModifiedSince.UTC().Format(http.TimeFormat))
		}
		if !opts.IfUnmodifiedSince.IsZero() {
			req.Header.Set("If-Unmodified-Since", opts.IfUnmodifiedSince.UTC().Format(http.TimeFormat))
		}
		if opts.Range != nil {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", opts.Range.Start, opts.Range.End-1))
		}
		return req, nil
	})
	if err != nil {
		return nil, genericErr(s.String(), location, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, s.statusErr(location, resp)
	}

	meta := s.metaFromHeaders(location, resp)
	rng := Range{Start: 0, End: meta.Size}
	if resp.StatusCode == http.StatusPartialContent {
		if start, end, ok := parseContentRange(resp.Header.Get("Content-Range")); ok {
			rng = Range{Start: start, End: end}
			meta.Size = total(resp.Header.Get("Content-Range"), meta.Size)
		}
	}
	if opts.Head {
		_ = resp.Body.Close()
		return &GetResult{Meta: meta, Range: rng, Body: emptyBody(), store: s.String()}, nil
	}
	return &GetResult{Meta: meta, Range: rng, Body: resp.Body, store: s.String()}, nil
}

func (s *HTTPStore) metaFromHeaders(location opath.Path, resp *http.Response) ObjectMeta {
	meta := ObjectMeta{Location: location, ETag: unquoteETag(resp.Header.Get("ETag"))}
	if v := resp.Header.Get("Content-Length"); v != "" {
		meta.Size, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			meta.LastModified = t.UTC()
		}
	}
	return meta
}

// parseContentRange handles "bytes start-end/total".
func parseContentRange(v string) (start, end int64, ok bool) {
	v = strings.TrimPrefix(v, "bytes ")
	span, _, found := strings.Cut(v, "/")
	if !found {
		return 0, 0, false
	}
	lo, hi, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, false
	}
	start, err1 := strconv.ParseInt(lo, 10, 64)
	last, err2 := strconv.ParseInt(hi, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return start, last + 1, true
}

func total(contentRange string, fallback int64) int64 {
	_, totalPart, found := strings.Cut(contentRange, "/")
	if !found || totalPart == "*" {
		return fallback
	}
	n, err := strconv.ParseInt(totalPart, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func (s *HTTPStore) GetRange(ctx context.Context, location opath.Path, rng Range) ([]byte, error) {
	res, err := s.Get(ctx, location, GetOptions{Range: &rng})
	if err != nil {
		return nil, err
	}
	return res.Bytes()
}

func (s *HTTPStore) GetRanges(ctx context.Context, location opath.Path, ranges []Range) ([][]byte, error) {
	return getRangesCommon(ctx, s, location, ranges)
}

func (s *HTTPStore) Head(ctx context.Context, location opath.Path) (ObjectMeta, error) {
	res, err := s.Get(ctx, location, GetOptions{Head: true})
	if err != nil {
		return ObjectMeta{}, err
	}
	return res.Meta, nil
}

func (s *HTTPStore) Delete(ctx context.Context, location opath.Path) error {
	resp, err := s.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodDelete, s.urlFor(location), nil)
	})
	if err != nil {
		return genericErr(s.String(), location, err)
	}
	if resp.StatusCode/100 != 2 {
		return s.statusErr(location, resp)
	}
	_ = resp.Body.Close()
	return nil
}

// davMultistatus is the subset of the PROPFIND response body we read.
type davMultistatus struct {
	XMLName   xml.Name      `xml:"multistatus"`
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href     string `xml:"href"`
	Propstat []struct {
		Status string `xml:"status"`
		Prop   struct {
			LastModified string  `xml:"getlastmodified"`
			Length       int64   `xml:"getcontentlength"`
			ETag         string  `xml:"getetag"`
			ResourceType davType `xml:"resourcetype"`
		} `xml:"prop"`
	} `xml:"propstat"`
}

type davType struct {
	Collection *struct{} `xml:"collection"`
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<propfind xmlns="DAV:"><prop>
<getlastmodified xmlns="DAV:"/>
<getcontentlength xmlns="DAV:"/>
<getetag xmlns="DAV:"/>
<resourcetype xmlns="DAV:"/>
</prop></propfind>`

// propfind lists resources under prefix at the given Depth header value.
func (s *HTTPStore) propfind(ctx context.Context, prefix opath.Path, depth string) (*davMultistatus, error) {
	target := s.urlFor(prefix)
	if prefix.IsEmpty() {
		target = s.base.String() + "/"
	}
	resp, err := s.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "PROPFIND", target, strings.NewReader(propfindBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Depth", depth)
		req.Header.Set("Content-Type", "text/xml")
		return req, nil
	})
	if err != nil {
		return nil, genericErr(s.String(), prefix, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return &davMultistatus{}, nil
	}
	if resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return nil, notSupportedErr(s.String(), "PROPFIND")
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, genericErr(s.String(), prefix, fmt.Errorf("PROPFIND returned %s: %s", resp.Status, strings.TrimSpace(string(body))))
	}

	var ms davMultistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, genericErr(s.String(), prefix, fmt.Errorf("decode multistatus: %w", err))
	}
	return &ms, nil
}

// metaFromResponse converts one multistatus entry, returning ok=false for
// collections and entries outside the store root.
func (s *HTTPStore) metaFromResponse(r davResponse) (ObjectMeta, bool) {
	var meta ObjectMeta
	found := false
	for _, ps := range r.Propstat {
		if ps.Status != "" && !strings.Contains(ps.Status, "200") {
			continue
		}
		if ps.Prop.ResourceType.Collection != nil {
			return ObjectMeta{}, false
		}
		meta.Size = ps.Prop.Length
		meta.ETag = unquoteETag(ps.Prop.ETag)
		if ps.Prop.LastModified != "" {
			if t, err := http.ParseTime(ps.Prop.LastModified); err == nil {
				meta.LastModified = t.UTC()
			}
		}
		found = true
	}
	if !found {
		return ObjectMeta{}, false
	}

	href, err := url.PathUnescape(r.Href)
	if err != nil {
		href = r.Href
	}
	// Href may be absolute; keep only the path below the store root.
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	rel := strings.TrimPrefix(href, s.base.Path)
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return ObjectMeta{}, false
	}
	meta.Location = opath.FromRaw(rel)
	return meta, true
}

func (s *HTTPStore) listAll(ctx context.Context, prefix opath.Path) ([]ObjectMeta, error) {
	ms, err := s.propfind(ctx, prefix, "infinity")
	if err != nil {
		return nil, err
	}
	var metas []ObjectMeta
	for _, r := range ms.Responses {
		meta, ok := s.metaFromResponse(r)
		if !ok {
			continue
		}
		if !prefix.IsEmpty() && !meta.Location.HasPrefix(prefix) {
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return opath.Compare(metas[i].Location, metas[j].Location) < 0
	})
	return metas, nil
}

func (s *HTTPStore) List(ctx context.Context, prefix opath.Path) MetaStream {
	metas, err := s.listAll(ctx, prefix)
	if err != nil {
		return &errMetaStream{err: err}
	}
	return newSliceMetaStream(metas)
}

func (s *HTTPStore) ListWithOffset(ctx context.Context, prefix, offset opath.Path) MetaStream {
	metas, err := s.listAll(ctx, prefix)
	if err != nil {
		return &errMetaStream{err: err}
	}
	kept := metas[:0]
	for _, meta := range metas {
		if meta.Location.String() > offset.String() {
			kept = append(kept, meta)
		}
	}
	return newSliceMetaStream(kept)
}

func (s *HTTPStore) ListWithDelimiter(ctx context.Context, prefix opath.Path) (ListResult, error) {
	ms, err := s.propfind(ctx, prefix, "1")
	if err != nil {
		return ListResult{}, err
	}
	var out ListResult
	for _, r := range ms.Responses {
		meta, ok := s.metaFromResponse(r)
		if ok {
			if !prefix.IsEmpty() && !meta.Location.HasPrefix(prefix) {
				continue
			}
			if meta.Location.String() == prefix.String() {
				continue
			}
			out.Objects = append(out.Objects, meta)
			continue
		}
		// A collection below prefix is a common prefix.
		href, err := url.PathUnescape(r.Href)
		if err != nil {
			continue
		}
		if u, err := url.Parse(href); err == nil {
			href = u.Path
		}
		rel := strings.Trim(strings.TrimPrefix(href, s.base.Path), "/")
		if rel == "" || rel == prefix.String() {
			continue
		}
		p := opath.FromRaw(rel)
		if !prefix.IsEmpty() && !p.HasPrefix(prefix) {
			continue
		}
		out.CommonPrefixes = append(out.CommonPrefixes, p)
	}
	sort.Slice(out.Objects, func(i, j int) bool {
		return opath.Compare(out.Objects[i].Location, out.Objects[j].Location) < 0
	})
	sort.Slice(out.CommonPrefixes, func(i, j int) bool {
		return opath.Compare(out.CommonPrefixes[i], out.CommonPrefixes[j]) < 0
	})
	return out, nil
}

func (s *HTTPStore) davCopyMove(ctx context.Context, method string, from, to opath.Path, overwrite bool) error {
	resp, err := s.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, s.urlFor(from), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Destination", s.urlFor(to))
		if overwrite {
			req.Header.Set("Overwrite", "T")
		} else {
			req.Header.Set("Overwrite", "F")
		}
		return req, nil
	})
	if err != nil {
		return genericErr(s.String(), from, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode == http.StatusPreconditionFailed && !overwrite:
		return alreadyExistsErr(s.String(), to, fmt.Errorf("destination already exists"))
	case resp.StatusCode == http.StatusNotFound:
		return notFoundErr(s.String(), from, fmt.Errorf("source not found"))
	case resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented:
		return notSupportedErr(s.String(), method)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return genericErr(s.String(), from, fmt.Errorf("%s returned %s: %s", method, resp.Status, strings.TrimSpace(string(body))))
	}
}

func (s *HTTPStore) Copy(ctx context.Context, from, to opath.Path) error {
	return s.davCopyMove(ctx, "COPY", from, to, true)
}

func (s *HTTPStore) CopyIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.davCopyMove(ctx, "COPY", from, to, false)
}

func (s *HTTPStore) Rename(ctx context.Context, from, to opath.Path) error {
	return s.davCopyMove(ctx, "MOVE", from, to, true)
}

func (s *HTTPStore) RenameIfNotExists(ctx context.Context, from, to opath.Path) error {
	return s.davCopyMove(ctx, "MOVE", from, to, false)
}

func (s *HTTPStore) Multipart(ctx context.Context, location opath.Path) (MultipartUpload, error) {
	return nil, notSupportedErr(s.String(), "multipart upload")
}
