package objstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashmap-kz/objstore/pkg/metrics"
	"github.com/hashmap-kz/objstore/pkg/opath"
)

type countingRegistry struct {
	mu     sync.Mutex
	counts map[string]float64
}

func newCountingRegistry() *countingRegistry {
	return &countingRegistry{counts: make(map[string]float64)}
}

func (r *countingRegistry) Counter(name, _ string) metrics.Counter {
	return &countingCounter{reg: r, name: name}
}

func (r *countingRegistry) value(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

type countingCounter struct {
	reg  *countingRegistry
	name string
}

func (c *countingCounter) Inc() { c.Add(1) }

func (c *countingCounter) Add(v float64) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	c.reg.counts[c.name] += v
}

func TestInstrumentedStore_PassThroughAndCounters(t *testing.T) {
	reg := newCountingRegistry()
	s := NewInstrumentedStore(NewInMemory(), "mem", WithMetrics(reg))
	ctx := context.Background()
	loc := opath.MustParse("a/b.txt")

	res, err := s.Put(ctx, loc, []byte("hello"), PutOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ETag)

	got, err := s.Get(ctx, loc, GetOptions{})
	require.NoError(t, err)
	data, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = s.Head(ctx, loc)
	require.NoError(t, err)

	require.NoError(t, s.Copy(ctx, loc, opath.MustParse("a/c.txt")))
	require.NoError(t, s.Delete(ctx, loc))

	assert.InDelta(t, 1, reg.value("objstore_put_total"), 0.001)
	assert.InDelta(t, 1, reg.value("objstore_get_total"), 0.001)
	assert.InDelta(t, 1, reg.value("objstore_head_total"), 0.001)
	assert.InDelta(t, 1, reg.value("objstore_copy_total"), 0.001)
	assert.InDelta(t, 1, reg.value("objstore_delete_total"), 0.001)
}

func TestInstrumentedStore_ErrorsPassThrough(t *testing.T) {
	s := NewInstrumentedStore(NewInMemory(), "mem", WithMetrics(newCountingRegistry()))

	_, err := s.Get(context.Background(), opath.MustParse("missing"), GetOptions{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestInstrumentedStore_ListDelegates(t *testing.T) {
	inner := NewInMemory()
	s := NewInstrumentedStore(inner, "mem", WithMetrics(newCountingRegistry()))
	ctx := context.Background()

	for _, k := range []string{"x/1", "x/2", "y/1"} {
		_, err := inner.Put(ctx, opath.MustParse(k), []byte("v"), PutOptions{})
		require.NoError(t, err)
	}

	stream := s.List(ctx, opath.MustParse("x"))
	var metas []ObjectMeta
	for {
		meta, err := stream.Next(ctx)
		if err == errStreamEnd {
			break
		}
		require.NoError(t, err)
		metas = append(metas, meta)
	}
	assert.Len(t, metas, 2)
}

func TestInstrumentedStore_ListPaginatedOverMemory(t *testing.T) {
	s := NewInstrumentedStore(NewInMemory(), "mem")

	_, err := s.ListPaginated(context.Background(), "x", PaginatedListOptions{MaxKeys: 10})
	require.Error(t, err)
	assert.Equal(t, KindNotSupported, ErrKind(err))
}
