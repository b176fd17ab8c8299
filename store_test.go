package segment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	p := NewInMemoryStore()
	s, err := NewStore(StoreConfig{Persist: p, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	w, err := NewWriter(s, WriterConfig{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	id, err := w.WriteString("persisted")
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx))

	// A second store over the same Persist starts with an empty cache.
	fresh := newTestStore(t, p)
	got, err := NewReader(fresh).ReadString(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got)
}

func TestStoreMissingSegment(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, nil)
	_, err := s.Segment(ctx, NewSegmentID())
	assert.ErrorIs(t, err, ErrSegmentNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewReader(s).ReadBytes(ctx, RecordID{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreRejectsCorruptSegment(t *testing.T) {
	t.Parallel()
	p := NewInMemoryStore()
	w, err := NewWriter(newTestStore(t, p), WriterConfig{})
	require.NoError(t, err)
	id, err := w.WriteString("x")
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx))

	name := SegmentName(id.Segment)
	b, err := p.Load(ctx, name)
	require.NoError(t, err)
	b = append([]byte(nil), b...)
	b[len(b)-1] ^= 1
	require.NoError(t, p.Store(ctx, name, b))

	_, err = newTestStore(t, p).Segment(ctx, id.Segment)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestStoreRejectsMisnamedSegment(t *testing.T) {
	t.Parallel()
	p := NewInMemoryStore()
	w, err := NewWriter(newTestStore(t, p), WriterConfig{})
	require.NoError(t, err)
	id, err := w.WriteString("x")
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx))

	b, err := p.Load(ctx, SegmentName(id.Segment))
	require.NoError(t, err)
	other := NewSegmentID()
	require.NoError(t, p.Store(ctx, SegmentName(other), b))
	_, err = newTestStore(t, p).Segment(ctx, other)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestHead(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, nil)
	_, err := s.Head(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	root := Root{Node: RecordID{NewSegmentID(), 16}, Version: V10}
	require.NoError(t, s.SetHead(ctx, root))
	got, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, got)

	root.Version = V11
	require.NoError(t, s.SetHead(ctx, root))
	got, err = s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, root, got)
}

func TestNewStoreRequiresPersist(t *testing.T) {
	t.Parallel()
	_, err := NewStore(StoreConfig{})
	assert.Error(t, err)
}

// failingPersist fails every Store after the first n.
type failingPersist struct {
	Persist
	n int32
}

var errInjected = errors.New("injected")

func (p *failingPersist) Store(ctx context.Context, key string, value []byte) error {
	if atomic.AddInt32(&p.n, -1) < 0 {
		return errInjected
	}
	return p.Persist.Store(ctx, key, value)
}

func TestFlushRetriesAfterError(t *testing.T) {
	t.Parallel()
	p := &failingPersist{Persist: NewInMemoryStore(), n: 0}
	s, err := NewStore(StoreConfig{Persist: p, Concurrency: 1})
	require.NoError(t, err)
	w, err := NewWriter(s, WriterConfig{})
	require.NoError(t, err)
	id, err := w.WriteString("retry me")
	require.NoError(t, err)

	err = w.Flush(ctx)
	require.ErrorIs(t, err, errInjected)

	atomic.StoreInt32(&p.n, 100)
	require.NoError(t, w.Flush(ctx))
	got, err := NewReader(newTestStore(t, p.Persist)).ReadString(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "retry me", got)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewPedanticRegistry()
	p := NewInMemoryStore()
	s, err := NewStore(StoreConfig{Persist: p, Registerer: reg})
	require.NoError(t, err)
	w, err := NewWriter(s, WriterConfig{})
	require.NoError(t, err)
	id, err := w.WriteString("counted")
	require.NoError(t, err)
	w.builder.Seal()
	_, err = w.WriteString("counted too")
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, 2.0, counterValue(t, reg, "segment_records_written_total"))
	assert.Equal(t, 20.0, counterValue(t, reg, "segment_bytes_written_total"))
	assert.Equal(t, 2.0, counterValue(t, reg, "segment_segments_persisted_total"))

	other, err := NewStore(StoreConfig{Persist: p, Metrics: s.Metrics()})
	require.NoError(t, err)
	_, err = other.Segment(ctx, id.Segment)
	require.NoError(t, err)
	_, err = other.Segment(ctx, id.Segment)
	require.NoError(t, err)
	assert.Equal(t, 1.0, counterValue(t, reg, "segment_cache_misses_total"))
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.recordWritten(Value, 4)
	m.segmentPersisted()
	m.cacheMiss()
}
