package segment

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx                     = context.Background()
	defaultGopterParameters = gopter.DefaultTestParameters()
)

func newTestStore(t testing.TB, p Persist) *Store {
	if p == nil {
		p = NewInMemoryStore()
	}
	s, err := NewStore(StoreConfig{Persist: p})
	require.NoError(t, err)
	return s
}

func newTestWriter(t testing.TB, cfg WriterConfig) (*Writer, *Store) {
	s := newTestStore(t, nil)
	w, err := NewWriter(s, cfg)
	require.NoError(t, err)
	return w, s
}

func newTestBuilder(t testing.TB) *SegmentBuilder {
	b, err := NewSegmentBuilder(BuilderConfig{})
	require.NoError(t, err)
	return b
}

// recordBytes returns the bytes of the record at id, without padding.
func recordBytes(t testing.TB, b *SegmentBuilder, id RecordID) []byte {
	seg, ok := b.Segment(id.Segment)
	require.True(t, ok, "segment %v", id.Segment)
	for _, r := range seg.Records() {
		if r.Offset == id.Offset {
			return seg.data[r.Offset : r.Offset+r.Size]
		}
	}
	require.Failf(t, "no record", "%v", id)
	return nil
}

func mustWrite(t testing.TB, b Builder, rw RecordWriter) RecordID {
	id, err := rw.Write(b, &BlobRefs{})
	require.NoError(t, err)
	return id
}

// fakeIDs are distinct ids in the open segment of b. Nothing reads them.
func fakeIDs(t testing.TB, b *SegmentBuilder, n int) []RecordID {
	anchor := mustWrite(t, b, NewEmptyListWriter())
	ids := make([]RecordID, n)
	for i := range ids {
		ids[i] = RecordID{anchor.Segment, (i % (MaxSegmentSize >> RecordAlignBits)) << RecordAlignBits}
	}
	return ids
}

func TestWriteBytesBoundaries(t *testing.T) {
	t.Parallel()
	w, _ := newTestWriter(t, WriterConfig{})
	limits := DefaultLimits()
	tests := []struct {
		n    int
		kind valueKind
	}{
		{0, smallValue},
		{limits.SmallLimit - 1, smallValue},
		{limits.SmallLimit, mediumValue},
		{limits.SmallLimit + 1, mediumValue},
		{limits.MediumLimit - 1, mediumValue},
		{limits.MediumLimit, longValue},
		{limits.MediumLimit + 1, longValue},
		{3*limits.BlockSize + 17 + limits.MediumLimit, longValue},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			data := bytes.Repeat([]byte{byte(tt.n)}, tt.n)
			for i := range data {
				data[i] += byte(i)
			}
			id, err := w.WriteBytes(data)
			require.NoError(t, err)
			seg, ok := w.builder.Segment(id.Segment)
			require.True(t, ok)
			h, err := decodeValueHeader(seg.data, id.Offset, limits)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, h.kind)
			assert.EqualValues(t, tt.n, h.length)

			got, err := w.Reader().ReadBytes(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestSmallValueLayout(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t)
	rw, err := NewValueWriter([]byte{1, 2, 3, 4, 5}, DefaultLimits())
	require.NoError(t, err)
	id := mustWrite(t, b, rw)
	assert.Equal(t, []byte{5, 1, 2, 3, 4, 5}, recordBytes(t, b, id))

	next := mustWrite(t, b, NewEmptyMapLeafWriter())
	assert.Equal(t, id.Offset+8, next.Offset, "records are 4-byte aligned")
	assert.Equal(t, []byte{0, 0, 0, 0}, recordBytes(t, b, next))
}

func TestMediumValueHeader(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t)
	limits := DefaultLimits()
	rw, err := NewValueWriter(make([]byte, limits.SmallLimit), limits)
	require.NoError(t, err)
	id := mustWrite(t, b, rw)
	assert.Equal(t, []byte{0x80, 0x00}, recordBytes(t, b, id)[:2])
}

func TestValueWriterLimits(t *testing.T) {
	t.Parallel()
	limits := DefaultLimits()
	_, err := NewValueWriter(make([]byte, limits.MediumLimit), limits)
	assert.ErrorIs(t, err, ErrValueTooLarge)
	_, err = NewValuePointerWriter(int64(limits.MediumLimit-1), RecordID{}, limits)
	assert.ErrorIs(t, err, ErrValueTooSmall)
	_, err = NewSmallBlobIDWriter(make([]byte, limits.BlobIDSmallLimit), limits)
	assert.ErrorIs(t, err, ErrBlobIDTooLong)
}

func TestWriteBlob(t *testing.T) {
	t.Parallel()
	refs := &BlobRefs{}
	w, _ := newTestWriter(t, WriterConfig{BlobRefs: refs})
	limits := DefaultLimits()
	var ids []RecordID
	for _, n := range []int{0, 1, limits.BlobIDSmallLimit - 1, limits.BlobIDSmallLimit, limits.BlobIDSmallLimit + 1} {
		blobID := string(bytes.Repeat([]byte{'b'}, n))
		id, err := w.WriteBlob(blobID)
		require.NoError(t, err)
		ids = append(ids, id)

		isBlob, err := w.Reader().IsBlobID(ctx, id)
		require.NoError(t, err)
		assert.True(t, isBlob)
		got, err := w.Reader().ReadBlobID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, blobID, got)
	}
	assert.Equal(t, ids, refs.IDs())

	seg, ok := w.builder.Segment(ids[0].Segment)
	require.True(t, ok)
	assert.Equal(t, ids, seg.BlobRefs())

	v, err := w.WriteString("not a blob")
	require.NoError(t, err)
	isBlob, err := w.Reader().IsBlobID(ctx, v)
	require.NoError(t, err)
	assert.False(t, isBlob)
}

func TestBlobWriterNeedsRecorder(t *testing.T) {
	t.Parallel()
	b := newTestBuilder(t)
	rw, err := NewSmallBlobIDWriter([]byte("blob"), DefaultLimits())
	require.NoError(t, err)
	_, err = rw.Write(b, nil)
	assert.ErrorIs(t, err, ErrNoBlobRecorder)
}

func TestWriteStringIsCached(t *testing.T) {
	t.Parallel()
	w, _ := newTestWriter(t, WriterConfig{})
	a, err := w.WriteString("hello")
	require.NoError(t, err)
	b, err := w.WriteString("hello")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Writing the same bytes outside the cache gives a new id.
	c, err := w.WriteBytes([]byte("hello"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestListSizes(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 2, 255, 256, 255*255 - 1, 255 * 255, 255*255 + 1} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			t.Parallel()
			w, _ := newTestWriter(t, WriterConfig{})
			ids := fakeIDs(t, w.builder, n)
			id, err := w.WriteList(ids)
			require.NoError(t, err)

			size, err := w.Reader().ListSize(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, n, size)
			got, err := w.Reader().ReadList(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, len(ids), len(got))
			if n > 0 {
				assert.Equal(t, ids, got)
			}
		})
	}
}

func TestSingleElementListHasNoBucket(t *testing.T) {
	t.Parallel()
	w, _ := newTestWriter(t, WriterConfig{})
	ids := fakeIDs(t, w.builder, 1)
	id, err := w.WriteList(ids)
	require.NoError(t, err)
	seg, ok := w.builder.Segment(id.Segment)
	require.True(t, ok)
	var types []RecordType
	for _, r := range seg.Records() {
		types = append(types, r.Type)
	}
	assert.Equal(t, []RecordType{List, List}, types)
	got, err := w.Reader().ReadList(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestListBucketFanOut(t *testing.T) {
	t.Parallel()
	limits := DefaultLimits()
	limits.ListBucketSize = 3
	w, _ := newTestWriter(t, WriterConfig{Limits: limits})
	for n := 0; n <= 40; n++ {
		ids := fakeIDs(t, w.builder, n)
		id, err := w.WriteList(ids)
		require.NoError(t, err)
		got, err := w.Reader().ReadList(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, len(ids), len(got), "n=%d", n)
		if n > 0 {
			assert.Equal(t, ids, got, "n=%d", n)
		}
	}
}

func TestEmptyList(t *testing.T) {
	t.Parallel()
	w, _ := newTestWriter(t, WriterConfig{})
	id, err := w.WriteList(nil)
	require.NoError(t, err)
	got, err := w.Reader().ReadList(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)
}
