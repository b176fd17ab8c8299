package segment

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// BuilderConfig configures a SegmentBuilder.
type BuilderConfig struct {
	// Version is recorded in every segment. Zero means LatestVersion.
	Version Version
	// Limits are recorded in every segment. Zero means DefaultLimits().
	Limits  Limits
	Logger  *zap.Logger
	Metrics *Metrics
}

// SegmentWriter accepts sealed segments.
type SegmentWriter interface {
	WriteSegments(ctx context.Context, segments []*Segment) error
}

// SegmentBuilder lays records out into segments. It implements Builder:
// each Prepare appends one aligned record to the open segment, sealing it
// first if the record or its references would not fit. A prepared id can
// be referenced immediately, before its segment is sealed.
//
// A SegmentBuilder is meant for one writer at a time.
type SegmentBuilder struct {
	mu      sync.Mutex
	version Version
	limits  Limits
	logger  *zap.Logger
	metrics *Metrics

	open    *openSegment
	pending *pendingRecord
	sealed  []*Segment
}

type openSegment struct {
	id       SegmentID
	data     []byte
	refs     []SegmentID
	refIndex map[SegmentID]int
	blobRefs []int
	records  []RecordInfo
}

type pendingRecord struct {
	id       RecordID
	typ      RecordType
	pos      int
	end      int
	ids      int
	wroteIDs int
}

// NewSegmentBuilder returns an empty builder.
func NewSegmentBuilder(cfg BuilderConfig) (*SegmentBuilder, error) {
	if cfg.Version == 0 {
		cfg.Version = LatestVersion
	}
	if err := cfg.Version.check(); err != nil {
		return nil, err
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SegmentBuilder{
		version: cfg.Version,
		limits:  cfg.Limits,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Version is the format version records are written in.
func (b *SegmentBuilder) Version() Version { return b.version }

// Limits are the limits records are written with.
func (b *SegmentBuilder) Limits() Limits { return b.limits }

func newOpenSegment() *openSegment {
	id := NewSegmentID()
	return &openSegment{
		id:       id,
		refs:     []SegmentID{id},
		refIndex: map[SegmentID]int{id: 0},
	}
}

func (o *openSegment) newRefs(ids []RecordID) int {
	seen := map[SegmentID]bool{}
	for _, id := range ids {
		if _, ok := o.refIndex[id.Segment]; !ok && !seen[id.Segment] {
			seen[id.Segment] = true
		}
	}
	return len(seen)
}

func (o *openSegment) fits(n int, ids []RecordID) bool {
	return len(o.data)+n <= MaxSegmentSize &&
		len(o.refs)-1+o.newRefs(ids) <= MaxSegmentRefs
}

func (o *openSegment) ref(id SegmentID) {
	if _, ok := o.refIndex[id]; ok {
		return
	}
	o.refIndex[id] = len(o.refs)
	o.refs = append(o.refs, id)
}

func alignedSize(n int) int {
	const mask = 1<<RecordAlignBits - 1
	if n == 0 {
		return 1 << RecordAlignBits
	}
	return (n + mask) &^ mask
}

// Prepare allocates a record of size payload bytes plus len(ids) record ids.
func (b *SegmentBuilder) Prepare(t RecordType, size int, ids []RecordID) (RecordID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending != nil {
		panic(fmt.Sprintf("bug! %s record %v was not finished before a %s record was prepared", b.pending.typ, b.pending.id, t))
	}
	if size < 0 {
		panic(fmt.Sprintf("bug! negative size %d for %s record", size, t))
	}
	for _, id := range ids {
		if id.IsZero() {
			panic(fmt.Sprintf("bug! %s record depends on the zero record id", t))
		}
	}
	total := size + len(ids)*RecordIDBytes
	n := alignedSize(total)
	if n > MaxSegmentSize {
		return RecordID{}, fmt.Errorf("%s record of %d bytes: %w", t, total, ErrRecordTooLarge)
	}
	if b.open == nil || !b.open.fits(n, ids) {
		b.sealLocked()
		b.open = newOpenSegment()
		if !b.open.fits(n, ids) {
			return RecordID{}, fmt.Errorf("%s record referencing %d segments: %w", t, b.open.newRefs(ids), ErrRecordTooLarge)
		}
	}
	o := b.open
	for _, id := range ids {
		o.ref(id.Segment)
	}
	off := len(o.data)
	o.data = append(o.data, make([]byte, n)...)
	o.records = append(o.records, RecordInfo{Type: t, Offset: off, Size: total})
	id := RecordID{o.id, off}
	b.pending = &pendingRecord{id: id, typ: t, pos: off, end: off + total, ids: len(ids)}
	b.metrics.recordWritten(t, n)
	return id, nil
}

func (b *SegmentBuilder) reserve(n int) []byte {
	p := b.pending
	if p == nil {
		panic("bug! record payload written without a prepared record")
	}
	if p.pos+n > p.end {
		panic(fmt.Sprintf("bug! %s record %v overflows its declared size of %d bytes", p.typ, p.id, p.end-p.id.Offset))
	}
	buf := b.open.data[p.pos : p.pos+n]
	p.pos += n
	return buf
}

func (b *SegmentBuilder) PutByte(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserve(1)[0] = v
}

func (b *SegmentBuilder) PutShort(v int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binary.BigEndian.PutUint16(b.reserve(2), uint16(v))
}

func (b *SegmentBuilder) PutInt(v int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binary.BigEndian.PutUint32(b.reserve(4), uint32(v))
}

func (b *SegmentBuilder) PutLong(v int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	binary.BigEndian.PutUint64(b.reserve(8), uint64(v))
}

func (b *SegmentBuilder) PutBytes(v []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	copy(b.reserve(len(v)), v)
}

func (b *SegmentBuilder) PutRecordID(id RecordID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.open.refIndex[id.Segment]
	if !ok {
		panic(fmt.Sprintf("bug! record id %v was not declared when %s record %v was prepared", id, b.pending.typ, b.pending.id))
	}
	buf := b.reserve(RecordIDBytes)
	buf[0] = byte(idx)
	binary.BigEndian.PutUint16(buf[1:], uint16(id.Offset>>RecordAlignBits))
	b.pending.wroteIDs++
}

func (b *SegmentBuilder) finishRecord(id RecordID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pending
	if p == nil || p.id != id {
		panic(fmt.Sprintf("bug! finishing record %v, which is not the prepared record", id))
	}
	if p.pos != p.end || p.wroteIDs != p.ids {
		panic(fmt.Sprintf("bug! %s record %v wrote %d bytes and %d ids, declared %d bytes and %d ids",
			p.typ, p.id, p.pos-p.id.Offset, p.wroteIDs, p.end-p.id.Offset, p.ids))
	}
	b.pending = nil
}

// AddBlobRef records that id references an external blob; the reference
// is kept in the metadata of id's segment.
func (b *SegmentBuilder) AddBlobRef(id RecordID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open == nil || id.Segment != b.open.id {
		panic(fmt.Sprintf("bug! blob reference %v is not in the open segment", id))
	}
	b.open.blobRefs = append(b.open.blobRefs, id.Offset)
}

// Seal closes the open segment, if it has any records.
func (b *SegmentBuilder) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealLocked()
}

func (b *SegmentBuilder) sealLocked() {
	if b.pending != nil {
		panic(fmt.Sprintf("bug! sealing with %s record %v unfinished", b.pending.typ, b.pending.id))
	}
	o := b.open
	if o == nil || len(o.records) == 0 {
		return
	}
	seg := &Segment{
		id:       o.id,
		version:  b.version,
		limits:   b.limits,
		refs:     o.refs,
		blobRefs: o.blobRefs,
		records:  o.records,
		data:     o.data,
	}
	b.sealed = append(b.sealed, seg)
	b.open = nil
	b.logger.Debug("segment sealed",
		zap.Stringer("segment", seg.id),
		zap.Int("bytes", len(seg.data)),
		zap.Int("records", len(seg.records)),
		zap.Int("references", len(seg.refs)-1))
}

// Segment returns the sealed or open segment with the given id. The view
// of an open segment covers the records prepared so far.
func (b *SegmentBuilder) Segment(id SegmentID) (*Segment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.sealed {
		if s.id == id {
			return s, true
		}
	}
	if o := b.open; o != nil && o.id == id {
		return &Segment{
			id:       o.id,
			version:  b.version,
			limits:   b.limits,
			refs:     o.refs[:len(o.refs):len(o.refs)],
			blobRefs: o.blobRefs[:len(o.blobRefs):len(o.blobRefs)],
			records:  o.records[:len(o.records):len(o.records)],
			data:     o.data[:len(o.data):len(o.data)],
		}, true
	}
	return nil, false
}

// Flush seals the open segment and hands every sealed segment to w. On
// error the segments are kept, so Flush can be retried.
func (b *SegmentBuilder) Flush(ctx context.Context, w SegmentWriter) error {
	b.mu.Lock()
	b.sealLocked()
	segments := b.sealed
	b.sealed = nil
	b.mu.Unlock()
	if len(segments) == 0 {
		return nil
	}
	if err := w.WriteSegments(ctx, segments); err != nil {
		b.mu.Lock()
		b.sealed = append(segments, b.sealed...)
		b.mu.Unlock()
		return fmt.Errorf("write segments: %w", err)
	}
	return nil
}
