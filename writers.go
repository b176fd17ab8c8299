package segment

import (
	"fmt"
)

// Allocator hands out the id of a record before its payload is written.
// size counts the payload bytes that are not record ids; the record
// occupies size + len(ids)*RecordIDBytes bytes.
type Allocator interface {
	Prepare(t RecordType, size int, ids []RecordID) (RecordID, error)
}

// Sink receives the payload of the most recently prepared record,
// strictly in order.
type Sink interface {
	PutByte(v byte)
	PutShort(v int16)
	PutInt(v int32)
	PutLong(v int64)
	PutBytes(v []byte)
	PutRecordID(id RecordID)
}

// Builder allocates records and accepts their payloads.
type Builder interface {
	Allocator
	Sink
}

// BlobRefRecorder is told about every record that references an external blob.
type BlobRefRecorder interface {
	AddBlobRef(id RecordID)
}

// RecordWriter renders one record into a Builder.
type RecordWriter interface {
	Write(b Builder, refs BlobRefRecorder) (RecordID, error)
}

// recordFinisher is implemented by builders that verify a record was
// written to exactly its declared size.
type recordFinisher interface {
	finishRecord(id RecordID)
}

type recordSpec struct {
	typ  RecordType
	size int
	ids  []RecordID
	blob bool
}

type contentWriter interface {
	spec() recordSpec
	writeContent(id RecordID, s Sink)
}

type recordWriter struct {
	w contentWriter
}

func (rw recordWriter) Write(b Builder, refs BlobRefRecorder) (RecordID, error) {
	spec := rw.w.spec()
	if spec.blob && refs == nil {
		return RecordID{}, ErrNoBlobRecorder
	}
	id, err := b.Prepare(spec.typ, spec.size, spec.ids)
	if err != nil {
		return RecordID{}, fmt.Errorf("prepare %s: %w", spec.typ, err)
	}
	rw.w.writeContent(id, b)
	if f, ok := b.(recordFinisher); ok {
		f.finishRecord(id)
	}
	if spec.blob {
		refs.AddBlobRef(id)
	}
	return id, nil
}

// NewMapLeafWriter writes a trie leaf at the given level. Entries are
// sorted before writing, so any input order gives the same bytes. An empty
// entry set writes the canonical empty map: a single zero int.
func NewMapLeafWriter(level int, entries []MapEntry) RecordWriter {
	if len(entries) == 0 {
		return NewEmptyMapLeafWriter()
	}
	sorted := make([]MapEntry, len(entries))
	copy(sorted, entries)
	sortMapEntries(sorted)
	return recordWriter{&mapLeafWriter{level: level, entries: sorted}}
}

// NewEmptyMapLeafWriter writes the empty map.
func NewEmptyMapLeafWriter() RecordWriter {
	return recordWriter{&mapLeafWriter{}}
}

type mapLeafWriter struct {
	level   int
	entries []MapEntry
}

func (w *mapLeafWriter) spec() recordSpec {
	ids := make([]RecordID, 0, 2*len(w.entries))
	for _, e := range w.entries {
		ids = append(ids, e.Key, e.Value)
	}
	return recordSpec{typ: Leaf, size: 4 + 4*len(w.entries), ids: ids}
}

func (w *mapLeafWriter) writeContent(_ RecordID, s Sink) {
	if len(w.entries) == 0 {
		s.PutInt(0)
		return
	}
	s.PutInt(mapHead{level: w.level, count: len(w.entries)}.encode())
	for _, e := range w.entries {
		s.PutInt(int32(e.Hash))
	}
	for _, e := range w.entries {
		s.PutRecordID(e.Key)
		s.PutRecordID(e.Value)
	}
}

// NewMapBranchWriter writes a trie branch: ids holds one child per set
// bit of bitmap, lowest bit first, and count is the number of entries
// below the branch.
func NewMapBranchWriter(level, count int, bitmap uint32, ids []RecordID) RecordWriter {
	return recordWriter{&mapBranchWriter{head: mapHead{level: level, count: count}, bitmap: bitmap, ids: ids}}
}

// NewMapDiffWriter writes a branch-shaped map diff. The head is the diff
// sentinel; bitmap and ids are written as given.
func NewMapDiffWriter(bitmap uint32, ids []RecordID) RecordWriter {
	return recordWriter{&mapBranchWriter{head: mapHead{diff: true}, bitmap: bitmap, ids: ids}}
}

type mapBranchWriter struct {
	head   mapHead
	bitmap uint32
	ids    []RecordID
}

func (w *mapBranchWriter) spec() recordSpec {
	return recordSpec{typ: Branch, size: 8, ids: w.ids}
}

func (w *mapBranchWriter) writeContent(_ RecordID, s Sink) {
	s.PutInt(w.head.encode())
	s.PutInt(int32(w.bitmap))
	for _, id := range w.ids {
		s.PutRecordID(id)
	}
}

// NewListWriter writes a list head of count elements. head is the root
// bucket, or the only element of a single element list; a zero head is
// omitted.
func NewListWriter(count int, head RecordID) RecordWriter {
	return recordWriter{&listWriter{count: count, head: head}}
}

// NewEmptyListWriter writes a list of zero elements.
func NewEmptyListWriter() RecordWriter {
	return recordWriter{&listWriter{}}
}

type listWriter struct {
	count int
	head  RecordID
}

func (w *listWriter) spec() recordSpec {
	var ids []RecordID
	if !w.head.IsZero() {
		ids = []RecordID{w.head}
	}
	return recordSpec{typ: List, size: 4, ids: ids}
}

func (w *listWriter) writeContent(_ RecordID, s Sink) {
	s.PutInt(int32(w.count))
	if !w.head.IsZero() {
		s.PutRecordID(w.head)
	}
}

// NewListBucketWriter writes the given ids with no header.
func NewListBucketWriter(ids []RecordID) RecordWriter {
	return recordWriter{&listBucketWriter{ids}}
}

type listBucketWriter struct {
	ids []RecordID
}

func (w *listBucketWriter) spec() recordSpec {
	return recordSpec{typ: Bucket, ids: w.ids}
}

func (w *listBucketWriter) writeContent(_ RecordID, s Sink) {
	for _, id := range w.ids {
		s.PutRecordID(id)
	}
}

// NewBlockWriter writes bytes[off:off+n] verbatim.
func NewBlockWriter(bytes []byte, off, n int) RecordWriter {
	return recordWriter{&blockWriter{bytes[off : off+n]}}
}

type blockWriter struct {
	data []byte
}

func (w *blockWriter) spec() recordSpec {
	return recordSpec{typ: Block, size: len(w.data)}
}

func (w *blockWriter) writeContent(_ RecordID, s Sink) {
	s.PutBytes(w.data)
}

// NewValueWriter writes data inline behind a small or medium length
// header. Data of limits.MediumLimit bytes or more must be written as
// blocks and referenced with NewValuePointerWriter.
func NewValueWriter(data []byte, limits Limits) (RecordWriter, error) {
	if !limits.isInline(len(data)) {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrValueTooLarge)
	}
	return recordWriter{&valueWriter{inlineHeader(len(data), limits), data, limits}}, nil
}

type valueWriter struct {
	header valueHeader
	data   []byte
	limits Limits
}

func (w *valueWriter) spec() recordSpec {
	return recordSpec{typ: Value, size: w.header.size() + len(w.data)}
}

func (w *valueWriter) writeContent(_ RecordID, s Sink) {
	w.header.encode(s, w.limits)
	s.PutBytes(w.data)
}

// NewValuePointerWriter writes the header of a large value whose bytes
// are in the block list record blocks.
func NewValuePointerWriter(length int64, blocks RecordID, limits Limits) (RecordWriter, error) {
	if length < int64(limits.MediumLimit) {
		return nil, fmt.Errorf("%d bytes: %w", length, ErrValueTooSmall)
	}
	return recordWriter{&valuePointerWriter{valueHeader{longValue, length}, blocks, limits}}, nil
}

type valuePointerWriter struct {
	header valueHeader
	blocks RecordID
	limits Limits
}

func (w *valuePointerWriter) spec() recordSpec {
	return recordSpec{typ: Value, size: 8, ids: []RecordID{w.blocks}}
}

func (w *valuePointerWriter) writeContent(_ RecordID, s Sink) {
	w.header.encode(s, w.limits)
	s.PutRecordID(w.blocks)
}

// NewSmallBlobIDWriter writes a blob id inline. blobID must be shorter
// than limits.BlobIDSmallLimit.
func NewSmallBlobIDWriter(blobID []byte, limits Limits) (RecordWriter, error) {
	if len(blobID) >= limits.BlobIDSmallLimit {
		return nil, fmt.Errorf("%d bytes: %w", len(blobID), ErrBlobIDTooLong)
	}
	return recordWriter{&smallBlobIDWriter{blobID, limits}}, nil
}

type smallBlobIDWriter struct {
	blobID []byte
	limits Limits
}

func (w *smallBlobIDWriter) spec() recordSpec {
	return recordSpec{typ: Value, size: 2 + len(w.blobID), blob: true}
}

func (w *smallBlobIDWriter) writeContent(_ RecordID, s Sink) {
	valueHeader{smallBlobID, int64(len(w.blobID))}.encode(s, w.limits)
	s.PutBytes(w.blobID)
}

// NewLargeBlobIDWriter writes a reference to a string record holding a
// blob id too long for the inline form.
func NewLargeBlobIDWriter(stringRecord RecordID) RecordWriter {
	return recordWriter{&largeBlobIDWriter{stringRecord}}
}

type largeBlobIDWriter struct {
	stringRecord RecordID
}

func (w *largeBlobIDWriter) spec() recordSpec {
	return recordSpec{typ: Value, size: 1, ids: []RecordID{w.stringRecord}, blob: true}
}

func (w *largeBlobIDWriter) writeContent(_ RecordID, s Sink) {
	valueHeader{kind: largeBlobID}.encode(s, Limits{})
	s.PutRecordID(w.stringRecord)
}

// NewNodeWriter writes a node record: the given ids, in the given order.
// Their meaning is defined by the node's template.
func NewNodeWriter(ids []RecordID) RecordWriter {
	return recordWriter{&nodeWriter{ids}}
}

type nodeWriter struct {
	ids []RecordID
}

func (w *nodeWriter) spec() recordSpec {
	return recordSpec{typ: Node, ids: w.ids}
}

func (w *nodeWriter) writeContent(_ RecordID, s Sink) {
	for _, id := range w.ids {
		s.PutRecordID(id)
	}
}
