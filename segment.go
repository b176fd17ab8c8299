package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/minio/blake2b-simd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	segmentMagic  = "0aK\n"
	segmentFormat = 1
	digestSize    = 32
)

// RecordInfo describes one record in a segment.
type RecordInfo struct {
	Type   RecordType
	Offset int
	Size   int
}

// Segment is an immutable, sealed group of records. Records inside a
// segment reference each other, and records in up to MaxSegmentRefs other
// segments, by RecordID.
type Segment struct {
	id       SegmentID
	version  Version
	limits   Limits
	refs     []SegmentID
	blobRefs []int
	records  []RecordInfo
	data     []byte
}

// ID returns the segment's id.
func (s *Segment) ID() SegmentID { return s.id }

// Version returns the format version the segment was written with.
func (s *Segment) Version() Version { return s.version }

// Limits returns the record limits the segment was written with.
func (s *Segment) Limits() Limits { return s.limits }

// Size returns the size of the record area.
func (s *Segment) Size() int { return len(s.data) }

// Records lists the segment's records in write order.
func (s *Segment) Records() []RecordInfo { return s.records }

// References lists the other segments this segment's records point into.
func (s *Segment) References() []SegmentID {
	if len(s.refs) <= 1 {
		return nil
	}
	return s.refs[1:]
}

// BlobRefs lists the records of this segment that reference external blobs.
func (s *Segment) BlobRefs() []RecordID {
	ids := make([]RecordID, len(s.blobRefs))
	for i, off := range s.blobRefs {
		ids[i] = RecordID{s.id, off}
	}
	return ids
}

// RecordType returns the type of the record at id, which must be in s.
func (s *Segment) RecordType(id RecordID) (RecordType, bool) {
	for _, r := range s.records {
		if r.Offset == id.Offset {
			return r.Type, true
		}
	}
	return 0, false
}

func (s *Segment) resolveRef(off int) (RecordID, error) {
	if off+RecordIDBytes > len(s.data) {
		return RecordID{}, dataErrf(s.data, off, nil, "record id out of range")
	}
	idx := int(s.data[off])
	if idx >= len(s.refs) {
		return RecordID{}, dataErrf(s.data, off, ErrUnknownReference, "reference %d", idx)
	}
	return RecordID{
		Segment: s.refs[idx],
		Offset:  int(binary.BigEndian.Uint16(s.data[off+1:])) << RecordAlignBits,
	}, nil
}

// cursor reads a record sequentially. The first out-of-range read sets
// err and every later read returns zero values.
type cursor struct {
	seg *Segment
	off int
	err error
}

func (s *Segment) cursor(id RecordID) *cursor {
	c := &cursor{seg: s, off: id.Offset}
	if id.Segment != s.id {
		c.err = fmt.Errorf("record %v is not in segment %v", id, s.id)
	}
	return c
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.seg.data) {
		c.err = dataErrf(c.seg.data, c.off, nil, "not enough data: %d bytes wanted", n)
		return nil
	}
	b := c.seg.data[c.off : c.off+n]
	c.off += n
	return b
}

func (c *cursor) byte() byte {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) short() int16 {
	if b := c.take(2); b != nil {
		return int16(binary.BigEndian.Uint16(b))
	}
	return 0
}

func (c *cursor) int() int32 {
	if b := c.take(4); b != nil {
		return int32(binary.BigEndian.Uint32(b))
	}
	return 0
}

func (c *cursor) long() int64 {
	if b := c.take(8); b != nil {
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

func (c *cursor) bytes(n int) []byte {
	return c.take(n)
}

func (c *cursor) recordID() RecordID {
	if c.err != nil {
		return RecordID{}
	}
	id, err := c.seg.resolveRef(c.off)
	if err != nil {
		c.err = err
		return RecordID{}
	}
	c.off += RecordIDBytes
	return id
}

func (c *cursor) valueHeader() valueHeader {
	if c.err != nil {
		return valueHeader{}
	}
	h, err := decodeValueHeader(c.seg.data, c.off, c.seg.limits)
	if err != nil {
		c.err = err
		return valueHeader{}
	}
	c.off += h.size()
	return h
}

type segmentMeta struct {
	ID       []byte       `msgpack:"id"`
	Version  uint8        `msgpack:"v"`
	Limits   Limits       `msgpack:"l"`
	Refs     [][]byte     `msgpack:"r"`
	BlobRefs []int        `msgpack:"b,omitempty"`
	Records  []recordMeta `msgpack:"rec"`
}

type recordMeta struct {
	Type   uint8 `msgpack:"t"`
	Offset int   `msgpack:"o"`
	Size   int   `msgpack:"s"`
}

func appendLength(buf []byte, n int) []byte {
	var tmpbuf [binary.MaxVarintLen64]byte
	l := binary.PutUvarint(tmpbuf[:], uint64(n))
	return append(buf, tmpbuf[:l]...)
}

func decodeLength(buf []byte, off int, n *int) (int, error) {
	k, l := binary.Uvarint(buf[off:])
	if l <= 0 {
		return 0, dataErrf(buf, off, nil, "bad length")
	}
	if k > uint64(len(buf)) {
		return 0, dataErrf(buf, off, nil, "length %d exceeds data", k)
	}
	*n = int(k)
	return off + l, nil
}

// MarshalBinary encodes the segment: magic, format byte, msgpack
// metadata, the record area, and a BLAKE2b-256 digest of all of it.
func (s *Segment) MarshalBinary() ([]byte, error) {
	meta := segmentMeta{
		ID:       s.id[:],
		Version:  uint8(s.version),
		Limits:   s.limits,
		Refs:     make([][]byte, len(s.refs)),
		BlobRefs: s.blobRefs,
		Records:  make([]recordMeta, len(s.records)),
	}
	for i, ref := range s.refs {
		meta.Refs[i] = append([]byte(nil), ref[:]...)
	}
	for i, r := range s.records {
		meta.Records[i] = recordMeta{uint8(r.Type), r.Offset, r.Size}
	}
	encodedMeta, err := msgpack.Marshal(&meta)
	if err != nil {
		return nil, fmt.Errorf("marshal segment metadata: %w", err)
	}
	buf := make([]byte, 0, len(segmentMagic)+1+2*binary.MaxVarintLen64+len(encodedMeta)+len(s.data)+digestSize)
	buf = append(buf, segmentMagic...)
	buf = append(buf, segmentFormat)
	buf = appendLength(buf, len(encodedMeta))
	buf = append(buf, encodedMeta...)
	buf = appendLength(buf, len(s.data))
	buf = append(buf, s.data...)
	digest := blake2b.Sum256(buf)
	return append(buf, digest[:]...), nil
}

// UnmarshalSegment decodes and verifies a segment encoded by MarshalBinary.
func UnmarshalSegment(buf []byte) (*Segment, error) {
	if len(buf) < len(segmentMagic)+1+digestSize || !bytes.Equal(buf[:len(segmentMagic)], []byte(segmentMagic)) {
		return nil, ErrBadMagic
	}
	body := buf[:len(buf)-digestSize]
	digest := blake2b.Sum256(body)
	if !bytes.Equal(digest[:], buf[len(body):]) {
		return nil, ErrChecksum
	}
	if body[len(segmentMagic)] != segmentFormat {
		return nil, dataErrf(body, len(segmentMagic), ErrUnsupportedVersion, "container format %d", body[len(segmentMagic)])
	}
	off := len(segmentMagic) + 1
	var n int
	off, err := decodeLength(body, off, &n)
	if err != nil {
		return nil, err
	}
	if off+n > len(body) {
		return nil, dataErrf(body, off, nil, "truncated metadata")
	}
	var meta segmentMeta
	if err := msgpack.Unmarshal(body[off:off+n], &meta); err != nil {
		return nil, dataErrf(body, off, err, "bad metadata")
	}
	off += n
	off, err = decodeLength(body, off, &n)
	if err != nil {
		return nil, err
	}
	if off+n != len(body) {
		return nil, dataErrf(body, off, nil, "record area is %d bytes, header says %d", len(body)-off, n)
	}
	version := Version(meta.Version)
	if err := version.check(); err != nil {
		return nil, err
	}
	if err := meta.Limits.Validate(); err != nil {
		return nil, err
	}
	if len(meta.ID) != len(SegmentID{}) || len(meta.Refs) == 0 {
		return nil, dataErrf(body, 0, nil, "bad segment identity")
	}
	s := &Segment{
		version:  version,
		limits:   meta.Limits,
		refs:     make([]SegmentID, len(meta.Refs)),
		blobRefs: meta.BlobRefs,
		records:  make([]RecordInfo, len(meta.Records)),
		data:     body[off:],
	}
	copy(s.id[:], meta.ID)
	for i, ref := range meta.Refs {
		if len(ref) != len(SegmentID{}) {
			return nil, dataErrf(body, 0, nil, "bad reference %d", i)
		}
		copy(s.refs[i][:], ref)
	}
	if s.refs[0] != s.id {
		return nil, dataErrf(body, 0, nil, "reference table does not start with the segment itself")
	}
	for i, r := range meta.Records {
		s.records[i] = RecordInfo{RecordType(r.Type), r.Offset, r.Size}
	}
	return s, nil
}
