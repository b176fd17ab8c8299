package segment

import (
	"encoding/binary"
	"fmt"
)

// valueKind discriminates the records that share the Value record type.
// The kind is carried by the high bits of the first header byte; encode
// and decodeValueHeader are the only places those bits are interpreted.
type valueKind uint8

const (
	smallValue valueKind = iota + 1
	mediumValue
	longValue
	smallBlobID
	largeBlobID
)

const (
	mediumMarker    = 0x8000
	longMarker      = uint64(0x6) << 61
	longLengthMask  = uint64(1)<<61 - 1
	smallBlobMarker = 0xE000
	largeBlobMarker = 0xF0
)

func (k valueKind) String() string {
	switch k {
	case smallValue:
		return "small"
	case mediumValue:
		return "medium"
	case longValue:
		return "long"
	case smallBlobID:
		return "small blob id"
	case largeBlobID:
		return "large blob id"
	default:
		return "invalid"
	}
}

type valueHeader struct {
	kind   valueKind
	length int64
}

// size is the number of header bytes.
func (h valueHeader) size() int {
	switch h.kind {
	case smallValue, largeBlobID:
		return 1
	case mediumValue, smallBlobID:
		return 2
	case longValue:
		return 8
	}
	panic(fmt.Sprintf("bug! value header kind %d", h.kind))
}

func (h valueHeader) encode(s Sink, limits Limits) {
	switch h.kind {
	case smallValue:
		s.PutByte(byte(h.length))
	case mediumValue:
		s.PutShort(int16(uint16(h.length-int64(limits.SmallLimit)) | mediumMarker))
	case longValue:
		s.PutLong(int64(uint64(h.length-int64(limits.MediumLimit)) | longMarker))
	case smallBlobID:
		s.PutShort(int16(uint16(h.length) | smallBlobMarker))
	case largeBlobID:
		s.PutByte(largeBlobMarker)
	default:
		panic(fmt.Sprintf("bug! value header kind %d", h.kind))
	}
}

// inlineHeader picks the small or medium header for n inline bytes.
func inlineHeader(n int, limits Limits) valueHeader {
	if limits.isSmall(n) {
		return valueHeader{smallValue, int64(n)}
	}
	return valueHeader{mediumValue, int64(n)}
}

func decodeValueHeader(buf []byte, off int, limits Limits) (valueHeader, error) {
	if off >= len(buf) {
		return valueHeader{}, dataErrf(buf, off, nil, "value header out of range")
	}
	b := buf[off]
	need := func(n int) error {
		if off+n > len(buf) {
			return dataErrf(buf, off, nil, "truncated value header: %d bytes wanted", n)
		}
		return nil
	}
	switch {
	case b&0x80 == 0:
		return valueHeader{smallValue, int64(b)}, nil
	case b&0xC0 == 0x80:
		if err := need(2); err != nil {
			return valueHeader{}, err
		}
		w := binary.BigEndian.Uint16(buf[off:])
		return valueHeader{mediumValue, int64(w&0x3FFF) + int64(limits.SmallLimit)}, nil
	case b&0xE0 == 0xC0:
		if err := need(8); err != nil {
			return valueHeader{}, err
		}
		l := binary.BigEndian.Uint64(buf[off:])
		return valueHeader{longValue, int64(l&longLengthMask) + int64(limits.MediumLimit)}, nil
	case b&0xF0 == 0xE0:
		if err := need(2); err != nil {
			return valueHeader{}, err
		}
		w := binary.BigEndian.Uint16(buf[off:])
		return valueHeader{smallBlobID, int64(w & 0x0FFF)}, nil
	case b == largeBlobMarker:
		return valueHeader{largeBlobID, 0}, nil
	}
	return valueHeader{}, dataErrf(buf, off, nil, "invalid value header byte %#x", b)
}

const (
	// MapSizeBits is the width of the entry count in a map record head.
	MapSizeBits = 28
	// MapLevelBits is the width of the trie level in a map record head.
	MapLevelBits = 4
	// MapBitsPerLevel is the number of hash bits consumed per trie level.
	MapBitsPerLevel = 5
	// MapBucketsPerLevel is the fan-out of a branch, and the capacity of a leaf.
	MapBucketsPerLevel = 1 << MapBitsPerLevel
	// MapMaxLevels is the depth at which a leaf is forced regardless of size.
	MapMaxLevels = (32 + MapBitsPerLevel - 1) / MapBitsPerLevel
	// MapMaxSize is the largest entry count a map head can carry.
	MapMaxSize = 1<<MapSizeBits - 1

	mapDiffHead = 0xFFFFFFFF
)

// mapHead is the packed level/count word at the start of every map record.
type mapHead struct {
	level int
	count int
	diff  bool
}

func (h mapHead) encode() int32 {
	if h.diff {
		return int32(-1)
	}
	return int32(uint32(h.level)<<MapSizeBits | uint32(h.count))
}

func decodeMapHead(v uint32) mapHead {
	if v == mapDiffHead {
		return mapHead{diff: true}
	}
	return mapHead{
		level: int(v >> MapSizeBits),
		count: int(v & MapMaxSize),
	}
}
