package segment

import (
	"bytes"
	"sort"
	"strings"
	"unicode/utf16"
)

// MapEntry is one entry of a persistent map. Key is the id of a string
// record holding Name; Hash is MapHash(Name).
type MapEntry struct {
	Name  string
	Key   RecordID
	Value RecordID
	Hash  uint32
}

// NewMapEntry returns the entry for name with its hash filled in.
func NewMapEntry(name string, key, value RecordID) MapEntry {
	return MapEntry{name, key, value, MapHash(name)}
}

// MapHash is the 31-multiplier hash of name's UTF-16 code units. It
// decides both the order of entries in a leaf and their trie bucket, so it
// is part of the format.
func MapHash(name string) uint32 {
	var h uint32
	for _, r := range name {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			h = 31*h + uint32(hi)
			h = 31*h + uint32(lo)
			continue
		}
		h = 31*h + uint32(r)
	}
	return h
}

// Compare orders entries by unsigned hash, then by name, then by value id.
func (e MapEntry) Compare(o MapEntry) int {
	switch {
	case e.Hash < o.Hash:
		return -1
	case e.Hash > o.Hash:
		return 1
	}
	if c := strings.Compare(e.Name, o.Name); c != 0 {
		return c
	}
	return compareRecordIDs(e.Value, o.Value)
}

func compareRecordIDs(a, b RecordID) int {
	if c := bytes.Compare(a.Segment[:], b.Segment[:]); c != 0 {
		return c
	}
	switch {
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	}
	return 0
}

func sortMapEntries(entries []MapEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Compare(entries[j]) < 0
	})
}

// bucketIndex is the branch slot of hash at the given trie level. On the
// last level the shift count wraps modulo 32.
func bucketIndex(hash uint32, level int) int {
	shift := 32 - (level+1)*MapBitsPerLevel
	if shift < 0 {
		shift += 32
	}
	return int((int32(hash) >> uint(shift)) & (MapBucketsPerLevel - 1))
}
