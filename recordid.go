package segment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// RecordIDBytes is the encoded width of a record id inside a record:
	// one reference-table index byte and a two byte scaled offset.
	RecordIDBytes = 3
	// RecordAlignBits is the alignment of record offsets, as a power of two.
	RecordAlignBits = 2
	// MaxSegmentSize is the largest offset range addressable by an encoded id.
	MaxSegmentSize = 1 << (16 + RecordAlignBits)
	// MaxSegmentRefs is the number of other segments one segment can reference.
	MaxSegmentRefs = 255
)

// SegmentID identifies a segment. Segment ids are random and never reused.
type SegmentID uuid.UUID

// NewSegmentID returns a fresh random segment id.
func NewSegmentID() SegmentID {
	return SegmentID(uuid.New())
}

// ParseSegmentID parses the canonical text form of a segment id.
func ParseSegmentID(s string) (SegmentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return SegmentID{}, fmt.Errorf("parse segment id: %w", err)
	}
	return SegmentID(u), nil
}

func (id SegmentID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero segment id.
func (id SegmentID) IsZero() bool {
	return id == SegmentID{}
}

// RecordID locates a record. It carries no content semantics: writing the
// same data twice yields two different ids.
type RecordID struct {
	Segment SegmentID
	Offset  int
}

// IsZero reports whether id is the zero RecordID, which stands for "no record".
func (id RecordID) IsZero() bool {
	return id == RecordID{}
}

func (id RecordID) String() string {
	return id.Segment.String() + ":" + strconv.Itoa(id.Offset)
}

// ParseRecordID parses the form produced by RecordID.String.
func ParseRecordID(s string) (RecordID, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return RecordID{}, fmt.Errorf("record id %q: missing offset", s)
	}
	seg, err := ParseSegmentID(s[:i])
	if err != nil {
		return RecordID{}, err
	}
	off, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return RecordID{}, fmt.Errorf("record id %q: %w", s, err)
	}
	if off < 0 || off >= MaxSegmentSize || off&(1<<RecordAlignBits-1) != 0 {
		return RecordID{}, fmt.Errorf("record id %q: bad offset", s)
	}
	return RecordID{seg, off}, nil
}

func (id RecordID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *RecordID) UnmarshalText(b []byte) error {
	parsed, err := ParseRecordID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// RecordType tags the layout of a record.
type RecordType uint8

const (
	// Leaf is a hash trie leaf holding up to MapBucketsPerLevel entries.
	Leaf RecordType = iota + 1
	// Branch is a hash trie branch, or a map diff.
	Branch
	// Bucket is a list bucket: a bare sequence of ids.
	Bucket
	// List is a list head: count and the id of its root bucket.
	List
	// Value is an inline value, a value pointer, or a blob id.
	Value
	// Block is a raw chunk of a large value.
	Block
	// Template is a node shape shared by many nodes.
	Template
	// Node is a node's dependency id list.
	Node
)

func (t RecordType) String() string {
	switch t {
	case Leaf:
		return "leaf"
	case Branch:
		return "branch"
	case Bucket:
		return "bucket"
	case List:
		return "list"
	case Value:
		return "value"
	case Block:
		return "block"
	case Template:
		return "template"
	case Node:
		return "node"
	default:
		return "unknown"
	}
}
