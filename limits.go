package segment

import "fmt"

// Version is a segment format version. It selects historical record
// layouts; only templates differ between the supported versions.
type Version uint8

const (
	// V10 stores one property name id next to each template property type.
	V10 Version = 10
	// V11 stores all template property names as one shared list.
	V11 Version = 11

	// LatestVersion is what new writers produce by default.
	LatestVersion = V11
)

// OnOrAfter reports whether v is at least other.
func (v Version) OnOrAfter(other Version) bool {
	return v >= other
}

// Supported reports whether v is a version this package can read and write.
func (v Version) Supported() bool {
	return v == V10 || v == V11
}

func (v Version) check() error {
	if !v.Supported() {
		return fmt.Errorf("version %d: %w", v, ErrUnsupportedVersion)
	}
	return nil
}

func (v Version) String() string {
	return fmt.Sprintf("V%d", uint8(v))
}

// Limits are the size thresholds that pick between record layouts. They are
// part of the on-disk format, so readers and writers of one store must agree.
type Limits struct {
	// SmallLimit is the first length that needs a medium (2 byte) value header.
	SmallLimit int
	// MediumLimit is the first length that must be stored in blocks.
	MediumLimit int
	// BlobIDSmallLimit is the first blob id length that needs the large form.
	BlobIDSmallLimit int
	// BlockSize is the size of the blocks a large value is cut into.
	BlockSize int
	// ListBucketSize is the fan-out of list buckets.
	ListBucketSize int
}

// DefaultLimits returns the limits of the current segment format.
func DefaultLimits() Limits {
	return Limits{
		SmallLimit:       1 << 7,
		MediumLimit:      1<<14 + 1<<7,
		BlobIDSmallLimit: 1 << 12,
		BlockSize:        1 << 12,
		ListBucketSize:   255,
	}
}

// Validate checks that every limit fits the header bit field that encodes it.
func (l Limits) Validate() error {
	switch {
	case l.SmallLimit < 1 || l.SmallLimit > 1<<7:
		return fmt.Errorf("small limit %d: %w", l.SmallLimit, ErrInvalidLimits)
	case l.MediumLimit <= l.SmallLimit || l.MediumLimit-l.SmallLimit > 1<<14:
		return fmt.Errorf("medium limit %d: %w", l.MediumLimit, ErrInvalidLimits)
	case l.BlobIDSmallLimit < 1 || l.BlobIDSmallLimit > 1<<12:
		return fmt.Errorf("blob id small limit %d: %w", l.BlobIDSmallLimit, ErrInvalidLimits)
	case l.BlockSize < 1 || l.BlockSize > MaxSegmentSize/2:
		return fmt.Errorf("block size %d: %w", l.BlockSize, ErrInvalidLimits)
	case l.ListBucketSize < 2 || l.ListBucketSize*RecordIDBytes > MaxSegmentSize/2:
		return fmt.Errorf("list bucket size %d: %w", l.ListBucketSize, ErrInvalidLimits)
	}
	return nil
}

func (l Limits) isSmall(n int) bool {
	return n < l.SmallLimit
}

func (l Limits) isInline(n int) bool {
	return n < l.MediumLimit
}
