package segment

import (
	"context"
	"fmt"
)

// Reader decodes records from the segments of a SegmentSource.
type Reader struct {
	src SegmentSource
}

// NewReader returns a Reader over src.
func NewReader(src SegmentSource) *Reader {
	return &Reader{src}
}

func (r *Reader) cursor(ctx context.Context, id RecordID) (*cursor, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("read zero record id: %w", ErrNotFound)
	}
	seg, err := r.src.Segment(ctx, id.Segment)
	if err != nil {
		return nil, err
	}
	return seg.cursor(id), nil
}

// ReadBytes reads an inline or block-backed value.
func (r *Reader) ReadBytes(ctx context.Context, id RecordID) ([]byte, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return nil, err
	}
	h := c.valueHeader()
	switch {
	case c.err != nil:
		return nil, fmt.Errorf("value %v: %w", id, c.err)
	case h.kind == smallValue || h.kind == mediumValue:
		b := c.bytes(int(h.length))
		if c.err != nil {
			return nil, fmt.Errorf("value %v: %w", id, c.err)
		}
		return append([]byte(nil), b...), nil
	case h.kind == longValue:
		blocks := c.recordID()
		if c.err != nil {
			return nil, fmt.Errorf("value %v: %w", id, c.err)
		}
		return r.readBlocks(ctx, blocks, h.length, c.seg.limits)
	}
	return nil, dataErrf(c.seg.data, id.Offset, nil, "%s header where a value was expected", h.kind)
}

func (r *Reader) readBlocks(ctx context.Context, list RecordID, length int64, limits Limits) ([]byte, error) {
	ids, err := r.ReadList(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("block list: %w", err)
	}
	bs := int64(limits.BlockSize)
	if want := (length + bs - 1) / bs; int64(len(ids)) != want {
		return nil, fmt.Errorf("block list %v has %d blocks, want %d", list, len(ids), want)
	}
	out := make([]byte, 0, length)
	for _, id := range ids {
		n := min(bs, length-int64(len(out)))
		c, err := r.cursor(ctx, id)
		if err != nil {
			return nil, err
		}
		b := c.bytes(int(n))
		if c.err != nil {
			return nil, fmt.Errorf("block %v: %w", id, c.err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// ReadString reads a value as a string.
func (r *Reader) ReadString(ctx context.Context, id RecordID) (string, error) {
	b, err := r.ReadBytes(ctx, id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBlobID reads a small or large blob id record.
func (r *Reader) ReadBlobID(ctx context.Context, id RecordID) (string, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return "", err
	}
	h := c.valueHeader()
	switch {
	case c.err != nil:
		return "", fmt.Errorf("blob id %v: %w", id, c.err)
	case h.kind == smallBlobID:
		b := c.bytes(int(h.length))
		if c.err != nil {
			return "", fmt.Errorf("blob id %v: %w", id, c.err)
		}
		return string(b), nil
	case h.kind == largeBlobID:
		s := c.recordID()
		if c.err != nil {
			return "", fmt.Errorf("blob id %v: %w", id, c.err)
		}
		return r.ReadString(ctx, s)
	}
	return "", dataErrf(c.seg.data, id.Offset, nil, "%s header where a blob id was expected", h.kind)
}

// IsBlobID reports whether the value record at id is a blob id.
func (r *Reader) IsBlobID(ctx context.Context, id RecordID) (bool, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return false, err
	}
	h := c.valueHeader()
	if c.err != nil {
		return false, fmt.Errorf("value %v: %w", id, c.err)
	}
	return h.kind == smallBlobID || h.kind == largeBlobID, nil
}

// ReadList reads the elements of a list. An empty list reads as an empty,
// non-nil slice.
func (r *Reader) ReadList(ctx context.Context, id RecordID) ([]RecordID, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return nil, err
	}
	n := int(c.int())
	if c.err != nil {
		return nil, fmt.Errorf("list %v: %w", id, c.err)
	}
	if n < 0 {
		return nil, dataErrf(c.seg.data, id.Offset, nil, "negative list size %d", n)
	}
	out := make([]RecordID, 0, n)
	if n == 0 {
		return out, nil
	}
	head := c.recordID()
	if c.err != nil {
		return nil, fmt.Errorf("list %v: %w", id, c.err)
	}
	return r.appendBucket(ctx, out, head, n, c.seg.limits.ListBucketSize)
}

// bucketCapacity is the number of elements below each child of a bucket
// that holds n elements: the smallest power of size whose size-fold
// covers n.
func bucketCapacity(n, size int) int {
	c := 1
	for c*size < n {
		c *= size
	}
	return c
}

// appendBucket appends the n elements below id. A subtree of one element
// is the element itself, since single element buckets are never written.
func (r *Reader) appendBucket(ctx context.Context, out []RecordID, id RecordID, n, size int) ([]RecordID, error) {
	if n == 1 {
		return append(out, id), nil
	}
	capacity := bucketCapacity(n, size)
	children := (n + capacity - 1) / capacity
	c, err := r.cursor(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]RecordID, children)
	for i := range ids {
		ids[i] = c.recordID()
	}
	if c.err != nil {
		return nil, fmt.Errorf("bucket %v: %w", id, c.err)
	}
	for i, child := range ids {
		out, err = r.appendBucket(ctx, out, child, min(capacity, n-i*capacity), size)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ListSize reads the element count of a list.
func (r *Reader) ListSize(ctx context.Context, id RecordID) (int, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return 0, err
	}
	n := int(c.int())
	if c.err != nil {
		return 0, fmt.Errorf("list %v: %w", id, c.err)
	}
	return n, nil
}
