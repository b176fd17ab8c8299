package segment

import (
	"context"
	"fmt"
	"math/bits"
)

// MapRecord is a decoded persistent map record: a trie leaf, a trie
// branch, or a diff over a base map.
type MapRecord struct {
	r    *Reader
	id   RecordID
	head mapHead

	// branch: the bitmap of occupied buckets and their children in
	// bucket order. diff: the hash of the changed entry.
	bitmap   uint32
	children []RecordID

	entries []MapEntry

	base    *MapRecord
	changed MapEntry
}

func isBranch(h mapHead) bool {
	return h.count > MapBucketsPerLevel && h.level < MapMaxLevels
}

// ReadMap decodes the map record at id.
func (r *Reader) ReadMap(ctx context.Context, id RecordID) (*MapRecord, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return nil, err
	}
	m := &MapRecord{r: r, id: id, head: decodeMapHead(uint32(c.int()))}
	switch {
	case c.err != nil:
	case m.head.diff:
		m.bitmap = uint32(c.int())
		key, value, base := c.recordID(), c.recordID(), c.recordID()
		if c.err != nil {
			break
		}
		name, err := r.ReadString(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("map diff %v key: %w", id, err)
		}
		m.changed = MapEntry{Name: name, Key: key, Value: value, Hash: m.bitmap}
		if m.base, err = r.ReadMap(ctx, base); err != nil {
			return nil, fmt.Errorf("map diff %v base: %w", id, err)
		}
	case isBranch(m.head):
		m.bitmap = uint32(c.int())
		m.children = make([]RecordID, bits.OnesCount32(m.bitmap))
		for i := range m.children {
			m.children[i] = c.recordID()
		}
	default:
		m.entries = make([]MapEntry, m.head.count)
		for i := range m.entries {
			m.entries[i].Hash = uint32(c.int())
		}
		for i := range m.entries {
			m.entries[i].Key = c.recordID()
			m.entries[i].Value = c.recordID()
		}
		if c.err != nil {
			break
		}
		for i := range m.entries {
			name, err := r.ReadString(ctx, m.entries[i].Key)
			if err != nil {
				return nil, fmt.Errorf("map leaf %v key %d: %w", id, i, err)
			}
			m.entries[i].Name = name
		}
	}
	if c.err != nil {
		return nil, fmt.Errorf("map %v: %w", id, c.err)
	}
	return m, nil
}

// ID returns the id of the record.
func (m *MapRecord) ID() RecordID { return m.id }

// IsDiff reports whether the record is a diff over a base map.
func (m *MapRecord) IsDiff() bool { return m.head.diff }

// IsLeaf reports whether the entries are stored in this record, or for a
// diff, in its base.
func (m *MapRecord) IsLeaf() bool {
	if m.head.diff {
		return m.base.IsLeaf()
	}
	return !isBranch(m.head)
}

// Level returns the trie level of the record.
func (m *MapRecord) Level() int {
	if m.head.diff {
		return m.base.Level()
	}
	return m.head.level
}

// Size returns the number of entries in the map.
func (m *MapRecord) Size() int {
	if m.head.diff {
		return m.base.Size()
	}
	return m.head.count
}

// Base returns the map a diff record applies to, or nil.
func (m *MapRecord) Base() *MapRecord { return m.base }

// Buckets returns the MapBucketsPerLevel child ids of a branch, with zero
// ids for empty buckets. It returns nil for other records.
func (m *MapRecord) Buckets() []RecordID {
	if m.head.diff || !isBranch(m.head) {
		return nil
	}
	buckets := make([]RecordID, MapBucketsPerLevel)
	j := 0
	for i := range buckets {
		if m.bitmap&(1<<uint(i)) != 0 {
			buckets[i] = m.children[j]
			j++
		}
	}
	return buckets
}

func (m *MapRecord) bucket(i int) RecordID {
	bit := uint32(1) << uint(i)
	if m.bitmap&bit == 0 {
		return RecordID{}
	}
	return m.children[bits.OnesCount32(m.bitmap&(bit-1))]
}

// Entry looks up the entry of the given name.
func (m *MapRecord) Entry(ctx context.Context, name string) (MapEntry, bool, error) {
	hash := MapHash(name)
	for {
		switch {
		case m.head.diff:
			if m.changed.Hash == hash && m.changed.Name == name {
				return m.changed, true, nil
			}
			m = m.base
			continue
		case isBranch(m.head):
			child := m.bucket(bucketIndex(hash, m.head.level))
			if child.IsZero() {
				return MapEntry{}, false, nil
			}
			next, err := m.r.ReadMap(ctx, child)
			if err != nil {
				return MapEntry{}, false, err
			}
			m = next
			continue
		}
		for _, e := range m.entries {
			if e.Hash == hash && e.Name == name {
				return e, true, nil
			}
			if e.Hash > hash {
				break
			}
		}
		return MapEntry{}, false, nil
	}
}

// Entries returns every entry of the map, in trie order.
func (m *MapRecord) Entries(ctx context.Context) ([]MapEntry, error) {
	if m.head.diff {
		entries, err := m.base.Entries(ctx)
		if err != nil {
			return nil, err
		}
		for i, e := range entries {
			if e.Hash == m.changed.Hash && e.Name == m.changed.Name {
				entries[i] = m.changed
			}
		}
		return entries, nil
	}
	if !isBranch(m.head) {
		entries := make([]MapEntry, len(m.entries))
		copy(entries, m.entries)
		return entries, nil
	}
	entries := make([]MapEntry, 0, m.head.count)
	for _, child := range m.children {
		c, err := m.r.ReadMap(ctx, child)
		if err != nil {
			return nil, err
		}
		es, err := c.Entries(ctx)
		if err != nil {
			return nil, err
		}
		entries = append(entries, es...)
	}
	return entries, nil
}

// Keys returns the names of every entry, in trie order.
func (m *MapRecord) Keys(ctx context.Context) ([]string, error) {
	entries, err := m.Entries(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Name
	}
	return keys, nil
}
