package segment

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// mapRef is a written (sub)map; the zero mapRef is "no map".
type mapRef struct {
	id   RecordID
	size int
}

// WriteMap writes base with the given changes applied and returns the new
// map's id. A zero RecordID in changes deletes that key. base may be nil
// for a new map. Unchanged buckets of base are shared, and overwriting a
// single existing key writes a diff record over base.
func (w *Writer) WriteMap(ctx context.Context, base *MapRecord, changes map[string]RecordID) (RecordID, error) {
	if base != nil && len(changes) == 0 {
		return base.id, nil
	}
	changes = maps.Clone(changes)
	if changes == nil {
		changes = map[string]RecordID{}
	}
	for base != nil && base.IsDiff() {
		if _, ok := changes[base.changed.Name]; !ok {
			changes[base.changed.Name] = base.changed.Value
		}
		base = base.base
	}
	if base != nil && len(changes) == 1 {
		for name, value := range changes {
			if value.IsZero() {
				break
			}
			e, ok, err := base.Entry(ctx, name)
			if err != nil {
				return RecordID{}, fmt.Errorf("map entry %s: %w", name, err)
			}
			if !ok {
				break
			}
			if e.Value == value {
				return base.id, nil
			}
			return w.write(NewMapDiffWriter(e.Hash, []RecordID{e.Key, value, base.id}))
		}
	}
	var entries []MapEntry
	for _, name := range slices.Sorted(maps.Keys(changes)) {
		value := changes[name]
		var key RecordID
		if base != nil {
			e, ok, err := base.Entry(ctx, name)
			if err != nil {
				return RecordID{}, fmt.Errorf("map entry %s: %w", name, err)
			}
			if ok {
				key = e.Key
			}
		}
		if key.IsZero() && !value.IsZero() {
			var err error
			if key, err = w.WriteString(name); err != nil {
				return RecordID{}, fmt.Errorf("map key %s: %w", name, err)
			}
		}
		if !key.IsZero() {
			entries = append(entries, MapEntry{Name: name, Key: key, Value: value, Hash: MapHash(name)})
		}
	}
	ref, err := w.writeMapBucket(ctx, base, entries, 0)
	if err != nil {
		return RecordID{}, err
	}
	return ref.id, nil
}

func splitToBuckets(entries []MapEntry, level int) [][]MapEntry {
	buckets := make([][]MapEntry, MapBucketsPerLevel)
	for _, e := range entries {
		i := bucketIndex(e.Hash, level)
		buckets[i] = append(buckets[i], e)
	}
	return buckets
}

func (w *Writer) writeMapBucket(ctx context.Context, base *MapRecord, entries []MapEntry, level int) (mapRef, error) {
	if len(entries) == 0 {
		switch {
		case base != nil:
			return mapRef{base.id, base.Size()}, nil
		case level == 0:
			id, err := w.write(NewEmptyMapLeafWriter())
			return mapRef{id: id}, err
		default:
			return mapRef{}, nil
		}
	}

	if base == nil {
		entries = slices.DeleteFunc(slices.Clone(entries), func(e MapEntry) bool { return e.Value.IsZero() })
		if len(entries) == 0 {
			return w.writeMapBucket(ctx, nil, nil, level)
		}
		if len(entries) <= MapBucketsPerLevel || level >= MapMaxLevels {
			id, err := w.write(NewMapLeafWriter(level, entries))
			return mapRef{id, len(entries)}, err
		}
		var refs [MapBucketsPerLevel]mapRef
		for i, bucket := range splitToBuckets(entries, level) {
			ref, err := w.writeMapBucket(ctx, nil, bucket, level+1)
			if err != nil {
				return mapRef{}, err
			}
			refs[i] = ref
		}
		return w.writeMapBranch(level, len(entries), refs)
	}

	if base.IsLeaf() {
		byName := make(map[string]MapEntry, base.Size()+len(entries))
		for _, e := range base.entries {
			byName[e.Name] = e
		}
		for _, e := range entries {
			if e.Value.IsZero() {
				delete(byName, e.Name)
			} else {
				byName[e.Name] = e
			}
		}
		return w.writeMapBucket(ctx, nil, slices.Collect(maps.Values(byName)), level)
	}

	var refs [MapBucketsPerLevel]mapRef
	size, count := 0, 0
	changes := splitToBuckets(entries, level)
	for i, id := range base.Buckets() {
		var child *MapRecord
		if !id.IsZero() {
			var err error
			if child, err = w.reader.ReadMap(ctx, id); err != nil {
				return mapRef{}, fmt.Errorf("map bucket %d: %w", i, err)
			}
		}
		ref, err := w.writeMapBucket(ctx, child, changes[i], level+1)
		if err != nil {
			return mapRef{}, err
		}
		refs[i] = ref
		if !ref.id.IsZero() {
			size += ref.size
			count++
		}
	}

	switch {
	case size > MapBucketsPerLevel:
		return w.writeMapBranch(level, size, refs)
	case count <= 1:
		for _, ref := range refs {
			if !ref.id.IsZero() {
				return ref, nil
			}
		}
		return w.writeMapBucket(ctx, nil, nil, level)
	}
	var all []MapEntry
	for _, ref := range refs {
		if ref.id.IsZero() {
			continue
		}
		child, err := w.reader.ReadMap(ctx, ref.id)
		if err != nil {
			return mapRef{}, err
		}
		es, err := child.Entries(ctx)
		if err != nil {
			return mapRef{}, err
		}
		all = append(all, es...)
	}
	id, err := w.write(NewMapLeafWriter(level, all))
	return mapRef{id, len(all)}, err
}

func (w *Writer) writeMapBranch(level, size int, refs [MapBucketsPerLevel]mapRef) (mapRef, error) {
	var bitmap uint32
	var ids []RecordID
	for i, ref := range refs {
		if !ref.id.IsZero() {
			bitmap |= 1 << uint(i)
			ids = append(ids, ref.id)
		}
	}
	id, err := w.write(NewMapBranchWriter(level, size, bitmap, ids))
	return mapRef{id, size}, err
}
