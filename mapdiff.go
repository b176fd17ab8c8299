package segment

import (
	"context"
	"fmt"
)

// MapDiff receives the entry differences found by MapRecord.Compare. Each
// callback returns keepGoing; false or an error stops the comparison.
type MapDiff interface {
	EntryAdded(after MapEntry) (bool, error)
	EntryChanged(before, after MapEntry) (bool, error)
	EntryDeleted(before MapEntry) (bool, error)
}

// mapPair is a pair of corresponding subtries; nil stands for empty.
type mapPair struct {
	before, after *MapRecord
}

type mapPairStack struct {
	things []mapPair
}

func (stack *mapPairStack) pop() (mapPair, bool) {
	if len(stack.things) > 0 {
		popped := stack.things[len(stack.things)-1]
		stack.things = stack.things[0 : len(stack.things)-1]
		return popped, true
	}
	return mapPair{}, false
}

func (stack *mapPairStack) push(before, after *MapRecord) {
	stack.things = append(stack.things, mapPair{before, after})
}

// Compare reports the entries that differ between before and m. Buckets
// with equal ids are skipped without being read, and a diff record over
// the other map is resolved from its single changed entry.
func (m *MapRecord) Compare(ctx context.Context, before *MapRecord, diff MapDiff) (bool, error) {
	stack := mapPairStack{}
	stack.push(before, m)
	for {
		p, ok := stack.pop()
		if !ok {
			return true, nil
		}
		b, a := p.before, p.after
		var (
			keepGoing = true
			err       error
		)
		switch {
		case b != nil && a != nil && b.id == a.id:
		case a != nil && a.head.diff && b != nil && a.base.id == b.id:
			keepGoing, err = compareChanged(ctx, b, a.changed, diff, false)
		case b != nil && b.head.diff && a != nil && b.base.id == a.id:
			keepGoing, err = compareChanged(ctx, a, b.changed, diff, true)
		case b != nil && a != nil && !b.head.diff && !a.head.diff &&
			isBranch(b.head) && isBranch(a.head) && b.head.level == a.head.level:
			err = pushBuckets(ctx, &stack, b, a)
		default:
			keepGoing, err = compareEntries(ctx, b, a, diff)
		}
		if err != nil {
			return false, fmt.Errorf("compare maps: %w", err)
		}
		if !keepGoing {
			return false, nil
		}
	}
}

// compareChanged compares one entry of a diff record with the map the
// diff is based on. reverse is set when the diff record is the before map.
func compareChanged(ctx context.Context, other *MapRecord, changed MapEntry, diff MapDiff, reverse bool) (bool, error) {
	e, ok, err := other.Entry(ctx, changed.Name)
	if err != nil {
		return false, err
	}
	switch {
	case !ok && reverse:
		return diff.EntryDeleted(changed)
	case !ok:
		return diff.EntryAdded(changed)
	case e.Value == changed.Value:
		return true, nil
	case reverse:
		return diff.EntryChanged(changed, e)
	}
	return diff.EntryChanged(e, changed)
}

func pushBuckets(ctx context.Context, stack *mapPairStack, b, a *MapRecord) error {
	for i := MapBucketsPerLevel - 1; i >= 0; i-- {
		bid, aid := b.bucket(i), a.bucket(i)
		if bid == aid {
			continue
		}
		var bm, am *MapRecord
		var err error
		if !bid.IsZero() {
			if bm, err = b.r.ReadMap(ctx, bid); err != nil {
				return err
			}
		}
		if !aid.IsZero() {
			if am, err = a.r.ReadMap(ctx, aid); err != nil {
				return err
			}
		}
		stack.push(bm, am)
	}
	return nil
}

func compareEntries(ctx context.Context, b, a *MapRecord, diff MapDiff) (bool, error) {
	var before, after []MapEntry
	var err error
	if b != nil {
		if before, err = b.Entries(ctx); err != nil {
			return false, err
		}
	}
	if a != nil {
		if after, err = a.Entries(ctx); err != nil {
			return false, err
		}
	}
	byName := make(map[string]MapEntry, len(before))
	for _, e := range before {
		byName[e.Name] = e
	}
	for _, e := range after {
		old, ok := byName[e.Name]
		delete(byName, e.Name)
		var keepGoing bool
		switch {
		case !ok:
			keepGoing, err = diff.EntryAdded(e)
		case old.Value != e.Value:
			keepGoing, err = diff.EntryChanged(old, e)
		default:
			continue
		}
		if err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	for _, e := range before {
		if _, deleted := byName[e.Name]; !deleted {
			continue
		}
		if keepGoing, err := diff.EntryDeleted(e); err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	return true, nil
}
