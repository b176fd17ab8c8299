package segment

import lru "github.com/hashicorp/golang-lru"

// SegmentCache caches verified, immutable segments. One cache can be
// shared by any number of Stores over the same Persist.
type SegmentCache interface {
	Add(id SegmentID, s *Segment)
	Get(id SegmentID) (*Segment, bool)
}

type arcCache struct {
	arc *lru.ARCCache
}

// NewSegmentCache creates a new ARC-based segment cache of the given size.
func NewSegmentCache(size int) SegmentCache {
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}
	return arcCache{cache}
}

func (c arcCache) Add(id SegmentID, s *Segment) {
	c.arc.Add(id, s)
}

func (c arcCache) Get(id SegmentID) (*Segment, bool) {
	v, ok := c.arc.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Segment), true
}
