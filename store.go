package segment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// HeadName is the Persist name of the current Root.
	HeadName = "root"

	// DefaultCacheSize is the number of segments a Store caches by default.
	DefaultCacheSize = 256
	// DefaultConcurrency is the number of segments a Store persists at once.
	DefaultConcurrency = 40
)

// Persist is the interface for loading and storing serialized segments and
// the head pointer.
type Persist interface {
	// Store makes the given bytes accessible by the given name, replacing
	// what was there. Segment names are never stored twice with different
	// bytes.
	Store(context.Context, string, []byte) error
	// Load retrieves the previously-stored bytes by the given name.
	Load(context.Context, string) ([]byte, error)
}

// SegmentName is the Persist name of the segment with the given id.
func SegmentName(id SegmentID) string {
	return "segments/" + id.String()
}

// SegmentSource resolves segment ids to segments.
type SegmentSource interface {
	Segment(ctx context.Context, id SegmentID) (*Segment, error)
}

// Root identifies a persisted tree: its root node and the format version
// it was written in.
type Root struct {
	Node    RecordID `json:"node"`
	Version Version  `json:"version"`
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Persist stores the serialized segments. Required.
	Persist Persist
	// Cache holds verified segments. It may be shared by Stores over the
	// same Persist. Nil means a new cache of CacheSize segments.
	Cache     SegmentCache
	CacheSize int
	// Concurrency bounds parallel Persist.Store calls in WriteSegments.
	Concurrency int
	Logger      *zap.Logger
	// Metrics, if nil, are created and registered on Registerer.
	Metrics    *Metrics
	Registerer prometheus.Registerer
}

// Store reads and writes whole segments through a Persist, verifying and
// caching what it loads.
type Store struct {
	persist     Persist
	cache       SegmentCache
	concurrency int
	logger      *zap.Logger
	metrics     *Metrics
}

// NewStore returns a Store for the given configuration.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Persist == nil {
		return nil, errors.New("no persistence mechanism set; set StoreConfig.Persist")
	}
	if cfg.Cache == nil {
		size := cfg.CacheSize
		if size <= 0 {
			size = DefaultCacheSize
		}
		cfg.Cache = NewSegmentCache(size)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.Registerer)
	}
	return &Store{
		persist:     cfg.Persist,
		cache:       cfg.Cache,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}, nil
}

// Metrics returns the store's counters.
func (s *Store) Metrics() *Metrics { return s.metrics }

// WriteSegments serializes and stores the given segments concurrently. The
// first error stops the remaining stores.
func (s *Store) WriteSegments(ctx context.Context, segments []*Segment) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, seg := range segments {
		g.Go(func() error {
			b, err := seg.MarshalBinary()
			if err != nil {
				return fmt.Errorf("marshal segment %v: %w", seg.id, err)
			}
			if err := s.persist.Store(ctx, SegmentName(seg.id), b); err != nil {
				return fmt.Errorf("persist store %v: %w", seg.id, err)
			}
			s.cache.Add(seg.id, seg)
			s.metrics.segmentPersisted()
			s.logger.Debug("segment persisted", zap.Stringer("segment", seg.id), zap.Int("bytes", len(b)))
			return nil
		})
	}
	return g.Wait()
}

// Segment returns the segment with the given id, loading and verifying it
// if it is not cached.
func (s *Store) Segment(ctx context.Context, id SegmentID) (*Segment, error) {
	if seg, ok := s.cache.Get(id); ok {
		return seg, nil
	}
	s.metrics.cacheMiss()
	b, err := s.persist.Load(ctx, SegmentName(id))
	if err != nil {
		return nil, fmt.Errorf("persist load %v: %w: %w", id, ErrSegmentNotFound, err)
	}
	seg, err := UnmarshalSegment(b)
	if err != nil {
		return nil, fmt.Errorf("unmarshal segment %v: %w", id, err)
	}
	if seg.id != id {
		return nil, fmt.Errorf("segment %v stored as %v: %w", seg.id, id, ErrChecksum)
	}
	s.cache.Add(id, seg)
	s.logger.Debug("segment loaded", zap.Stringer("segment", id), zap.Int("bytes", len(b)))
	return seg, nil
}

// Head loads the current Root. A store that has never been committed to
// returns ErrNotFound.
func (s *Store) Head(ctx context.Context) (Root, error) {
	b, err := s.persist.Load(ctx, HeadName)
	if err != nil {
		return Root{}, fmt.Errorf("persist load %s: %w: %w", HeadName, ErrNotFound, err)
	}
	var r Root
	if err := json.Unmarshal(b, &r); err != nil {
		return Root{}, fmt.Errorf("unmarshal %s: %w", HeadName, err)
	}
	if err := r.Version.check(); err != nil {
		return Root{}, err
	}
	return r, nil
}

// SetHead stores r as the current Root.
func (s *Store) SetHead(ctx context.Context, r Root) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal root: %w", err)
	}
	if err := s.persist.Store(ctx, HeadName, b); err != nil {
		return fmt.Errorf("persist store %s: %w", HeadName, err)
	}
	s.logger.Info("head updated", zap.Stringer("node", r.Node), zap.Stringer("version", r.Version))
	return nil
}
