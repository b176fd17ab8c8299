package segment

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/jrhy/segment/memory"
)

// DefaultWriterCacheSize is the number of strings and templates a Writer
// remembers in order to write each only once.
const DefaultWriterCacheSize = 4096

// WriterConfig configures a Writer.
type WriterConfig struct {
	// Version and Limits are as in BuilderConfig.
	Version Version
	Limits  Limits
	Logger  *zap.Logger
	// BlobRefs, if set, is told about every blob reference written, in
	// addition to the segment it is written to.
	BlobRefs BlobRefRecorder
	// CacheSize bounds the string and template de-duplication caches.
	CacheSize int
}

// Writer turns values, lists, maps, templates and node trees into records,
// and commits them to a Store. It is meant for one goroutine at a time.
type Writer struct {
	store     *Store
	builder   *SegmentBuilder
	reader    *Reader
	refs      blobRecorders
	logger    *zap.Logger
	strings   *lru.Cache
	templates *lru.Cache
}

// NewWriter returns a Writer whose segments go to store.
func NewWriter(store *Store, cfg WriterConfig) (*Writer, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultWriterCacheSize
	}
	b, err := NewSegmentBuilder(BuilderConfig{
		Version: cfg.Version,
		Limits:  cfg.Limits,
		Logger:  cfg.Logger,
		Metrics: store.Metrics(),
	})
	if err != nil {
		return nil, err
	}
	strs, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	templates, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		store:     store,
		builder:   b,
		refs:      blobRecorders{b},
		logger:    cfg.Logger,
		strings:   strs,
		templates: templates,
	}
	if cfg.BlobRefs != nil {
		w.refs = append(w.refs, cfg.BlobRefs)
	}
	w.reader = NewReader(w)
	return w, nil
}

// Segment finds a segment among those being built, then in the store.
func (w *Writer) Segment(ctx context.Context, id SegmentID) (*Segment, error) {
	if s, ok := w.builder.Segment(id); ok {
		return s, nil
	}
	return w.store.Segment(ctx, id)
}

// Reader reads records written so far, flushed or not.
func (w *Writer) Reader() *Reader { return w.reader }

// Version is the format version the Writer writes.
func (w *Writer) Version() Version { return w.builder.Version() }

func (w *Writer) write(rw RecordWriter) (RecordID, error) {
	return rw.Write(w.builder, w.refs)
}

// WriteBytes writes data inline if it is short enough, otherwise as
// blocks behind a value pointer.
func (w *Writer) WriteBytes(data []byte) (RecordID, error) {
	limits := w.builder.Limits()
	if limits.isInline(len(data)) {
		rw, err := NewValueWriter(data, limits)
		if err != nil {
			return RecordID{}, err
		}
		return w.write(rw)
	}
	var blocks []RecordID
	for off := 0; off < len(data); off += limits.BlockSize {
		id, err := w.write(NewBlockWriter(data, off, min(limits.BlockSize, len(data)-off)))
		if err != nil {
			return RecordID{}, fmt.Errorf("block at %d: %w", off, err)
		}
		blocks = append(blocks, id)
	}
	list, err := w.WriteList(blocks)
	if err != nil {
		return RecordID{}, fmt.Errorf("block list: %w", err)
	}
	rw, err := NewValuePointerWriter(int64(len(data)), list, limits)
	if err != nil {
		return RecordID{}, err
	}
	return w.write(rw)
}

// WriteString writes s as a value. Strings written recently by this
// Writer are not written again.
func (w *Writer) WriteString(s string) (RecordID, error) {
	if id, ok := w.strings.Get(s); ok {
		return id.(RecordID), nil
	}
	id, err := w.WriteBytes([]byte(s))
	if err != nil {
		return RecordID{}, err
	}
	w.strings.Add(s, id)
	return id, nil
}

// WriteBlob writes a reference to an external blob, inline if the blob id
// is short enough and through a string record otherwise.
func (w *Writer) WriteBlob(blobID string) (RecordID, error) {
	limits := w.builder.Limits()
	if len(blobID) < limits.BlobIDSmallLimit {
		rw, err := NewSmallBlobIDWriter([]byte(blobID), limits)
		if err != nil {
			return RecordID{}, err
		}
		return w.write(rw)
	}
	s, err := w.WriteBytes([]byte(blobID))
	if err != nil {
		return RecordID{}, fmt.Errorf("blob id: %w", err)
	}
	return w.write(NewLargeBlobIDWriter(s))
}

// WriteList writes ids as a list. Buckets are written bottom up, one level
// at a time; a bucket of one would hold only its element, so the element
// takes its place.
func (w *Writer) WriteList(ids []RecordID) (RecordID, error) {
	if len(ids) == 0 {
		return w.write(NewEmptyListWriter())
	}
	size := w.builder.Limits().ListBucketSize
	level := ids
	for len(level) > 1 {
		next := make([]RecordID, 0, (len(level)+size-1)/size)
		for i := 0; i < len(level); i += size {
			bucket := level[i:min(i+size, len(level))]
			if len(bucket) == 1 {
				next = append(next, bucket[0])
				continue
			}
			id, err := w.write(NewListBucketWriter(bucket))
			if err != nil {
				return RecordID{}, err
			}
			next = append(next, id)
		}
		level = next
	}
	return w.write(NewListWriter(len(ids), level[0]))
}

// WriteProperty writes the value of p: the value itself if p is single
// valued, a list of values otherwise.
func (w *Writer) WriteProperty(p *memory.PropertyState) (RecordID, error) {
	if !p.Multiple {
		return w.WriteBytes(p.Values[0])
	}
	ids := make([]RecordID, len(p.Values))
	for i, v := range p.Values {
		var err error
		if ids[i], err = w.WriteBytes(v); err != nil {
			return RecordID{}, fmt.Errorf("value %d: %w", i, err)
		}
	}
	return w.WriteList(ids)
}

// WriteTemplate writes t, or returns the id of an equal template this
// Writer wrote recently.
func (w *Writer) WriteTemplate(t *NodeTemplate) (RecordID, error) {
	key := t.key()
	if id, ok := w.templates.Get(key); ok {
		return id.(RecordID), nil
	}
	var (
		rec TemplateRecord
		err error
	)
	if t.PrimaryType != "" {
		if rec.PrimaryType, err = w.WriteString(t.PrimaryType); err != nil {
			return RecordID{}, err
		}
	}
	for _, m := range t.Mixins {
		id, err := w.WriteString(m)
		if err != nil {
			return RecordID{}, err
		}
		rec.Mixins = append(rec.Mixins, id)
	}
	rec.Children = t.Children
	if t.Children == OneChildNode {
		if rec.ChildName, err = w.WriteString(t.ChildName); err != nil {
			return RecordID{}, err
		}
	}
	for _, p := range t.Properties {
		id, err := w.WriteString(p.Name)
		if err != nil {
			return RecordID{}, err
		}
		rec.PropertyNames = append(rec.PropertyNames, id)
		rec.PropertyTypes = append(rec.PropertyTypes, p.typeByte())
	}
	version := w.builder.Version()
	if version.OnOrAfter(V11) {
		if len(rec.PropertyNames) > 0 {
			if rec.NamesList, err = w.WriteList(rec.PropertyNames); err != nil {
				return RecordID{}, err
			}
		}
		rec.PropertyNames = nil
	}
	rw, err := NewTemplateWriter(rec, version)
	if err != nil {
		return RecordID{}, err
	}
	id, err := w.write(rw)
	if err != nil {
		return RecordID{}, err
	}
	w.templates.Add(key, id)
	return id, nil
}

// WriteNode writes n and everything below it that is not already stored,
// and returns the id of its node record. A node read from this Writer's
// store is not written again, and only the changed children of an edited
// stored node are written.
func (w *Writer) WriteNode(ctx context.Context, n memory.NodeState) (RecordID, error) {
	if sn, ok := n.(*SegmentNodeState); ok && w.readable(ctx, sn.id) {
		return sn.id, nil
	}
	var base *SegmentNodeState
	if mn, ok := n.(*memory.ModifiedNode); ok {
		if sn, ok := mn.Base().(*SegmentNodeState); ok && w.readable(ctx, sn.id) {
			base = sn
		}
	}

	t, err := NewTemplate(ctx, n)
	if err != nil {
		return RecordID{}, err
	}
	templateID, err := w.WriteTemplate(t)
	if err != nil {
		return RecordID{}, fmt.Errorf("template: %w", err)
	}
	ids := []RecordID{templateID}
	switch t.Children {
	case OneChildNode:
		child, err := n.ChildNode(ctx, t.ChildName)
		if err != nil {
			return RecordID{}, err
		}
		id, err := w.WriteNode(ctx, child)
		if err != nil {
			return RecordID{}, fmt.Errorf("child node %s: %w", t.ChildName, err)
		}
		ids = append(ids, id)
	case ManyChildNodes:
		id, err := w.writeChildMap(ctx, n, base)
		if err != nil {
			return RecordID{}, err
		}
		ids = append(ids, id)
	}
	for _, pt := range t.Properties {
		id, err := w.writePropertyOf(ctx, n, base, pt.Name)
		if err != nil {
			return RecordID{}, fmt.Errorf("property %s: %w", pt.Name, err)
		}
		ids = append(ids, id)
	}
	return w.write(NewNodeWriter(ids))
}

// readable reports whether id can be read through this Writer.
func (w *Writer) readable(ctx context.Context, id RecordID) bool {
	_, err := w.Segment(ctx, id.Segment)
	return err == nil
}

// writePropertyOf writes the named property of n, reusing the value id of
// base's property if the two are equal.
func (w *Writer) writePropertyOf(ctx context.Context, n memory.NodeState, base *SegmentNodeState, name string) (RecordID, error) {
	p, err := n.Property(ctx, name)
	if err != nil {
		return RecordID{}, err
	}
	if base != nil {
		if i := base.template.PropertyIndex(name); i >= 0 {
			bp, err := base.readProperty(ctx, i)
			if err != nil {
				return RecordID{}, err
			}
			if bp.Equal(p) {
				return base.props[i], nil
			}
		}
	}
	return w.WriteProperty(p)
}

// writeChildMap writes the child map of n. Over a stored base that has a
// child map, only the edited children are written and the rest of the
// base map is shared.
func (w *Writer) writeChildMap(ctx context.Context, n memory.NodeState, base *SegmentNodeState) (RecordID, error) {
	if base != nil && base.template.Children == ManyChildNodes {
		baseMap, err := base.ChildMap(ctx)
		if err != nil {
			return RecordID{}, err
		}
		c := &childChanges{ctx: ctx, w: w, changes: map[string]RecordID{}}
		if err := n.(*memory.ModifiedNode).CompareEdits(ctx, c); err != nil {
			return RecordID{}, err
		}
		return w.WriteMap(ctx, baseMap, c.changes)
	}
	entries, err := n.ChildNodeEntries(ctx)
	if err != nil {
		return RecordID{}, err
	}
	changes := make(map[string]RecordID, len(entries))
	for _, e := range entries {
		id, err := w.WriteNode(ctx, e.Node)
		if err != nil {
			return RecordID{}, fmt.Errorf("child node %s: %w", e.Name, err)
		}
		changes[e.Name] = id
	}
	return w.WriteMap(ctx, nil, changes)
}

// childChanges writes added and changed children as they are reported.
type childChanges struct {
	ctx     context.Context
	w       *Writer
	changes map[string]RecordID
}

func (c *childChanges) PropertyAdded(*memory.PropertyState) (bool, error)   { return true, nil }
func (c *childChanges) PropertyDeleted(*memory.PropertyState) (bool, error) { return true, nil }

func (c *childChanges) PropertyChanged(_, _ *memory.PropertyState) (bool, error) {
	return true, nil
}

func (c *childChanges) ChildNodeAdded(name string, after memory.NodeState) (bool, error) {
	return c.put(name, after)
}

func (c *childChanges) ChildNodeChanged(name string, _, after memory.NodeState) (bool, error) {
	return c.put(name, after)
}

func (c *childChanges) ChildNodeDeleted(name string, _ memory.NodeState) (bool, error) {
	c.changes[name] = RecordID{}
	return true, nil
}

func (c *childChanges) put(name string, n memory.NodeState) (bool, error) {
	id, err := c.w.WriteNode(c.ctx, n)
	if err != nil {
		return false, fmt.Errorf("child node %s: %w", name, err)
	}
	c.changes[name] = id
	return true, nil
}

// Flush writes every segment built so far to the store.
func (w *Writer) Flush(ctx context.Context) error {
	return w.builder.Flush(ctx, w.store)
}

// Commit writes n, flushes, and makes n the store's head.
func (w *Writer) Commit(ctx context.Context, n memory.NodeState) (Root, error) {
	id, err := w.WriteNode(ctx, n)
	if err != nil {
		return Root{}, fmt.Errorf("write node: %w", err)
	}
	if err := w.Flush(ctx); err != nil {
		return Root{}, err
	}
	root := Root{Node: id, Version: w.builder.Version()}
	if err := w.store.SetHead(ctx, root); err != nil {
		return Root{}, err
	}
	w.logger.Debug("committed", zap.Stringer("node", id))
	return root, nil
}
