package segment

import (
	"context"
	"fmt"

	"github.com/jrhy/segment/memory"
)

// SegmentNodeState is a node read from a node record. Its template and
// record ids are decoded eagerly; property values and children are read
// on demand.
type SegmentNodeState struct {
	r          *Reader
	id         RecordID
	templateID RecordID
	template   *NodeTemplate
	// child is the only child node for OneChildNode, or the child map for
	// ManyChildNodes.
	child RecordID
	props []RecordID
}

var (
	_ memory.NodeState  = (*SegmentNodeState)(nil)
	_ memory.Identified = (*SegmentNodeState)(nil)
)

// ReadNode decodes the node record at id.
func (r *Reader) ReadNode(ctx context.Context, id RecordID) (*SegmentNodeState, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return nil, err
	}
	n := &SegmentNodeState{r: r, id: id}
	n.templateID = c.recordID()
	if c.err != nil {
		return nil, fmt.Errorf("node %v: %w", id, c.err)
	}
	if n.template, err = r.ReadTemplate(ctx, n.templateID); err != nil {
		return nil, fmt.Errorf("node %v: %w", id, err)
	}
	if n.template.Children != NoChildNodes {
		n.child = c.recordID()
	}
	n.props = make([]RecordID, len(n.template.Properties))
	for i := range n.props {
		n.props[i] = c.recordID()
	}
	if c.err != nil {
		return nil, fmt.Errorf("node %v: %w", id, c.err)
	}
	return n, nil
}

// ID is the id of the node record.
func (n *SegmentNodeState) ID() RecordID { return n.id }

// Template is the decoded template of the node.
func (n *SegmentNodeState) Template() *NodeTemplate { return n.template }

// TemplateID is the id of the node's template record.
func (n *SegmentNodeState) TemplateID() RecordID { return n.templateID }

// Identity is the record id in text form.
func (n *SegmentNodeState) Identity() string { return n.id.String() }

func (n *SegmentNodeState) Exists() bool { return true }

func (n *SegmentNodeState) String() string {
	return "node " + n.id.String()
}

func (n *SegmentNodeState) typeProperties() []*memory.PropertyState {
	var ps []*memory.PropertyState
	if n.template.PrimaryType != "" {
		ps = append(ps, memory.NameProperty(memory.PrimaryType, n.template.PrimaryType))
	}
	if len(n.template.Mixins) > 0 {
		ps = append(ps, memory.Names(memory.MixinTypes, n.template.Mixins...))
	}
	return ps
}

func (n *SegmentNodeState) PropertyCount(context.Context) (int, error) {
	return len(n.typeProperties()) + len(n.props), nil
}

func (n *SegmentNodeState) HasProperty(_ context.Context, name string) (bool, error) {
	if n.typeProperty(name) != nil {
		return true, nil
	}
	return n.template.PropertyIndex(name) >= 0, nil
}

// typeProperty returns the primary type or mixins property of the given
// name, which the template holds.
func (n *SegmentNodeState) typeProperty(name string) *memory.PropertyState {
	for _, p := range n.typeProperties() {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (n *SegmentNodeState) Property(ctx context.Context, name string) (*memory.PropertyState, error) {
	if p := n.typeProperty(name); p != nil {
		return p, nil
	}
	i := n.template.PropertyIndex(name)
	if i < 0 {
		return nil, nil
	}
	return n.readProperty(ctx, i)
}

func (n *SegmentNodeState) readProperty(ctx context.Context, i int) (*memory.PropertyState, error) {
	t := n.template.Properties[i]
	ids := []RecordID{n.props[i]}
	if t.Multiple {
		var err error
		if ids, err = n.r.ReadList(ctx, n.props[i]); err != nil {
			return nil, fmt.Errorf("property %s: %w", t.Name, err)
		}
	}
	values := make([][]byte, len(ids))
	for j, id := range ids {
		var err error
		if values[j], err = n.r.ReadBytes(ctx, id); err != nil {
			return nil, fmt.Errorf("property %s value %d: %w", t.Name, j, err)
		}
	}
	return memory.NewProperty(t.Name, t.Type, t.Multiple, values...), nil
}

func (n *SegmentNodeState) Properties(ctx context.Context) ([]*memory.PropertyState, error) {
	ps := n.typeProperties()
	for i := range n.props {
		p, err := n.readProperty(ctx, i)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

// ChildMap reads the map of children of a node with many children. It
// returns nil for other nodes.
func (n *SegmentNodeState) ChildMap(ctx context.Context) (*MapRecord, error) {
	if n.template.Children != ManyChildNodes {
		return nil, nil
	}
	m, err := n.r.ReadMap(ctx, n.child)
	if err != nil {
		return nil, fmt.Errorf("child map of %v: %w", n.id, err)
	}
	return m, nil
}

func (n *SegmentNodeState) ChildNodeCount(ctx context.Context) (int, error) {
	switch n.template.Children {
	case NoChildNodes:
		return 0, nil
	case OneChildNode:
		return 1, nil
	}
	m, err := n.ChildMap(ctx)
	if err != nil {
		return 0, err
	}
	return m.Size(), nil
}

func (n *SegmentNodeState) HasChildNode(ctx context.Context, name string) (bool, error) {
	id, err := n.childID(ctx, name)
	return !id.IsZero(), err
}

// childID is the node id of the named child, or zero.
func (n *SegmentNodeState) childID(ctx context.Context, name string) (RecordID, error) {
	switch n.template.Children {
	case NoChildNodes:
		return RecordID{}, nil
	case OneChildNode:
		if name == n.template.ChildName {
			return n.child, nil
		}
		return RecordID{}, nil
	}
	m, err := n.ChildMap(ctx)
	if err != nil {
		return RecordID{}, err
	}
	e, ok, err := m.Entry(ctx, name)
	if err != nil || !ok {
		return RecordID{}, err
	}
	return e.Value, nil
}

func (n *SegmentNodeState) ChildNode(ctx context.Context, name string) (memory.NodeState, error) {
	id, err := n.childID(ctx, name)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return memory.MissingNode, nil
	}
	return n.r.ReadNode(ctx, id)
}

func (n *SegmentNodeState) ChildNodeEntries(ctx context.Context) ([]memory.ChildNodeEntry, error) {
	switch n.template.Children {
	case NoChildNodes:
		return nil, nil
	case OneChildNode:
		c, err := n.r.ReadNode(ctx, n.child)
		if err != nil {
			return nil, err
		}
		return []memory.ChildNodeEntry{{Name: n.template.ChildName, Node: c}}, nil
	}
	m, err := n.ChildMap(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := m.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]memory.ChildNodeEntry, len(entries))
	for i, e := range entries {
		c, err := n.r.ReadNode(ctx, e.Value)
		if err != nil {
			return nil, fmt.Errorf("child node %s: %w", e.Name, err)
		}
		out[i] = memory.ChildNodeEntry{Name: e.Name, Node: c}
	}
	return out, nil
}

// CompareAgainstBaseState compares record ids before contents when base is
// also a segment node: properties with the same value id under the same
// template are skipped, and child maps are compared bucket by bucket.
func (n *SegmentNodeState) CompareAgainstBaseState(ctx context.Context, base memory.NodeState, diff memory.Diff) (bool, error) {
	b, ok := base.(*SegmentNodeState)
	if !ok {
		return memory.CompareAgainstBaseState(ctx, n, base, diff)
	}
	if b.id == n.id {
		return true, nil
	}
	var (
		keepGoing bool
		err       error
	)
	if b.templateID == n.templateID {
		keepGoing, err = n.compareValueIDs(ctx, b, diff)
	} else {
		keepGoing, err = memory.CompareProperties(ctx, n, b, diff)
	}
	if err != nil || !keepGoing {
		return keepGoing, err
	}
	if n.template.Children == ManyChildNodes && b.template.Children == ManyChildNodes {
		if n.child == b.child {
			return true, nil
		}
		before, err := b.ChildMap(ctx)
		if err != nil {
			return false, err
		}
		after, err := n.ChildMap(ctx)
		if err != nil {
			return false, err
		}
		return after.Compare(ctx, before, &childMapDiff{r: n.r, ctx: ctx, diff: diff})
	}
	return memory.CompareChildNodes(ctx, n, b, diff)
}

// compareValueIDs compares the properties of two nodes sharing a template.
func (n *SegmentNodeState) compareValueIDs(ctx context.Context, b *SegmentNodeState, diff memory.Diff) (bool, error) {
	for i := range n.props {
		if n.props[i] == b.props[i] {
			continue
		}
		before, err := b.readProperty(ctx, i)
		if err != nil {
			return false, err
		}
		after, err := n.readProperty(ctx, i)
		if err != nil {
			return false, err
		}
		if before.Equal(after) {
			continue
		}
		if keepGoing, err := diff.PropertyChanged(before, after); err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	return true, nil
}

// childMapDiff turns child map entry differences into node differences.
type childMapDiff struct {
	r    *Reader
	ctx  context.Context
	diff memory.Diff
}

func (d *childMapDiff) EntryAdded(after MapEntry) (bool, error) {
	a, err := d.r.ReadNode(d.ctx, after.Value)
	if err != nil {
		return false, err
	}
	return d.diff.ChildNodeAdded(after.Name, a)
}

func (d *childMapDiff) EntryChanged(before, after MapEntry) (bool, error) {
	b, err := d.r.ReadNode(d.ctx, before.Value)
	if err != nil {
		return false, err
	}
	a, err := d.r.ReadNode(d.ctx, after.Value)
	if err != nil {
		return false, err
	}
	equal, err := memory.Equal(d.ctx, a, b)
	if err != nil || equal {
		return true, err
	}
	return d.diff.ChildNodeChanged(after.Name, b, a)
}

func (d *childMapDiff) EntryDeleted(before MapEntry) (bool, error) {
	b, err := d.r.ReadNode(d.ctx, before.Value)
	if err != nil {
		return false, err
	}
	return d.diff.ChildNodeDeleted(before.Name, b)
}
