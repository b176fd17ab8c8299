package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// ModifiedNode is an immutable overlay of edits on a base node. A nil
// entry in either edit map is a tombstone: it hides the base's property
// or child of that name. Names absent from the edit maps fall through to
// the base.
//
// The base of a ModifiedNode is never itself a ModifiedNode; With
// collapses chains of overlays into one.
type ModifiedNode struct {
	base       NodeState
	properties map[string]*PropertyState
	nodes      map[string]NodeState
}

// With returns base with the given edits applied. The maps are copied.
// With no edits at all, base itself is returned.
func With(base NodeState, properties map[string]*PropertyState, nodes map[string]NodeState) NodeState {
	if len(properties) == 0 && len(nodes) == 0 {
		return base
	}
	return Collapse(&ModifiedNode{
		base:       base,
		properties: maps.Clone(properties),
		nodes:      maps.Clone(nodes),
	})
}

// Collapse rebases an overlay whose base is also an overlay onto the
// innermost non-overlay base, applying the outer edits over the inner
// ones. Collapsing a collapsed overlay returns it unchanged.
func Collapse(n *ModifiedNode) *ModifiedNode {
	inner, ok := n.base.(*ModifiedNode)
	if !ok {
		return n
	}
	inner = Collapse(inner)
	properties := make(map[string]*PropertyState, len(inner.properties)+len(n.properties))
	maps.Copy(properties, inner.properties)
	maps.Copy(properties, n.properties)
	nodes := make(map[string]NodeState, len(inner.nodes)+len(n.nodes))
	maps.Copy(nodes, inner.nodes)
	maps.Copy(nodes, n.nodes)
	return &ModifiedNode{base: inner.base, properties: properties, nodes: nodes}
}

// Base returns the node the edits apply to.
func (n *ModifiedNode) Base() NodeState { return n.base }

func (n *ModifiedNode) Exists() bool { return n.base.Exists() }

func (n *ModifiedNode) PropertyCount(ctx context.Context) (int, error) {
	if !n.base.Exists() {
		return 0, nil
	}
	count, err := n.base.PropertyCount(ctx)
	if err != nil {
		return 0, err
	}
	for name, p := range n.properties {
		had, err := n.base.HasProperty(ctx, name)
		if err != nil {
			return 0, err
		}
		if had {
			count--
		}
		if p != nil {
			count++
		}
	}
	return count, nil
}

func (n *ModifiedNode) HasProperty(ctx context.Context, name string) (bool, error) {
	if p, ok := n.properties[name]; ok {
		return p != nil, nil
	}
	return n.base.HasProperty(ctx, name)
}

func (n *ModifiedNode) Property(ctx context.Context, name string) (*PropertyState, error) {
	if p, ok := n.properties[name]; ok {
		return p, nil
	}
	return n.base.Property(ctx, name)
}

func (n *ModifiedNode) Properties(ctx context.Context) ([]*PropertyState, error) {
	if !n.base.Exists() {
		return nil, nil
	}
	base, err := n.base.Properties(ctx)
	if err != nil || len(n.properties) == 0 {
		return base, err
	}
	ps := make([]*PropertyState, 0, len(base)+len(n.properties))
	for _, p := range base {
		if _, edited := n.properties[p.Name]; !edited {
			ps = append(ps, p)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(n.properties)) {
		if p := n.properties[name]; p != nil {
			ps = append(ps, p)
		}
	}
	return ps, nil
}

func (n *ModifiedNode) ChildNodeCount(ctx context.Context) (int, error) {
	if !n.base.Exists() {
		return 0, nil
	}
	count, err := n.base.ChildNodeCount(ctx)
	if err != nil {
		return 0, err
	}
	for name, c := range n.nodes {
		had, err := n.base.HasChildNode(ctx, name)
		if err != nil {
			return 0, err
		}
		if had {
			count--
		}
		if present(c) {
			count++
		}
	}
	return count, nil
}

func (n *ModifiedNode) HasChildNode(ctx context.Context, name string) (bool, error) {
	if c, ok := n.nodes[name]; ok {
		return present(c), nil
	}
	return n.base.HasChildNode(ctx, name)
}

func (n *ModifiedNode) ChildNode(ctx context.Context, name string) (NodeState, error) {
	if c, ok := n.nodes[name]; ok {
		if c == nil {
			return MissingNode, nil
		}
		return c, nil
	}
	return n.base.ChildNode(ctx, name)
}

func (n *ModifiedNode) ChildNodeEntries(ctx context.Context) ([]ChildNodeEntry, error) {
	if !n.base.Exists() {
		return nil, nil
	}
	base, err := n.base.ChildNodeEntries(ctx)
	if err != nil || len(n.nodes) == 0 {
		return base, err
	}
	es := make([]ChildNodeEntry, 0, len(base)+len(n.nodes))
	for _, e := range base {
		if _, edited := n.nodes[e.Name]; !edited {
			es = append(es, e)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(n.nodes)) {
		if c := n.nodes[name]; present(c) {
			es = append(es, ChildNodeEntry{name, c})
		}
	}
	return es, nil
}

// CompareAgainstBaseState first lets the overlay's own base report its
// differences to base, minus every name the overlay edits, and then
// compares just the edited names against base directly.
func (n *ModifiedNode) CompareAgainstBaseState(ctx context.Context, base NodeState, diff Diff) (bool, error) {
	if Same(n, base) {
		return true, nil
	}
	keepGoing, err := n.base.CompareAgainstBaseState(ctx, base, &suppressEdits{diff, n})
	if err != nil || !keepGoing {
		return keepGoing, err
	}
	return n.compareEdits(ctx, base, diff, false)
}

// CompareEdits reports every edit of the overlay against its own base.
// Callbacks cannot stop the walk; only an error does.
func (n *ModifiedNode) CompareEdits(ctx context.Context, diff Diff) error {
	_, err := n.compareEdits(ctx, n.base, diff, true)
	return err
}

func (n *ModifiedNode) compareEdits(ctx context.Context, base NodeState, diff Diff, all bool) (bool, error) {
	stop := func(keepGoing bool, err error) bool {
		return err != nil || (!keepGoing && !all)
	}
	for _, name := range slices.Sorted(maps.Keys(n.properties)) {
		after := n.properties[name]
		before, err := base.Property(ctx, name)
		if err != nil {
			return false, fmt.Errorf("base property %s: %w", name, err)
		}
		var keepGoing bool
		switch {
		case after == nil && before == nil:
			continue
		case after == nil:
			keepGoing, err = diff.PropertyDeleted(before)
		case before == nil:
			keepGoing, err = diff.PropertyAdded(after)
		case !after.Equal(before):
			keepGoing, err = diff.PropertyChanged(before, after)
		default:
			continue
		}
		if stop(keepGoing, err) {
			return keepGoing, err
		}
	}
	for _, name := range slices.Sorted(maps.Keys(n.nodes)) {
		after := n.nodes[name]
		before, err := base.ChildNode(ctx, name)
		if err != nil {
			return false, fmt.Errorf("base child node %s: %w", name, err)
		}
		var keepGoing bool
		switch {
		case !present(after) && !before.Exists():
			continue
		case !present(after):
			keepGoing, err = diff.ChildNodeDeleted(name, before)
		case !before.Exists():
			keepGoing, err = diff.ChildNodeAdded(name, after)
		default:
			var equal bool
			if equal, err = Equal(ctx, after, before); err != nil {
				return false, fmt.Errorf("compare child node %s: %w", name, err)
			}
			if equal {
				continue
			}
			keepGoing, err = diff.ChildNodeChanged(name, before, after)
		}
		if stop(keepGoing, err) {
			return keepGoing, err
		}
	}
	return true, nil
}

// present reports whether a child edit leaves a child in place. Both a
// tombstone and a node that does not exist remove the child.
func present(c NodeState) bool {
	return c != nil && c.Exists()
}

func (n *ModifiedNode) String() string {
	return fmt.Sprintf("{ %v + %d property edits, %d child edits }", n.base, len(n.properties), len(n.nodes))
}

// suppressEdits forwards to diff every difference whose name the overlay
// does not edit.
type suppressEdits struct {
	diff Diff
	n    *ModifiedNode
}

func (s *suppressEdits) property(name string) bool {
	_, ok := s.n.properties[name]
	return ok
}

func (s *suppressEdits) node(name string) bool {
	_, ok := s.n.nodes[name]
	return ok
}

func (s *suppressEdits) PropertyAdded(after *PropertyState) (bool, error) {
	if s.property(after.Name) {
		return true, nil
	}
	return s.diff.PropertyAdded(after)
}

func (s *suppressEdits) PropertyChanged(before, after *PropertyState) (bool, error) {
	if s.property(after.Name) {
		return true, nil
	}
	return s.diff.PropertyChanged(before, after)
}

func (s *suppressEdits) PropertyDeleted(before *PropertyState) (bool, error) {
	if s.property(before.Name) {
		return true, nil
	}
	return s.diff.PropertyDeleted(before)
}

func (s *suppressEdits) ChildNodeAdded(name string, after NodeState) (bool, error) {
	if s.node(name) {
		return true, nil
	}
	return s.diff.ChildNodeAdded(name, after)
}

func (s *suppressEdits) ChildNodeChanged(name string, before, after NodeState) (bool, error) {
	if s.node(name) {
		return true, nil
	}
	return s.diff.ChildNodeChanged(name, before, after)
}

func (s *suppressEdits) ChildNodeDeleted(name string, before NodeState) (bool, error) {
	if s.node(name) {
		return true, nil
	}
	return s.diff.ChildNodeDeleted(name, before)
}
