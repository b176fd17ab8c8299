package memory

import (
	"context"
	"fmt"
	"sort"
)

// NodeState is an immutable node of a content tree: properties plus named
// child nodes. Implementations backed by storage may need to load data,
// so lookups take a context and can fail.
type NodeState interface {
	// Exists is false for a node that is not there, like the child of a
	// node under a name it has no child for.
	Exists() bool

	PropertyCount(ctx context.Context) (int, error)
	HasProperty(ctx context.Context, name string) (bool, error)
	// Property returns nil if there is no property of the given name.
	Property(ctx context.Context, name string) (*PropertyState, error)
	Properties(ctx context.Context) ([]*PropertyState, error)

	ChildNodeCount(ctx context.Context) (int, error)
	HasChildNode(ctx context.Context, name string) (bool, error)
	// ChildNode returns a node for which Exists is false if there is no
	// child of the given name.
	ChildNode(ctx context.Context, name string) (NodeState, error)
	ChildNodeEntries(ctx context.Context) ([]ChildNodeEntry, error)

	// CompareAgainstBaseState reports the differences between base and
	// this node to diff, as the edits that turn base into this node. It
	// returns false if diff aborted the comparison.
	CompareAgainstBaseState(ctx context.Context, base NodeState, diff Diff) (bool, error)
}

// ChildNodeEntry is a named child node.
type ChildNodeEntry struct {
	Name string
	Node NodeState
}

// Diff receives the differences found by CompareAgainstBaseState. Each
// callback returns keepGoing; false or an error stops the comparison.
type Diff interface {
	PropertyAdded(after *PropertyState) (bool, error)
	PropertyChanged(before, after *PropertyState) (bool, error)
	PropertyDeleted(before *PropertyState) (bool, error)
	ChildNodeAdded(name string, after NodeState) (bool, error)
	ChildNodeChanged(name string, before, after NodeState) (bool, error)
	ChildNodeDeleted(name string, before NodeState) (bool, error)
}

// Identified is implemented by nodes with a stable identity, such as a
// record location. Nodes of equal identity are equal.
type Identified interface {
	Identity() string
}

type emptyNode struct {
	exists bool
}

var (
	// EmptyNode exists and has neither properties nor children.
	EmptyNode NodeState = emptyNode{exists: true}
	// MissingNode does not exist.
	MissingNode NodeState = emptyNode{exists: false}
)

func (n emptyNode) Exists() bool { return n.exists }

func (emptyNode) PropertyCount(context.Context) (int, error) { return 0, nil }

func (emptyNode) HasProperty(context.Context, string) (bool, error) { return false, nil }

func (emptyNode) Property(context.Context, string) (*PropertyState, error) { return nil, nil }

func (emptyNode) Properties(context.Context) ([]*PropertyState, error) { return nil, nil }

func (emptyNode) ChildNodeCount(context.Context) (int, error) { return 0, nil }

func (emptyNode) HasChildNode(context.Context, string) (bool, error) { return false, nil }

func (emptyNode) ChildNode(context.Context, string) (NodeState, error) { return MissingNode, nil }

func (emptyNode) ChildNodeEntries(context.Context) ([]ChildNodeEntry, error) { return nil, nil }

func (n emptyNode) CompareAgainstBaseState(ctx context.Context, base NodeState, diff Diff) (bool, error) {
	return CompareAgainstBaseState(ctx, n, base, diff)
}

func (n emptyNode) String() string {
	if n.exists {
		return "{ }"
	}
	return "{N/A}"
}

type memoryNode struct {
	properties map[string]*PropertyState
	names      []string
	children   map[string]NodeState
	childNames []string
}

// NewNode returns an existing node with the given properties and children.
func NewNode(properties []*PropertyState, children map[string]NodeState) NodeState {
	n := &memoryNode{
		properties: make(map[string]*PropertyState, len(properties)),
		children:   make(map[string]NodeState, len(children)),
	}
	for _, p := range properties {
		if _, dup := n.properties[p.Name]; !dup {
			n.names = append(n.names, p.Name)
		}
		n.properties[p.Name] = p
	}
	for name, c := range children {
		if c == nil || !c.Exists() {
			continue
		}
		n.children[name] = c
		n.childNames = append(n.childNames, name)
	}
	sort.Strings(n.names)
	sort.Strings(n.childNames)
	return n
}

func (n *memoryNode) Exists() bool { return true }

func (n *memoryNode) PropertyCount(context.Context) (int, error) { return len(n.properties), nil }

func (n *memoryNode) HasProperty(_ context.Context, name string) (bool, error) {
	_, ok := n.properties[name]
	return ok, nil
}

func (n *memoryNode) Property(_ context.Context, name string) (*PropertyState, error) {
	return n.properties[name], nil
}

func (n *memoryNode) Properties(context.Context) ([]*PropertyState, error) {
	ps := make([]*PropertyState, len(n.names))
	for i, name := range n.names {
		ps[i] = n.properties[name]
	}
	return ps, nil
}

func (n *memoryNode) ChildNodeCount(context.Context) (int, error) { return len(n.children), nil }

func (n *memoryNode) HasChildNode(_ context.Context, name string) (bool, error) {
	_, ok := n.children[name]
	return ok, nil
}

func (n *memoryNode) ChildNode(_ context.Context, name string) (NodeState, error) {
	if c, ok := n.children[name]; ok {
		return c, nil
	}
	return MissingNode, nil
}

func (n *memoryNode) ChildNodeEntries(context.Context) ([]ChildNodeEntry, error) {
	es := make([]ChildNodeEntry, len(n.childNames))
	for i, name := range n.childNames {
		es[i] = ChildNodeEntry{name, n.children[name]}
	}
	return es, nil
}

func (n *memoryNode) CompareAgainstBaseState(ctx context.Context, base NodeState, diff Diff) (bool, error) {
	return CompareAgainstBaseState(ctx, n, base, diff)
}

func (n *memoryNode) String() string {
	return fmt.Sprintf("{ %d properties, %d children }", len(n.properties), len(n.children))
}

// Same reports whether a and b are known to be equal without looking at
// their contents.
func Same(a, b NodeState) bool {
	if a == b {
		return true
	}
	ia, ok := a.(Identified)
	if !ok {
		return false
	}
	ib, ok := b.(Identified)
	return ok && ia.Identity() == ib.Identity()
}

// Equal reports whether a and b have the same existence, properties and,
// recursively, children.
func Equal(ctx context.Context, a, b NodeState) (bool, error) {
	if Same(a, b) {
		return true, nil
	}
	if a.Exists() != b.Exists() {
		return false, nil
	}
	if !a.Exists() {
		return true, nil
	}
	equal := true
	_, err := a.CompareAgainstBaseState(ctx, b, &equalityDiff{&equal})
	if err != nil {
		return false, err
	}
	return equal, nil
}

type equalityDiff struct {
	equal *bool
}

func (d *equalityDiff) differ() (bool, error) {
	*d.equal = false
	return false, nil
}

func (d *equalityDiff) PropertyAdded(*PropertyState) (bool, error)   { return d.differ() }
func (d *equalityDiff) PropertyDeleted(*PropertyState) (bool, error) { return d.differ() }

func (d *equalityDiff) PropertyChanged(_, _ *PropertyState) (bool, error) { return d.differ() }

func (d *equalityDiff) ChildNodeAdded(string, NodeState) (bool, error)   { return d.differ() }
func (d *equalityDiff) ChildNodeDeleted(string, NodeState) (bool, error) { return d.differ() }

func (d *equalityDiff) ChildNodeChanged(string, NodeState, NodeState) (bool, error) {
	return d.differ()
}

// CompareAgainstBaseState compares any two nodes by enumerating both.
// Children present on both sides are reported as changed unless Equal.
// NodeState implementations without a cheaper strategy use it.
func CompareAgainstBaseState(ctx context.Context, after, base NodeState, diff Diff) (bool, error) {
	if Same(after, base) {
		return true, nil
	}
	if keepGoing, err := CompareProperties(ctx, after, base, diff); err != nil || !keepGoing {
		return keepGoing, err
	}
	return CompareChildNodes(ctx, after, base, diff)
}

// CompareProperties reports the property differences between base and
// after by enumerating both.
func CompareProperties(ctx context.Context, after, base NodeState, diff Diff) (bool, error) {
	afterProps, err := after.Properties(ctx)
	if err != nil {
		return false, fmt.Errorf("properties: %w", err)
	}
	seen := make(map[string]bool, len(afterProps))
	for _, a := range afterProps {
		seen[a.Name] = true
		b, err := base.Property(ctx, a.Name)
		if err != nil {
			return false, fmt.Errorf("base property %s: %w", a.Name, err)
		}
		var keepGoing bool
		switch {
		case b == nil:
			keepGoing, err = diff.PropertyAdded(a)
		case !a.Equal(b):
			keepGoing, err = diff.PropertyChanged(b, a)
		default:
			continue
		}
		if err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	baseProps, err := base.Properties(ctx)
	if err != nil {
		return false, fmt.Errorf("base properties: %w", err)
	}
	for _, b := range baseProps {
		if seen[b.Name] {
			continue
		}
		if keepGoing, err := diff.PropertyDeleted(b); err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	return true, nil
}

// CompareChildNodes reports the child node differences between base and
// after by enumerating both.
func CompareChildNodes(ctx context.Context, after, base NodeState, diff Diff) (bool, error) {
	afterChildren, err := after.ChildNodeEntries(ctx)
	if err != nil {
		return false, fmt.Errorf("child nodes: %w", err)
	}
	seen := make(map[string]bool, len(afterChildren))
	for _, a := range afterChildren {
		seen[a.Name] = true
		b, err := base.ChildNode(ctx, a.Name)
		if err != nil {
			return false, fmt.Errorf("base child node %s: %w", a.Name, err)
		}
		var keepGoing bool
		if !b.Exists() {
			keepGoing, err = diff.ChildNodeAdded(a.Name, a.Node)
		} else {
			var equal bool
			if equal, err = Equal(ctx, a.Node, b); err != nil {
				return false, fmt.Errorf("compare child node %s: %w", a.Name, err)
			}
			if equal {
				continue
			}
			keepGoing, err = diff.ChildNodeChanged(a.Name, b, a.Node)
		}
		if err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	baseChildren, err := base.ChildNodeEntries(ctx)
	if err != nil {
		return false, fmt.Errorf("base child nodes: %w", err)
	}
	for _, b := range baseChildren {
		if seen[b.Name] {
			continue
		}
		if keepGoing, err := diff.ChildNodeDeleted(b.Name, b.Node); err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	return true, nil
}
