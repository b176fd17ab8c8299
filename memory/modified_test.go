package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/arbitrary"
	"github.com/leanovate/gopter/gen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ctx                     = context.Background()
	defaultGopterParameters = gopter.DefaultTestParameters()
)

// recorder collects every callback as a "kind:name" string.
type recorder struct {
	events []string
	abort  int
}

func (r *recorder) add(kind, name string) (bool, error) {
	r.events = append(r.events, kind+":"+name)
	return r.abort == 0 || len(r.events) < r.abort, nil
}

func (r *recorder) PropertyAdded(after *PropertyState) (bool, error) {
	return r.add("+p", after.Name)
}

func (r *recorder) PropertyChanged(before, after *PropertyState) (bool, error) {
	return r.add("~p", after.Name)
}

func (r *recorder) PropertyDeleted(before *PropertyState) (bool, error) {
	return r.add("-p", before.Name)
}

func (r *recorder) ChildNodeAdded(name string, after NodeState) (bool, error) {
	return r.add("+n", name)
}

func (r *recorder) ChildNodeChanged(name string, before, after NodeState) (bool, error) {
	return r.add("~n", name)
}

func (r *recorder) ChildNodeDeleted(name string, before NodeState) (bool, error) {
	return r.add("-n", name)
}

func (r *recorder) sorted() []string {
	s := slices.Clone(r.events)
	sort.Strings(s)
	return s
}

func TestTombstoneHidesBaseProperty(t *testing.T) {
	t.Parallel()
	base := NewNode([]*PropertyState{StringProperty("a", "x"), StringProperty("b", "y")}, nil)
	n := With(base, map[string]*PropertyState{"a": nil}, nil)

	has, err := n.HasProperty(ctx, "a")
	require.NoError(t, err)
	assert.False(t, has)
	p, err := n.Property(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, p)
	ps, err := n.Properties(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "b", ps[0].Name)
	count, err := n.PropertyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWithoutEditsIsBase(t *testing.T) {
	t.Parallel()
	base := NewNode([]*PropertyState{StringProperty("a", "x")}, nil)
	assert.Same(t, base, With(base, nil, nil))
	assert.Same(t, base, With(base, map[string]*PropertyState{}, map[string]NodeState{}))
}

func TestCounts(t *testing.T) {
	t.Parallel()
	base := NewNode(
		[]*PropertyState{StringProperty("a", "x"), StringProperty("b", "y")},
		map[string]NodeState{"c": EmptyNode, "d": EmptyNode})
	n := With(base,
		map[string]*PropertyState{
			"a": StringProperty("a", "overwritten"),
			"b": nil,
			"e": StringProperty("e", "new"),
			"f": nil,
		},
		map[string]NodeState{
			"c": nil,
			"d": NewNode([]*PropertyState{LongProperty("n", 1)}, nil),
			"g": EmptyNode,
			"h": nil,
		})
	pc, err := n.PropertyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pc)
	cc, err := n.ChildNodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, cc)

	entries, err := n.ChildNodeEntries(ctx)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"d", "g"}, names)

	c, err := n.ChildNode(ctx, "c")
	require.NoError(t, err)
	assert.False(t, c.Exists())
}

func TestMissingChildEditRemovesChild(t *testing.T) {
	t.Parallel()
	base := NewNode(nil, map[string]NodeState{"a": EmptyNode, "c": EmptyNode})
	n := With(base, nil, map[string]NodeState{"b": MissingNode, "c": MissingNode}).(*ModifiedNode)

	for _, name := range []string{"b", "c"} {
		has, err := n.HasChildNode(ctx, name)
		require.NoError(t, err)
		assert.False(t, has, name)
		c, err := n.ChildNode(ctx, name)
		require.NoError(t, err)
		assert.False(t, c.Exists(), name)
	}
	count, err := n.ChildNodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	entries, err := n.ChildNodeEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Name)

	r := &recorder{}
	require.NoError(t, n.CompareEdits(ctx, r))
	assert.Equal(t, []string{"-n:c"}, r.events)
	r = &recorder{}
	_, err = n.CompareAgainstBaseState(ctx, base, r)
	require.NoError(t, err)
	assert.Equal(t, []string{"-n:c"}, r.events)
}

func TestEditsOfMissingNodeAreHidden(t *testing.T) {
	t.Parallel()
	n := With(MissingNode,
		map[string]*PropertyState{"p": StringProperty("p", "x")},
		map[string]NodeState{"c": EmptyNode})
	assert.False(t, n.Exists())

	pc, err := n.PropertyCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pc)
	ps, err := n.Properties(ctx)
	require.NoError(t, err)
	assert.Empty(t, ps)
	cc, err := n.ChildNodeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, cc)
	entries, err := n.ChildNodeEntries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// fixedNode returns the same property slice on every call.
type fixedNode struct {
	NodeState
	props []*PropertyState
}

func (n *fixedNode) Properties(context.Context) ([]*PropertyState, error) {
	return n.props, nil
}

func TestEnumerationWithoutEditsReturnsBaseSlice(t *testing.T) {
	t.Parallel()
	base := &fixedNode{EmptyNode, []*PropertyState{StringProperty("a", "x")}}
	n := With(base, nil, map[string]NodeState{"c": EmptyNode})
	ps, err := n.Properties(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Same(t, &base.props[0], &ps[0])
}

func TestCollapseIsIdempotent(t *testing.T) {
	t.Parallel()
	base := NewNode([]*PropertyState{StringProperty("a", "x")}, nil)
	n := With(With(base, map[string]*PropertyState{"b": StringProperty("b", "y")}, nil),
		map[string]*PropertyState{"a": nil}, nil).(*ModifiedNode)
	assert.Same(t, base, n.Base())
	assert.Same(t, n, Collapse(n))
}

func TestCollapseDepth(t *testing.T) {
	t.Parallel()
	properties := gopter.NewProperties(defaultGopterParameters)
	arbitraries := arbitrary.DefaultArbitraries()
	arbitraries.RegisterGen(gen.UInt8Range(0, 15))

	properties.Property("overlay chains collapse to one level and read like the model",
		arbitraries.ForAll(
			func(ops []editOp) bool {
				return checkCollapse(t, ops)
			}))
	properties.TestingRun(t)
}

type editOp struct {
	Name   uint8
	Value  uint8
	Delete bool
}

func (op editOp) name() string { return fmt.Sprintf("p%d", op.Name) }

func baseNode() (NodeState, map[string]string) {
	model := map[string]string{}
	var props []*PropertyState
	for i := 0; i < 16; i += 2 {
		name, value := fmt.Sprintf("p%d", i), fmt.Sprintf("base%d", i)
		props = append(props, StringProperty(name, value))
		model[name] = value
	}
	return NewNode(props, nil), model
}

func checkCollapse(t *testing.T, ops []editOp) bool {
	base, model := baseNode()
	n := base
	for _, op := range ops {
		var p *PropertyState
		if op.Delete {
			delete(model, op.name())
		} else {
			p = StringProperty(op.name(), fmt.Sprint(op.Value))
			model[op.name()] = fmt.Sprint(op.Value)
		}
		n = With(n, map[string]*PropertyState{op.name(): p}, nil)
	}
	if m, ok := n.(*ModifiedNode); ok {
		if _, nested := m.Base().(*ModifiedNode); nested {
			return false
		}
		if Collapse(m) != m {
			return false
		}
	}
	count, err := n.PropertyCount(ctx)
	if !assert.NoError(t, err) || !assert.Equal(t, len(model), count) {
		return false
	}
	for i := 0; i < 16; i++ {
		name := fmt.Sprintf("p%d", i)
		p, err := n.Property(ctx, name)
		if !assert.NoError(t, err) {
			return false
		}
		want, ok := model[name]
		if ok != (p != nil) || ok && p.Value(0) != want {
			return false
		}
	}
	return true
}

func TestDiffCompleteness(t *testing.T) {
	t.Parallel()
	properties := gopter.NewProperties(defaultGopterParameters)
	arbitraries := arbitrary.DefaultArbitraries()
	arbitraries.RegisterGen(gen.UInt8Range(0, 15))

	properties.Property("diff against the base reports exactly the effective edits",
		arbitraries.ForAll(
			func(ops []editOp) bool {
				base, model := baseNode()
				edits := map[string]*PropertyState{}
				for _, op := range ops {
					if op.Delete {
						edits[op.name()] = nil
					} else {
						edits[op.name()] = StringProperty(op.name(), fmt.Sprintf("base%d", op.Value))
					}
				}
				var want []string
				for _, name := range slices.Sorted(maps.Keys(edits)) {
					before, had := model[name]
					after := edits[name]
					switch {
					case after == nil && had:
						want = append(want, "-p:"+name)
					case after != nil && !had:
						want = append(want, "+p:"+name)
					case after != nil && after.Value(0) != before:
						want = append(want, "~p:"+name)
					}
				}
				sort.Strings(want)
				n := With(base, edits, nil)
				r := &recorder{}
				keepGoing, err := n.CompareAgainstBaseState(ctx, base, r)
				return assert.NoError(t, err) && keepGoing &&
					assert.Equal(t, want, r.sorted())
			}))
	properties.TestingRun(t)
}

func TestCompareAgainstOtherBase(t *testing.T) {
	t.Parallel()
	base := NewNode(
		[]*PropertyState{StringProperty("a", "1"), StringProperty("b", "2")},
		map[string]NodeState{"x": EmptyNode})
	other := NewNode(
		[]*PropertyState{StringProperty("a", "1"), StringProperty("b", "3"), StringProperty("c", "4")},
		map[string]NodeState{"y": EmptyNode})
	n := With(base,
		map[string]*PropertyState{"c": StringProperty("c", "4"), "d": StringProperty("d", "5")},
		map[string]NodeState{"y": nil})

	r := &recorder{}
	keepGoing, err := n.CompareAgainstBaseState(ctx, other, r)
	require.NoError(t, err)
	assert.True(t, keepGoing)
	// b differs between the bases, c is edited to equal other's, d is new,
	// x only exists in base, y is deleted by the overlay.
	assert.Equal(t, []string{"+n:x", "+p:d", "-n:y", "~p:b"}, r.sorted())
}

func TestCompareAborts(t *testing.T) {
	t.Parallel()
	base, _ := baseNode()
	edits := map[string]*PropertyState{}
	for i := 1; i < 16; i += 2 {
		name := fmt.Sprintf("p%d", i)
		edits[name] = StringProperty(name, "new")
	}
	n := With(base, edits, nil).(*ModifiedNode)

	r := &recorder{abort: 3}
	keepGoing, err := n.CompareAgainstBaseState(ctx, base, r)
	require.NoError(t, err)
	assert.False(t, keepGoing)
	assert.Len(t, r.events, 3)

	r = &recorder{abort: 1}
	require.NoError(t, n.CompareEdits(ctx, r))
	assert.Len(t, r.events, 8)
}

func TestCompareEditsSkipsNoOps(t *testing.T) {
	t.Parallel()
	base := NewNode([]*PropertyState{StringProperty("a", "1")}, map[string]NodeState{"x": EmptyNode})
	n := With(base,
		map[string]*PropertyState{"a": StringProperty("a", "1"), "gone": nil},
		map[string]NodeState{"x": NewNode(nil, nil), "nothing": nil}).(*ModifiedNode)
	r := &recorder{}
	require.NoError(t, n.CompareEdits(ctx, r))
	assert.Empty(t, r.events)
}

func TestEqual(t *testing.T) {
	t.Parallel()
	a := NewNode([]*PropertyState{Strings("s", "1", "2")},
		map[string]NodeState{"c": NewNode([]*PropertyState{BooleanProperty("b", true)}, nil)})
	b := NewNode([]*PropertyState{Strings("s", "1", "2")},
		map[string]NodeState{"c": NewNode([]*PropertyState{BooleanProperty("b", true)}, nil)})
	equal, err := Equal(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, equal)

	c := With(b, nil, map[string]NodeState{"c": NewNode([]*PropertyState{BooleanProperty("b", false)}, nil)})
	equal, err = Equal(ctx, a, c)
	require.NoError(t, err)
	assert.False(t, equal)

	equal, err = Equal(ctx, EmptyNode, MissingNode)
	require.NoError(t, err)
	assert.False(t, equal)
}
