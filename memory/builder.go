package memory

import (
	"context"
	"fmt"
	"maps"
)

// Builder accumulates edits to a base node. Each NodeState call produces a
// new immutable overlay; the builder can keep editing afterwards without
// affecting overlays already produced.
//
// A Builder is not safe for concurrent use.
type Builder struct {
	base       NodeState
	properties map[string]*PropertyState
	nodes      map[string]NodeState
	children   map[string]*Builder
	// replaces is set when the child differs from the parent's base
	// child even without edits of its own.
	replaces bool
}

// NewBuilder returns a builder that edits base.
func NewBuilder(base NodeState) *Builder {
	return &Builder{
		base:       base,
		properties: map[string]*PropertyState{},
		nodes:      map[string]NodeState{},
		children:   map[string]*Builder{},
	}
}

// Base returns the node being edited.
func (b *Builder) Base() NodeState { return b.base }

func (b *Builder) SetProperty(p *PropertyState) *Builder {
	b.properties[p.Name] = p
	return b
}

func (b *Builder) RemoveProperty(name string) *Builder {
	b.properties[name] = nil
	return b
}

// SetChildNode replaces the child of the given name with n, discarding
// any edits made through Child.
func (b *Builder) SetChildNode(name string, n NodeState) *Builder {
	delete(b.children, name)
	b.nodes[name] = n
	return b
}

func (b *Builder) RemoveChildNode(name string) *Builder {
	delete(b.children, name)
	b.nodes[name] = nil
	return b
}

// Child returns a builder for the child of the given name, creating an
// empty child if there is none.
func (b *Builder) Child(ctx context.Context, name string) (*Builder, error) {
	if c, ok := b.children[name]; ok {
		return c, nil
	}
	base, edited := b.nodes[name]
	if !edited {
		var err error
		if base, err = b.base.ChildNode(ctx, name); err != nil {
			return nil, fmt.Errorf("child node %s: %w", name, err)
		}
	}
	c := NewBuilder(base)
	c.replaces = edited
	if base == nil || !base.Exists() {
		c.base = EmptyNode
		c.replaces = true
	}
	delete(b.nodes, name)
	b.children[name] = c
	return c, nil
}

func (b *Builder) modified() bool {
	if b.replaces || len(b.properties) > 0 || len(b.nodes) > 0 {
		return true
	}
	for _, c := range b.children {
		if c.modified() {
			return true
		}
	}
	return false
}

// NodeState returns the edited node.
func (b *Builder) NodeState(ctx context.Context) (NodeState, error) {
	nodes := maps.Clone(b.nodes)
	for name, c := range b.children {
		if !c.modified() {
			continue
		}
		n, err := c.NodeState(ctx)
		if err != nil {
			return nil, fmt.Errorf("child node %s: %w", name, err)
		}
		nodes[name] = n
	}
	return With(b.base, b.properties, nodes), nil
}
