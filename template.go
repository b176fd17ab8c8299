package segment

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jrhy/segment/memory"
)

// ChildShape is how the nodes of a template hold their children.
type ChildShape uint8

const (
	// NoChildNodes: the node record has no child id.
	NoChildNodes ChildShape = iota
	// OneChildNode: the node record has the id of its only child, whose
	// name is in the template.
	OneChildNode
	// ManyChildNodes: the node record has the id of a map of children.
	ManyChildNodes
)

const (
	templatePrimaryBit   = 1 << 31
	templateMixinsBit    = 1 << 30
	templateNoChildBit   = 1 << 29
	templateManyChildBit = 1 << 28
	templateMixinShift   = 18
	templateMixinMask    = 1<<10 - 1
	templatePropertyMask = 1<<templateMixinShift - 1
)

// PropertyTemplate is the shape of one property.
type PropertyTemplate struct {
	Name     string
	Type     memory.Type
	Multiple bool
}

func (p PropertyTemplate) typeByte() int8 {
	if p.Multiple {
		return -int8(p.Type)
	}
	return int8(p.Type)
}

func propertyTemplate(name string, b int8) (PropertyTemplate, error) {
	p := PropertyTemplate{Name: name, Type: memory.Type(b)}
	if b < 0 {
		p.Type, p.Multiple = memory.Type(-b), true
	}
	if !p.Type.Valid() {
		return PropertyTemplate{}, fmt.Errorf("property %s type %d: %w", name, b, ErrInvalidTemplate)
	}
	return p, nil
}

// NodeTemplate is the shape shared by many nodes: primary and mixin types,
// how children are held, and the names and types of the other
// properties. Node records carry only the values.
type NodeTemplate struct {
	// PrimaryType is empty when the nodes have none.
	PrimaryType string
	Mixins      []string
	Children    ChildShape
	// ChildName is the name of the only child for OneChildNode.
	ChildName  string
	Properties []PropertyTemplate
}

// NewTemplate derives the template of n.
func NewTemplate(ctx context.Context, n memory.NodeState) (*NodeTemplate, error) {
	t := &NodeTemplate{}
	props, err := n.Properties(ctx)
	if err != nil {
		return nil, fmt.Errorf("properties: %w", err)
	}
	for _, p := range props {
		switch {
		case p.Name == memory.PrimaryType && p.Type == memory.Name && !p.Multiple:
			t.PrimaryType = p.Value(0)
		case p.Name == memory.MixinTypes && p.Type == memory.Name && p.Multiple && p.Count() > 0:
			t.Mixins = make([]string, p.Count())
			for i := range t.Mixins {
				t.Mixins[i] = p.Value(i)
			}
		default:
			if !p.Type.Valid() {
				return nil, fmt.Errorf("property %s type %d: %w", p.Name, p.Type, ErrInvalidTemplate)
			}
			t.Properties = append(t.Properties, PropertyTemplate{p.Name, p.Type, p.Multiple})
		}
	}
	slices.SortFunc(t.Properties, func(a, b PropertyTemplate) int { return strings.Compare(a.Name, b.Name) })

	count, err := n.ChildNodeCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("child node count: %w", err)
	}
	switch count {
	case 0:
		t.Children = NoChildNodes
	case 1:
		entries, err := n.ChildNodeEntries(ctx)
		if err != nil {
			return nil, fmt.Errorf("child nodes: %w", err)
		}
		t.Children, t.ChildName = OneChildNode, entries[0].Name
	default:
		t.Children = ManyChildNodes
	}
	return t, nil
}

// PropertyIndex returns the position of the named property, or -1.
func (t *NodeTemplate) PropertyIndex(name string) int {
	for i, p := range t.Properties {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether t and o describe the same shape.
func (t *NodeTemplate) Equal(o *NodeTemplate) bool {
	return t.PrimaryType == o.PrimaryType &&
		slices.Equal(t.Mixins, o.Mixins) &&
		t.Children == o.Children &&
		t.ChildName == o.ChildName &&
		slices.Equal(t.Properties, o.Properties)
}

// key is a string unique to the shape, for de-duplicating templates.
func (t *NodeTemplate) key() string {
	var b strings.Builder
	b.WriteString(t.PrimaryType)
	for _, m := range t.Mixins {
		b.WriteByte(0)
		b.WriteString(m)
	}
	fmt.Fprintf(&b, "\x01%d\x01%s", t.Children, t.ChildName)
	for _, p := range t.Properties {
		fmt.Fprintf(&b, "\x01%s\x00%d", p.Name, p.typeByte())
	}
	return b.String()
}

// TemplateRecord is a template whose strings have been written as records.
type TemplateRecord struct {
	// PrimaryType is zero when the nodes have none.
	PrimaryType RecordID
	Mixins      []RecordID
	Children    ChildShape
	ChildName   RecordID
	// PropertyNames are written one before each type byte from V10.
	PropertyNames []RecordID
	// NamesList is the list of property names, written once from V11.
	NamesList     RecordID
	PropertyTypes []int8
}

func (t TemplateRecord) head() int32 {
	var head uint32
	if !t.PrimaryType.IsZero() {
		head |= templatePrimaryBit
	}
	if len(t.Mixins) > 0 {
		head |= templateMixinsBit | uint32(len(t.Mixins))<<templateMixinShift
	}
	switch t.Children {
	case NoChildNodes:
		head |= templateNoChildBit
	case ManyChildNodes:
		head |= templateManyChildBit
	}
	return int32(head | uint32(len(t.PropertyTypes)))
}

func (t TemplateRecord) validate(version Version) error {
	switch {
	case len(t.Mixins) > templateMixinMask:
		return fmt.Errorf("%d mixins: %w", len(t.Mixins), ErrInvalidTemplate)
	case len(t.PropertyTypes) > templatePropertyMask:
		return fmt.Errorf("%d properties: %w", len(t.PropertyTypes), ErrInvalidTemplate)
	case t.Children > ManyChildNodes:
		return fmt.Errorf("child shape %d: %w", t.Children, ErrInvalidTemplate)
	case (t.Children == OneChildNode) == t.ChildName.IsZero():
		return fmt.Errorf("child name does not match child shape: %w", ErrInvalidTemplate)
	}
	for _, b := range t.PropertyTypes {
		if _, err := propertyTemplate("", b); err != nil {
			return err
		}
	}
	if version.OnOrAfter(V11) {
		if (len(t.PropertyTypes) > 0) == t.NamesList.IsZero() {
			return fmt.Errorf("names list does not match %d properties: %w", len(t.PropertyTypes), ErrInvalidTemplate)
		}
	} else if len(t.PropertyNames) != len(t.PropertyTypes) {
		return fmt.Errorf("%d names for %d properties: %w", len(t.PropertyNames), len(t.PropertyTypes), ErrInvalidTemplate)
	}
	return nil
}

// header ids are the ids written between the head and the properties.
func (t TemplateRecord) headerIDs() []RecordID {
	var ids []RecordID
	if !t.PrimaryType.IsZero() {
		ids = append(ids, t.PrimaryType)
	}
	ids = append(ids, t.Mixins...)
	if t.Children == OneChildNode {
		ids = append(ids, t.ChildName)
	}
	return ids
}

// NewTemplateWriter writes t in the layout of the given version.
func NewTemplateWriter(t TemplateRecord, version Version) (RecordWriter, error) {
	if err := version.check(); err != nil {
		return nil, err
	}
	if err := t.validate(version); err != nil {
		return nil, err
	}
	if version.OnOrAfter(V11) {
		return recordWriter{encodeTemplateV11{t}}, nil
	}
	return recordWriter{encodeTemplateV10{t}}, nil
}

// encodeTemplateV10 writes each property's name id before its type.
type encodeTemplateV10 struct {
	t TemplateRecord
}

func (e encodeTemplateV10) spec() recordSpec {
	ids := append(e.t.headerIDs(), e.t.PropertyNames...)
	return recordSpec{typ: Template, size: 4 + len(e.t.PropertyTypes), ids: ids}
}

func (e encodeTemplateV10) writeContent(_ RecordID, s Sink) {
	s.PutInt(e.t.head())
	for _, id := range e.t.headerIDs() {
		s.PutRecordID(id)
	}
	for i, b := range e.t.PropertyTypes {
		s.PutRecordID(e.t.PropertyNames[i])
		s.PutByte(byte(b))
	}
}

// encodeTemplateV11 writes one names list id, then only the types.
type encodeTemplateV11 struct {
	t TemplateRecord
}

func (e encodeTemplateV11) spec() recordSpec {
	ids := e.t.headerIDs()
	if !e.t.NamesList.IsZero() {
		ids = append(ids, e.t.NamesList)
	}
	return recordSpec{typ: Template, size: 4 + len(e.t.PropertyTypes), ids: ids}
}

func (e encodeTemplateV11) writeContent(_ RecordID, s Sink) {
	s.PutInt(e.t.head())
	for _, id := range e.t.headerIDs() {
		s.PutRecordID(id)
	}
	if !e.t.NamesList.IsZero() {
		s.PutRecordID(e.t.NamesList)
	}
	for _, b := range e.t.PropertyTypes {
		s.PutByte(byte(b))
	}
}

// ReadTemplate decodes the template at id, in the layout of the version
// its segment was written in.
func (r *Reader) ReadTemplate(ctx context.Context, id RecordID) (*NodeTemplate, error) {
	c, err := r.cursor(ctx, id)
	if err != nil {
		return nil, err
	}
	version := c.seg.version
	if err := version.check(); err != nil {
		return nil, err
	}
	head := uint32(c.int())
	var primary, childName, namesList RecordID
	var mixins []RecordID
	if head&templatePrimaryBit != 0 {
		primary = c.recordID()
	}
	if head&templateMixinsBit != 0 {
		mixins = make([]RecordID, head>>templateMixinShift&templateMixinMask)
		for i := range mixins {
			mixins[i] = c.recordID()
		}
	}
	t := &NodeTemplate{Children: OneChildNode}
	switch {
	case head&templateNoChildBit != 0:
		t.Children = NoChildNodes
	case head&templateManyChildBit != 0:
		t.Children = ManyChildNodes
	default:
		childName = c.recordID()
	}
	n := int(head & templatePropertyMask)
	if version.OnOrAfter(V11) && n > 0 {
		namesList = c.recordID()
	}
	names := make([]RecordID, n)
	types := make([]int8, n)
	for i := range types {
		if !version.OnOrAfter(V11) {
			names[i] = c.recordID()
		}
		types[i] = int8(c.byte())
	}
	if c.err != nil {
		return nil, fmt.Errorf("template %v: %w", id, c.err)
	}

	if !primary.IsZero() {
		if t.PrimaryType, err = r.ReadString(ctx, primary); err != nil {
			return nil, fmt.Errorf("template %v primary type: %w", id, err)
		}
	}
	for _, m := range mixins {
		s, err := r.ReadString(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("template %v mixin: %w", id, err)
		}
		t.Mixins = append(t.Mixins, s)
	}
	if !childName.IsZero() {
		if t.ChildName, err = r.ReadString(ctx, childName); err != nil {
			return nil, fmt.Errorf("template %v child name: %w", id, err)
		}
	}
	if !namesList.IsZero() {
		if names, err = r.ReadList(ctx, namesList); err != nil {
			return nil, fmt.Errorf("template %v names: %w", id, err)
		}
		if len(names) != n {
			return nil, fmt.Errorf("template %v has %d names for %d properties: %w", id, len(names), n, ErrInvalidTemplate)
		}
	}
	t.Properties = make([]PropertyTemplate, n)
	for i := range t.Properties {
		name, err := r.ReadString(ctx, names[i])
		if err != nil {
			return nil, fmt.Errorf("template %v property name: %w", id, err)
		}
		if t.Properties[i], err = propertyTemplate(name, types[i]); err != nil {
			return nil, fmt.Errorf("template %v: %w", id, err)
		}
	}
	return t, nil
}
