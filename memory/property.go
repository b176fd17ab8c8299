package memory

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Type is the value type of a property. The numbering is part of the
// record format: a template stores it as its property type byte.
type Type uint8

const (
	String Type = iota + 1
	Binary
	Long
	Double
	Date
	Boolean
	Name
	Path
	Reference
	WeakReference
	URI
	Decimal
)

// Names of the properties that nodes keep in their template rather than
// as ordinary properties.
const (
	PrimaryType = "jcr:primaryType"
	MixinTypes  = "jcr:mixinTypes"
)

var typeNames = [...]string{
	String:        "String",
	Binary:        "Binary",
	Long:          "Long",
	Double:        "Double",
	Date:          "Date",
	Boolean:       "Boolean",
	Name:          "Name",
	Path:          "Path",
	Reference:     "Reference",
	WeakReference: "WeakReference",
	URI:           "URI",
	Decimal:       "Decimal",
}

// Valid reports whether t is one of the defined types.
func (t Type) Valid() bool {
	return t >= String && t <= Decimal
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return typeNames[t]
}

// PropertyState is an immutable named property. Values hold the canonical
// serialized form of each value; a single valued property has exactly one.
type PropertyState struct {
	Name     string
	Type     Type
	Values   [][]byte
	Multiple bool
}

// NewProperty returns a property of the given type. It panics if a single
// valued property is not given exactly one value.
func NewProperty(name string, t Type, multiple bool, values ...[]byte) *PropertyState {
	if !multiple && len(values) != 1 {
		panic(fmt.Sprintf("bug! single valued property %s with %d values", name, len(values)))
	}
	return &PropertyState{Name: name, Type: t, Values: values, Multiple: multiple}
}

func StringProperty(name, value string) *PropertyState {
	return NewProperty(name, String, false, []byte(value))
}

func Strings(name string, values ...string) *PropertyState {
	return NewProperty(name, String, true, toBytes(values)...)
}

func NameProperty(name, value string) *PropertyState {
	return NewProperty(name, Name, false, []byte(value))
}

func Names(name string, values ...string) *PropertyState {
	return NewProperty(name, Name, true, toBytes(values)...)
}

func LongProperty(name string, value int64) *PropertyState {
	return NewProperty(name, Long, false, []byte(strconv.FormatInt(value, 10)))
}

func BooleanProperty(name string, value bool) *PropertyState {
	return NewProperty(name, Boolean, false, []byte(strconv.FormatBool(value)))
}

func BinaryProperty(name string, value []byte) *PropertyState {
	return NewProperty(name, Binary, false, value)
}

func toBytes(values []string) [][]byte {
	b := make([][]byte, len(values))
	for i, v := range values {
		b[i] = []byte(v)
	}
	return b
}

// Count returns the number of values.
func (p *PropertyState) Count() int {
	return len(p.Values)
}

// Value returns the i'th value as a string.
func (p *PropertyState) Value(i int) string {
	return string(p.Values[i])
}

// Equal reports whether p and o have the same name, type, arity and values.
func (p *PropertyState) Equal(o *PropertyState) bool {
	if p == o {
		return true
	}
	if p == nil || o == nil {
		return false
	}
	if p.Name != o.Name || p.Type != o.Type || p.Multiple != o.Multiple || len(p.Values) != len(o.Values) {
		return false
	}
	for i := range p.Values {
		if !bytes.Equal(p.Values[i], o.Values[i]) {
			return false
		}
	}
	return true
}

func (p *PropertyState) String() string {
	if p == nil {
		return "<nil>"
	}
	vs := make([]string, len(p.Values))
	for i, v := range p.Values {
		vs[i] = strconv.Quote(string(v))
	}
	if p.Multiple {
		return fmt.Sprintf("%s(%s)=[%s]", p.Name, p.Type, strings.Join(vs, ","))
	}
	return fmt.Sprintf("%s(%s)=%s", p.Name, p.Type, strings.Join(vs, ","))
}
