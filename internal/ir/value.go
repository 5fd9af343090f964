package ir

import (
	"fmt"
	"slices"
	"time"
	"unicode/utf16"
)

// Node is a sealed interface representing one value of the state tree.
// Only Null, String, Int, Float, Bool, Date, *Array and *Object implement it.
type Node interface {
	node() // Sealed - only these types implement it
}

// Null represents an explicit null in the state tree.
type Null struct{}

func (Null) node() {}

// String represents a string leaf.
type String string

func (String) node() {}

// Int represents an integral number leaf.
type Int int64

func (Int) node() {}

// Float represents a non-integral (or float-typed) number leaf.
type Float float64

func (Float) node() {}

// Bool represents a boolean leaf.
type Bool bool

func (Bool) node() {}

// Date is a point in time. It behaves as an atomic scalar: two dates are
// the same node when they denote the same instant.
type Date struct {
	t time.Time
}

func (Date) node() {}

// NewDate creates a Date normalized to UTC with the monotonic reading stripped.
func NewDate(t time.Time) Date {
	return Date{t: t.UTC().Round(0)}
}

// Time returns the instant as a UTC time.Time.
func (d Date) Time() time.Time {
	return d.t
}

// String formats the date as RFC 3339 with nanoseconds, which is also
// its wire and canonical form.
func (d Date) String() string {
	return d.t.Format(time.RFC3339Nano)
}

// Array is an ordered, immutable sequence of nodes.
// Always handled through *Array; identity is the pointer.
type Array struct {
	elems []Node
}

func (*Array) node() {}

// NewArray creates an array holding a copy of elems.
// Nil elements are stored as Null.
func NewArray(elems ...Node) *Array {
	out := make([]Node, len(elems))
	for i, e := range elems {
		out[i] = orNull(e)
	}
	return &Array{elems: out}
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return len(a.elems)
}

// At returns the element at index i. Panics when out of range, like a slice.
func (a *Array) At(i int) Node {
	return a.elems[i]
}

// Elements returns a copy of the element slice.
func (a *Array) Elements() []Node {
	return slices.Clone(a.elems)
}

// With returns a new array with element i replaced by v.
func (a *Array) With(i int, v Node) *Array {
	out := slices.Clone(a.elems)
	out[i] = orNull(v)
	return &Array{elems: out}
}

// Object is an immutable keyed collection with an optional type id.
// Always handled through *Object; identity is the pointer.
type Object struct {
	typeID string
	props  map[string]Node
	keys   []string // RFC 8785 order
}

func (*Object) node() {}

// NewObject creates an object with a copy of props.
// Nil values are stored as Null.
func NewObject(typeID string, props map[string]Node) *Object {
	m := make(map[string]Node, len(props))
	keys := make([]string, 0, len(props))
	for k, v := range props {
		m[k] = orNull(v)
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return &Object{typeID: typeID, props: m, keys: keys}
}

// Pair is a key/value pair for ordered object construction in literals.
type Pair struct {
	Key   string
	Value Node
}

// P is a shorthand for Pair.
// Example: Obj("DataNode", P("Text", String("a")), P("Count", Int(1)))
func P(key string, value Node) Pair {
	return Pair{Key: key, Value: value}
}

// Obj builds an object from pairs. A repeated key keeps the last value.
func Obj(typeID string, pairs ...Pair) *Object {
	m := make(map[string]Node, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return NewObject(typeID, m)
}

// TypeID returns the object's type id, or "" for an untyped object.
func (o *Object) TypeID() string {
	return o.typeID
}

// Len returns the number of properties.
func (o *Object) Len() int {
	return len(o.props)
}

// Get returns the property named name.
func (o *Object) Get(name string) (Node, bool) {
	v, ok := o.props[name]
	return v, ok
}

// Keys returns property names in RFC 8785 order.
func (o *Object) Keys() []string {
	return slices.Clone(o.keys)
}

// Props returns a copy of the property map.
func (o *Object) Props() map[string]Node {
	m := make(map[string]Node, len(o.props))
	for k, v := range o.props {
		m[k] = v
	}
	return m
}

// With returns a new object with property name set to v.
func (o *Object) With(name string, v Node) *Object {
	m := o.Props()
	m[name] = v
	return NewObject(o.typeID, m)
}

// WithTypeID returns a new object with the same properties and a different type id.
func (o *Object) WithTypeID(typeID string) *Object {
	return &Object{typeID: typeID, props: o.props, keys: o.keys}
}

// Same reports whether a and b are the same node: pointer identity for
// arrays and objects, instant equality for dates, value equality for
// the other scalars.
func Same(a, b Node) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case *Array:
		y, ok := b.(*Array)
		return ok && x == y
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	case Date:
		y, ok := b.(Date)
		return ok && x.t.Equal(y.t)
	default:
		return a == b
	}
}

// Kind names the variant of n for diagnostics.
func Kind(n Node) string {
	switch n.(type) {
	case nil:
		return "undefined"
	case Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Date:
		return "date"
	case *Array:
		return "array"
	case *Object:
		return "object"
	default:
		return fmt.Sprintf("%T", n)
	}
}

func orNull(n Node) Node {
	if n == nil {
		return Null{}
	}
	return n
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
// Go's default string comparison uses UTF-8 which produces a different order.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// If all compared units are equal, shorter string comes first
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
