package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind classifies a TypeRef.
type TypeKind uint8

const (
	TypeDynamic TypeKind = iota
	TypePrimitive
	TypeObject
	TypeArray
)

// Primitive names a scalar type.
type Primitive string

const (
	PrimitiveString Primitive = "string"
	PrimitiveInt    Primitive = "int"
	PrimitiveFloat  Primitive = "float"
	PrimitiveBool   Primitive = "bool"
	PrimitiveDate   Primitive = "date"
)

// ValidPrimitives lists the primitive type names.
var ValidPrimitives = map[Primitive]bool{
	PrimitiveString: true,
	PrimitiveInt:    true,
	PrimitiveFloat:  true,
	PrimitiveBool:   true,
	PrimitiveDate:   true,
}

// TypeRef is the declared type of a state position.
type TypeRef struct {
	Kind      TypeKind
	Primitive Primitive // TypePrimitive only
	TypeID    string    // TypeObject only
	Elem      *TypeRef  // TypeArray only; nil means dynamic elements
	Length    int       // TypeArray only; > 0 for fixed cardinality
	Nullable  bool
}

// Dynamic returns the type that accepts any value unchanged.
func Dynamic() TypeRef {
	return TypeRef{Kind: TypeDynamic}
}

// PrimitiveOf returns a non-nullable primitive type.
func PrimitiveOf(p Primitive) TypeRef {
	return TypeRef{Kind: TypePrimitive, Primitive: p}
}

// ObjectOf returns the object type with the given type id.
func ObjectOf(typeID string) TypeRef {
	return TypeRef{Kind: TypeObject, TypeID: typeID}
}

// ListOf returns a variable-length array type.
func ListOf(elem TypeRef) TypeRef {
	return TypeRef{Kind: TypeArray, Elem: &elem}
}

// FixedOf returns an array type with exactly n elements.
func FixedOf(n int, elem TypeRef) TypeRef {
	return TypeRef{Kind: TypeArray, Elem: &elem, Length: n}
}

// OrNull returns t marked nullable.
func (t TypeRef) OrNull() TypeRef {
	t.Nullable = true
	return t
}

// ElemType returns the element type of an array type, dynamic when unset.
func (t TypeRef) ElemType() TypeRef {
	if t.Elem == nil {
		return Dynamic()
	}
	return *t.Elem
}

// AcceptsNull reports whether Null is a valid value for t.
// Strings, objects and arrays are reference-like and always accept null;
// int, float, bool and date must be declared nullable.
func (t TypeRef) AcceptsNull() bool {
	switch t.Kind {
	case TypeDynamic, TypeObject, TypeArray:
		return true
	case TypePrimitive:
		return t.Nullable || t.Primitive == PrimitiveString
	}
	return false
}

// String renders t in descriptor grammar. The '?' marker is only written
// where it changes AcceptsNull.
func (t TypeRef) String() string {
	var s string
	switch t.Kind {
	case TypeDynamic:
		s = "dynamic"
	case TypePrimitive:
		s = string(t.Primitive)
	case TypeObject:
		s = t.TypeID
	case TypeArray:
		if t.Length > 0 {
			s = "[" + strconv.Itoa(t.Length) + "]" + t.ElemType().String()
		} else {
			s = "[]" + t.ElemType().String()
		}
	default:
		s = fmt.Sprintf("kind(%d)", t.Kind)
	}
	if t.Nullable && t.Kind == TypePrimitive && t.Primitive != PrimitiveString {
		s += "?"
	}
	return s
}

// ParseTypeRef parses descriptor grammar:
//
//	string | int | float | bool | date | dynamic
//	T?      nullable (a no-op for types that already accept null)
//	[]T     list; "[]int?" is a list of nullable ints
//	[N]T    fixed cardinality
//	Name    object type id
func ParseTypeRef(s string) (TypeRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeRef{}, fmt.Errorf("empty type")
	}
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return TypeRef{}, fmt.Errorf("type %q: missing ']'", s)
		}
		elem, err := ParseTypeRef(s[end+1:])
		if err != nil {
			return TypeRef{}, fmt.Errorf("type %q: element: %w", s, err)
		}
		if end == 1 {
			return ListOf(elem), nil
		}
		n, err := strconv.Atoi(s[1:end])
		if err != nil || n <= 0 {
			return TypeRef{}, fmt.Errorf("type %q: array length must be a positive integer", s)
		}
		return FixedOf(n, elem), nil
	}
	if inner, ok := strings.CutSuffix(s, "?"); ok {
		if strings.HasSuffix(inner, "?") {
			return TypeRef{}, fmt.Errorf("type %q: repeated '?'", s)
		}
		t, err := ParseTypeRef(inner)
		if err != nil {
			return TypeRef{}, err
		}
		if t.AcceptsNull() {
			return t, nil
		}
		return t.OrNull(), nil
	}
	if s == "dynamic" {
		return Dynamic(), nil
	}
	if ValidPrimitives[Primitive(s)] {
		return PrimitiveOf(Primitive(s)), nil
	}
	if !ValidTypeID(s) {
		return TypeRef{}, fmt.Errorf("type %q: invalid type id", s)
	}
	return ObjectOf(s), nil
}

// ValidTypeID reports whether s is usable as an object type id:
// letters, digits, '_', '.', '-' and ':', not starting with a digit or '$'.
func ValidTypeID(s string) bool {
	if s == "" || s == "dynamic" || ValidPrimitives[Primitive(s)] {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9', r == '.', r == '-', r == ':':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// ProtectMode selects how a property crosses the client boundary.
type ProtectMode uint8

const (
	ProtectNone ProtectMode = iota
	ProtectSign
	ProtectEncrypt
)

func (m ProtectMode) String() string {
	switch m {
	case ProtectNone:
		return "none"
	case ProtectSign:
		return "sign"
	case ProtectEncrypt:
		return "encrypt"
	}
	return fmt.Sprintf("ProtectMode(%d)", uint8(m))
}

// ParseProtectMode parses "none", "sign" or "encrypt". Empty means none.
func ParseProtectMode(s string) (ProtectMode, error) {
	switch s {
	case "", "none":
		return ProtectNone, nil
	case "sign":
		return ProtectSign, nil
	case "encrypt":
		return ProtectEncrypt, nil
	}
	return ProtectNone, fmt.Errorf("invalid protect mode %q", s)
}

// Direction controls which way a property is synchronized.
type Direction uint8

const (
	DirectionBoth Direction = iota
	DirectionServerToClient
	DirectionClientToServer
	DirectionNone
)

func (d Direction) String() string {
	switch d {
	case DirectionBoth:
		return "both"
	case DirectionServerToClient:
		return "server-to-client"
	case DirectionClientToServer:
		return "client-to-server"
	case DirectionNone:
		return "none"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// ParseDirection parses a direction name. Empty means both.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "both":
		return DirectionBoth, nil
	case "server-to-client":
		return DirectionServerToClient, nil
	case "client-to-server":
		return DirectionClientToServer, nil
	case "none":
		return DirectionNone, nil
	}
	return DirectionBoth, fmt.Errorf("invalid direction %q", s)
}

// SendsToClient reports whether the property is serialized to the client.
func (d Direction) SendsToClient() bool {
	return d == DirectionBoth || d == DirectionServerToClient
}

// AcceptsFromClient reports whether a plain (unprotected) value sent by
// the client is taken into the server state.
func (d Direction) AcceptsFromClient() bool {
	return d == DirectionBoth || d == DirectionClientToServer
}

// ExtenderRef names a client-side extender and its parameter.
type ExtenderRef struct {
	Name      string
	Parameter Node
}

// PropertyDescriptor declares one property of an object type.
type PropertyDescriptor struct {
	Name            string
	Type            TypeRef
	Protect         ProtectMode
	Direction       Direction
	ClientExtenders []ExtenderRef
}

// TypeDescriptor declares an object type. Immutable after construction.
type TypeDescriptor struct {
	ID    string
	props map[string]PropertyDescriptor
	order []string
}

// NewTypeDescriptor builds a descriptor. Properties keep declaration order.
func NewTypeDescriptor(id string, props ...PropertyDescriptor) (*TypeDescriptor, error) {
	if !ValidTypeID(id) {
		return nil, fmt.Errorf("invalid type id %q", id)
	}
	d := &TypeDescriptor{
		ID:    id,
		props: make(map[string]PropertyDescriptor, len(props)),
		order: make([]string, 0, len(props)),
	}
	for _, p := range props {
		if p.Name == "" || strings.HasPrefix(p.Name, "$") {
			return nil, fmt.Errorf("type %s: invalid property name %q", id, p.Name)
		}
		if _, dup := d.props[p.Name]; dup {
			return nil, fmt.Errorf("type %s: duplicate property %q", id, p.Name)
		}
		d.props[p.Name] = p
		d.order = append(d.order, p.Name)
	}
	return d, nil
}

// MustTypeDescriptor is like NewTypeDescriptor but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustTypeDescriptor(id string, props ...PropertyDescriptor) *TypeDescriptor {
	d, err := NewTypeDescriptor(id, props...)
	if err != nil {
		panic(err)
	}
	return d
}

// Property returns the named property.
func (d *TypeDescriptor) Property(name string) (PropertyDescriptor, bool) {
	p, ok := d.props[name]
	return p, ok
}

// Has reports whether name is declared.
func (d *TypeDescriptor) Has(name string) bool {
	_, ok := d.props[name]
	return ok
}

// Properties returns the declared properties in declaration order.
func (d *TypeDescriptor) Properties() []PropertyDescriptor {
	out := make([]PropertyDescriptor, len(d.order))
	for i, name := range d.order {
		out[i] = d.props[name]
	}
	return out
}

// Descriptors resolves type ids to descriptors.
type Descriptors interface {
	TypeDescriptor(typeID string) (*TypeDescriptor, bool)
}
