package coerce

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/vmsync/internal/ir"
)

// UnknownPropertyHook observes properties that are not declared by the
// object's type descriptor. They are kept in the result unchanged.
type UnknownPropertyHook func(path ir.Path, typeID, name string)

// Option configures a Coercer.
type Option func(*Coercer)

// WithUnknownPropertyHook installs a hook called for each undeclared property.
func WithUnknownPropertyHook(h UnknownPropertyHook) Option {
	return func(c *Coercer) {
		c.onUnknown = h
	}
}

// Coercer validates and normalizes raw trees against declared types,
// reusing the previous tree wherever nothing changed.
//
// A Coercer holds no mutable state and may be shared between containers.
type Coercer struct {
	types     ir.Descriptors
	onUnknown UnknownPropertyHook
}

// New creates a coercer resolving object types through types.
func New(types ir.Descriptors, opts ...Option) *Coercer {
	c := &Coercer{types: types}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Types returns the descriptor source.
func (c *Coercer) Types() ir.Descriptors {
	return c.types
}

// Coerce returns raw normalized to t. previous is a hint: every subtree of
// the result that is unchanged is the corresponding node of previous itself,
// so callers detect no-ops with ir.Same. previous may be nil.
func (c *Coercer) Coerce(raw ir.Node, t ir.TypeRef, previous ir.Node) (ir.Node, error) {
	return c.coerce(ir.Path{}, raw, t, previous)
}

func (c *Coercer) coerce(path ir.Path, raw ir.Node, t ir.TypeRef, prev ir.Node) (ir.Node, error) {
	if raw == nil {
		raw = ir.Null{}
	}
	if t.Kind == ir.TypeDynamic {
		return raw, nil
	}
	if _, isNull := raw.(ir.Null); isNull {
		if !t.AcceptsNull() {
			return nil, &CoercionError{Path: path, Expected: t.String(), Actual: "null"}
		}
		return ir.Null{}, nil
	}

	switch t.Kind {
	case ir.TypePrimitive:
		v, ok := convertPrimitive(raw, t.Primitive)
		if !ok {
			return nil, &CoercionError{Path: path, Expected: t.String(), Actual: describe(raw)}
		}
		return v, nil
	case ir.TypeArray:
		return c.coerceArray(path, raw, t, prev)
	case ir.TypeObject:
		return c.coerceObject(path, raw, t, prev)
	default:
		return nil, &CoercionError{Path: path, Expected: t.String(), Actual: describe(raw), Reason: "unsupported type kind"}
	}
}

func (c *Coercer) coerceArray(path ir.Path, raw ir.Node, t ir.TypeRef, prev ir.Node) (ir.Node, error) {
	arr, ok := raw.(*ir.Array)
	if !ok {
		return nil, &CoercionError{Path: path, Expected: t.String(), Actual: describe(raw)}
	}

	n := arr.Len()
	if t.Length > 0 {
		if n < t.Length {
			return nil, &CoercionError{
				Path:     path,
				Expected: fmt.Sprintf("%d elements", t.Length),
				Actual:   fmt.Sprintf("%d elements", n),
			}
		}
		if n > t.Length {
			slog.Warn("dropping excess array elements",
				"path", path.String(),
				"declared", t.Length,
				"received", n)
			n = t.Length
		}
	}

	prevArr, _ := prev.(*ir.Array)
	changed := prevArr == nil || prevArr.Len() != n
	elemType := t.ElemType()
	elems := make([]ir.Node, n)
	for i := 0; i < n; i++ {
		var hint ir.Node
		if prevArr != nil && i < prevArr.Len() {
			hint = prevArr.At(i)
		}
		v, err := c.coerce(path.Index(i), arr.At(i), elemType, hint)
		if err != nil {
			return nil, err
		}
		if hint != nil && ir.Same(v, hint) {
			v = hint
		} else {
			changed = true
		}
		elems[i] = v
	}

	if !changed {
		return prevArr, nil
	}
	if n == arr.Len() && sameElements(arr, elems) {
		return arr, nil
	}
	return ir.NewArray(elems...), nil
}

func sameElements(arr *ir.Array, elems []ir.Node) bool {
	for i, e := range elems {
		if !ir.Same(arr.At(i), e) {
			return false
		}
	}
	return true
}

func (c *Coercer) coerceObject(path ir.Path, raw ir.Node, t ir.TypeRef, prev ir.Node) (ir.Node, error) {
	obj, ok := raw.(*ir.Object)
	if !ok {
		return nil, &CoercionError{Path: path, Expected: t.String(), Actual: describe(raw)}
	}

	typeID := obj.TypeID()
	if typeID == "" {
		typeID = t.TypeID
	}
	desc, ok := c.types.TypeDescriptor(typeID)
	if !ok {
		return nil, &CoercionError{Path: path, Expected: t.String(), Actual: "object " + typeID, Reason: "unknown type id"}
	}

	prevObj, _ := prev.(*ir.Object)
	sameType := prevObj != nil && prevObj.TypeID() == typeID
	changed := !sameType
	props := make(map[string]ir.Node, obj.Len())

	for _, pd := range desc.Properties() {
		var hint ir.Node
		if sameType {
			hint, _ = prevObj.Get(pd.Name)
		}

		rv, present := obj.Get(pd.Name)
		if !present {
			if hint != nil {
				props[pd.Name] = hint
				continue
			}
			rv = ir.Null{}
		}

		v, err := c.coerce(path.Prop(pd.Name), rv, pd.Type, hint)
		if err != nil {
			return nil, err
		}
		if hint != nil && ir.Same(v, hint) {
			v = hint
		} else {
			changed = true
		}
		props[pd.Name] = v
	}

	for _, name := range obj.Keys() {
		if desc.Has(name) || strings.HasPrefix(name, "$") {
			continue
		}
		c.unknown(path.Prop(name), typeID, name)
		v, _ := obj.Get(name)
		if sameType {
			if pv, ok := prevObj.Get(name); ok && ir.Same(pv, v) {
				v = pv
			} else {
				changed = true
			}
		}
		props[name] = v
	}

	if !changed && prevObj.Len() == len(props) {
		return prevObj, nil
	}
	if typeID == obj.TypeID() && obj.Len() == len(props) && sameProps(obj, props) {
		return obj, nil
	}
	return ir.NewObject(typeID, props), nil
}

func sameProps(obj *ir.Object, props map[string]ir.Node) bool {
	for k, v := range props {
		ov, ok := obj.Get(k)
		if !ok || !ir.Same(ov, v) {
			return false
		}
	}
	return true
}

func (c *Coercer) unknown(path ir.Path, typeID, name string) {
	slog.Warn("unknown property",
		"path", path.String(),
		"type", typeID,
		"property", name)
	if c.onUnknown != nil {
		c.onUnknown(path, typeID, name)
	}
}
