package mirror

import (
	"github.com/roach88/vmsync/internal/coerce"
	"github.com/roach88/vmsync/internal/ir"
)

// Subscriber receives an observable's new value.
type Subscriber func(value ir.Node)

type subscription struct {
	fn Subscriber
}

// Observable mirrors one position of the state tree.
//
// An array observable owns one element observable per element; an object
// observable owns an ObjectMirror whose properties materialize lazily.
type Observable struct {
	mirror *Mirror
	path   ir.Path
	typ    ir.TypeRef
	value  ir.Node

	elems  []*Observable
	object *ObjectMirror

	// assigned is set by Set and consumed by the next notify that changes
	// the value: an assignment rebuilds instead of taking a reuse path.
	assigned bool
	detached bool
	lastErr  error
	subs     []*subscription
}

// Path returns the position of the observable in the state tree.
func (o *Observable) Path() ir.Path {
	return o.path
}

// Type returns the declared type of the position.
func (o *Observable) Type() ir.TypeRef {
	return o.typ
}

// Value returns the last reconciled value.
func (o *Observable) Value() ir.Node {
	return o.value
}

// Detached reports whether reconciliation discarded this observable.
func (o *Observable) Detached() bool {
	return o.detached
}

// LastSetError returns the error of the last failed Set, or nil.
func (o *Observable) LastSetError() error {
	return o.lastErr
}

// Len returns the number of element observables.
func (o *Observable) Len() int {
	return len(o.elems)
}

// Elements returns the element observables of an array value.
func (o *Observable) Elements() []*Observable {
	out := make([]*Observable, len(o.elems))
	copy(out, o.elems)
	return out
}

// Element returns the i-th element observable, or nil.
func (o *Observable) Element(i int) *Observable {
	if i < 0 || i >= len(o.elems) {
		return nil
	}
	return o.elems[i]
}

// Object returns the object mirror of an object value, or nil.
func (o *Observable) Object() *ObjectMirror {
	return o.object
}

// Prop returns the named property observable of an object value, or nil.
func (o *Observable) Prop(name string) *Observable {
	if o.object == nil {
		return nil
	}
	return o.object.Prop(name)
}

// Subscribe registers fn for value changes of this observable. The
// returned function unsubscribes.
func (o *Observable) Subscribe(fn Subscriber) func() {
	s := &subscription{fn: fn}
	o.subs = append(o.subs, s)
	return func() {
		for i, x := range o.subs {
			if x == s {
				o.subs = append(o.subs[:i:i], o.subs[i+1:]...)
				return
			}
		}
	}
}

// Set coerces v against the observable's type and writes it to the
// container at this observable's path. Outside a reconciliation pass the
// observable is reconciled immediately; inside one, the next flush does it.
func (o *Observable) Set(v ir.Node) error {
	if o.detached {
		return ErrDetached
	}
	c := o.mirror.container

	current, _ := ir.Lookup(c.State(), o.path)
	typed, err := c.Coercer().Coerce(v, o.typ, current)
	if err != nil {
		o.lastErr = err
		return err
	}
	o.lastErr = nil
	if current != nil && ir.Same(typed, current) {
		return nil
	}

	if err := c.ApplyPath(o.path, func(ir.Node) ir.Node { return typed }); err != nil {
		o.lastErr = err
		return err
	}
	o.assigned = true

	if !c.Reconciling() {
		applied, ok := ir.Lookup(c.State(), o.path)
		if !ok {
			invariant("written path missing from snapshot", "path", o.path.String())
		}
		o.notify(applied)
	}
	return nil
}

// Update applies fn to the container value at this path. Unlike Set it
// is not an assignment: reconciliation takes the reuse paths.
func (o *Observable) Update(fn func(ir.Node) ir.Node) error {
	if o.detached {
		return ErrDetached
	}
	return o.mirror.container.ApplyPath(o.path, fn)
}

// Patch deep-merges partial into the container value at this path.
func (o *Observable) Patch(partial ir.Node) error {
	return o.Update(func(cur ir.Node) ir.Node {
		return coerce.Merge(cur, partial)
	})
}

func (o *Observable) notify(v ir.Node) {
	if o.detached {
		invariant("notify on detached observable", "path", o.path.String())
	}
	if v == nil {
		v = ir.Null{}
	}
	if o.value != nil && ir.Same(v, o.value) {
		return
	}
	assigned := o.assigned
	o.assigned = false

	switch nv := v.(type) {
	case *ir.Array:
		o.notifyArray(nv, assigned)
	case *ir.Object:
		o.notifyObject(nv, assigned)
	default:
		o.detachContents()
		o.value = v
		o.emit()
	}
}

func (o *Observable) notifyArray(nv *ir.Array, assigned bool) {
	if o.object != nil {
		o.object.detach()
		o.object = nil
	}

	_, wasArray := o.value.(*ir.Array)
	if !assigned && wasArray && len(o.elems) == nv.Len() {
		o.value = nv
		for i, e := range o.elems {
			e.notify(nv.At(i))
		}
		return
	}

	elemType := elemTypeOf(o.typ)
	keep := min(len(o.elems), nv.Len())
	elems := make([]*Observable, nv.Len())
	for i := 0; i < keep; i++ {
		if e := o.elems[i]; e != nil && e.mirror == o.mirror && !e.detached {
			elems[i] = e
		}
	}
	for i := keep; i < len(o.elems); i++ {
		if e := o.elems[i]; e != nil {
			e.detach()
		}
	}
	for i := range elems {
		if elems[i] == nil {
			elems[i] = o.mirror.newObservable(o.path.Index(i), elemType)
		}
	}

	o.elems = elems
	o.value = nv
	for i, e := range elems {
		e.notify(nv.At(i))
	}
	o.emit()
}

func (o *Observable) notifyObject(nv *ir.Object, assigned bool) {
	for _, e := range o.elems {
		e.detach()
	}
	o.elems = nil

	prev, _ := o.value.(*ir.Object)
	if !assigned && o.object != nil && prev != nil &&
		prev.TypeID() != "" && prev.TypeID() == nv.TypeID() {
		o.value = nv
		o.object.notify(nv)
		return
	}

	if o.object != nil {
		o.object.detach()
	}
	o.value = nv
	o.object = newObjectMirror(o, nv)
	o.emit()
}

func (o *Observable) emit() {
	subs := o.subs
	for _, s := range subs {
		s.fn(o.value)
	}
}

func (o *Observable) detachContents() {
	for _, e := range o.elems {
		e.detach()
	}
	o.elems = nil
	if o.object != nil {
		o.object.detach()
		o.object = nil
	}
}

func (o *Observable) detach() {
	o.detached = true
	o.subs = nil
	o.detachContents()
}

func elemTypeOf(t ir.TypeRef) ir.TypeRef {
	if t.Kind != ir.TypeArray {
		return ir.Dynamic()
	}
	return t.ElemType()
}
