package mirror

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/vmsync/internal/ir"
)

// ObjectMirror exposes the properties of an object value as observables.
// A property observable is created on first read and then cached for the
// life of the ObjectMirror.
type ObjectMirror struct {
	owner *Observable
	value *ir.Object
	desc  *ir.TypeDescriptor
	props map[string]*Observable
	order []string
}

func newObjectMirror(owner *Observable, v *ir.Object) *ObjectMirror {
	om := &ObjectMirror{
		owner: owner,
		value: v,
		props: make(map[string]*Observable),
	}
	if id := v.TypeID(); id != "" {
		desc, ok := owner.mirror.container.Coercer().Types().TypeDescriptor(id)
		switch {
		case ok:
			om.desc = desc
		case owner.typ.Kind == ir.TypeObject:
			// Coercion rejects these before they reach a snapshot.
			invariant("snapshot object has unregistered type id", "path", owner.path.String(), "type", id)
		default:
			slog.Warn("mirroring object of unregistered type as untyped",
				"path", owner.path.String(),
				"type", id)
		}
	}
	return om
}

// TypeID returns the type id of the mirrored object.
func (om *ObjectMirror) TypeID() string {
	return om.value.TypeID()
}

// Names returns the declared property names followed by any other
// non-metadata names present in the value.
func (om *ObjectMirror) Names() []string {
	var names []string
	if om.desc != nil {
		for _, pd := range om.desc.Properties() {
			names = append(names, pd.Name)
		}
	}
	for _, k := range om.value.Keys() {
		if strings.HasPrefix(k, "$") || slices.Contains(names, k) {
			continue
		}
		names = append(names, k)
	}
	return names
}

// Prop returns the observable for name, creating it on first read.
// Returns nil for metadata names and for names that are neither declared
// nor present.
func (om *ObjectMirror) Prop(name string) *Observable {
	if o, ok := om.props[name]; ok {
		return o
	}
	if strings.HasPrefix(name, "$") {
		return nil
	}

	v, present := om.value.Get(name)
	var pd ir.PropertyDescriptor
	declared := false
	if om.desc != nil {
		pd, declared = om.desc.Property(name)
	}
	if !declared && !present {
		if om.desc != nil {
			slog.Warn("read of unknown property",
				"path", om.owner.path.Prop(name).String(),
				"type", om.desc.ID)
		}
		return nil
	}

	t := ir.Dynamic()
	if declared {
		t = pd.Type
	} else if om.desc != nil {
		slog.Warn("mirroring undeclared property",
			"path", om.owner.path.Prop(name).String(),
			"type", om.desc.ID)
	}

	m := om.owner.mirror
	o := m.newObservable(om.owner.path.Prop(name), t)
	o.notify(v)
	om.props[name] = o
	om.order = append(om.order, name)
	if declared {
		m.applyExtenders(o, pd)
	}
	return o
}

// notify forwards v to the cached property observables only. Properties
// never read stay unmaterialized.
func (om *ObjectMirror) notify(v *ir.Object) {
	om.value = v
	for _, name := range om.order {
		child, ok := v.Get(name)
		if !ok {
			child = ir.Null{}
		}
		om.props[name].notify(child)
	}
}

func (om *ObjectMirror) detach() {
	for _, name := range om.order {
		om.props[name].detach()
	}
}
