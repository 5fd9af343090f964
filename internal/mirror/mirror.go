// Package mirror keeps a tree of observables in sync with a state
// container while preserving observable identity wherever the state shape
// allows it.
package mirror

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/vmsync/internal/ir"
	"github.com/roach88/vmsync/internal/state"
)

// ErrDetached is returned by writes to an observable that was discarded by
// reconciliation, e.g. an element of an array that shrank.
var ErrDetached = errors.New("mirror: observable is detached")

// Extender customizes a property observable when it is first created.
// param is the parameter declared next to the extender name.
type Extender func(o *Observable, param ir.Node)

// Option configures a Mirror.
type Option func(*Mirror)

// WithExtender registers a client extender under name.
func WithExtender(name string, fn Extender) Option {
	return func(m *Mirror) {
		m.extenders[name] = fn
	}
}

// Mirror is the reactive counterpart of a Container. It registers itself
// as the container's reconciler and is driven by its flushes.
type Mirror struct {
	container *state.Container
	extenders map[string]Extender
	root      *Observable
}

// New builds the mirror of c's current snapshot.
func New(c *state.Container, opts ...Option) *Mirror {
	m := &Mirror{
		container: c,
		extenders: make(map[string]Extender),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.root = m.newObservable(ir.Path{}, c.RootType())
	m.root.notify(c.State())
	c.AddReconciler(m)
	return m
}

// Root returns the observable of the whole snapshot.
func (m *Mirror) Root() *Observable {
	return m.root
}

// Container returns the container this mirror follows.
func (m *Mirror) Container() *state.Container {
	return m.container
}

// Reconcile implements state.Reconciler.
func (m *Mirror) Reconcile(snapshot ir.Node) {
	m.root.notify(snapshot)
}

// Lookup returns the observable at path, materializing lazy properties on
// the way, or nil when the path does not resolve.
func (m *Mirror) Lookup(path ir.Path) *Observable {
	o := m.root
	for _, seg := range path {
		if o == nil {
			return nil
		}
		if seg.IsIndex {
			o = o.Element(seg.Index)
		} else {
			o = o.Prop(seg.Name)
		}
	}
	return o
}

func (m *Mirror) newObservable(path ir.Path, t ir.TypeRef) *Observable {
	return &Observable{
		mirror: m,
		path:   path,
		typ:    t,
		value:  nil,
	}
}

func (m *Mirror) applyExtenders(o *Observable, pd ir.PropertyDescriptor) {
	for _, ext := range pd.ClientExtenders {
		fn, ok := m.extenders[ext.Name]
		if !ok {
			slog.Warn("unknown client extender",
				"path", o.path.String(),
				"extender", ext.Name)
			continue
		}
		fn(o, ext.Parameter)
	}
}

// invariant reports a broken mirror and panics. Reconciliation cannot
// continue once the mirror and the snapshot disagree.
func invariant(msg string, args ...any) {
	slog.Error(msg, args...)
	panic(fmt.Sprintf("mirror invariant violated: %s %v", msg, args))
}
