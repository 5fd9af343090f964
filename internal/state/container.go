package state

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/vmsync/internal/coerce"
	"github.com/roach88/vmsync/internal/ir"
)

// ErrNilState is returned when a transition is given no candidate.
var ErrNilState = errors.New("state: nil candidate")

// Reconciler receives the snapshot at the end of each flush.
type Reconciler interface {
	Reconcile(snapshot ir.Node)
}

// Listener is called with the snapshot at the start of each flush.
type Listener func(snapshot ir.Node)

// Journal records accepted snapshots. Record errors are logged and do not
// fail the transition.
type Journal interface {
	Record(seq int64, snapshot ir.Node) error
}

// Option configures a Container.
type Option func(*Container)

// WithJournal records the initial snapshot and every accepted transition.
func WithJournal(j Journal) Option {
	return func(c *Container) {
		c.journal = j
	}
}

// WithClock sets the sequence source, e.g. one resumed with NewClockAt.
func WithClock(clock *Clock) Option {
	return func(c *Container) {
		c.clock = clock
	}
}

// Container owns the current snapshot of one view model.
//
// Not safe for concurrent use: all calls happen on the owning context.
// Transitions apply immediately; reconciliation runs in a scheduled flush
// that coalesces every transition made before it fires.
type Container struct {
	coercer  *coerce.Coercer
	rootType ir.TypeRef
	state    ir.Node
	sched    Scheduler

	dirty       bool
	cancel      func()
	reconciling bool

	listeners   []*listener
	reconcilers []Reconciler

	clock   *Clock
	journal Journal
}

type listener struct {
	fn Listener
}

// New creates a container holding initial coerced against rootType.
// A dynamic rootType is narrowed to the type id of a typed initial object.
func New(coercer *coerce.Coercer, rootType ir.TypeRef, initial ir.Node, sched Scheduler, opts ...Option) (*Container, error) {
	if initial == nil {
		return nil, ErrNilState
	}
	if rootType.Kind == ir.TypeDynamic {
		if obj, ok := initial.(*ir.Object); ok && obj.TypeID() != "" {
			rootType = ir.ObjectOf(obj.TypeID())
		}
	}

	c := &Container{
		coercer:  coercer,
		rootType: rootType,
		sched:    sched,
		clock:    NewClock(),
	}
	for _, opt := range opts {
		opt(c)
	}

	typed, err := coercer.Coerce(initial, rootType, nil)
	if err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	c.state = typed
	c.record(c.clock.Next())
	return c, nil
}

// State returns the current snapshot.
func (c *Container) State() ir.Node {
	return c.state
}

// RootType returns the type the snapshot is coerced against.
func (c *Container) RootType() ir.TypeRef {
	return c.rootType
}

// Coercer returns the coercer used for transitions.
func (c *Container) Coercer() *coerce.Coercer {
	return c.coercer
}

// Seq returns the sequence number of the current snapshot.
func (c *Container) Seq() int64 {
	return c.clock.Current()
}

// IsDirty reports whether a flush is pending.
func (c *Container) IsDirty() bool {
	return c.dirty
}

// Reconciling reports whether a flush is in progress.
func (c *Container) Reconciling() bool {
	return c.reconciling
}

// SetState coerces candidate against the root type, reusing the current
// snapshot as the hint, and swaps it in. A candidate that is, or coerces
// to, the current snapshot is a no-op. On error the snapshot is unchanged.
func (c *Container) SetState(candidate ir.Node) error {
	if candidate == nil {
		return ErrNilState
	}
	if ir.Same(candidate, c.state) {
		return nil
	}

	typed, err := c.coercer.Coerce(candidate, c.rootType, c.state)
	if err != nil {
		return err
	}
	if ir.Same(typed, c.state) {
		return nil
	}

	c.state = typed
	seq := c.clock.Next()
	slog.Debug("state transition", "seq", seq, "reconciling", c.reconciling)
	c.record(seq)
	c.DispatchUpdate()
	return nil
}

// PatchState deep-merges partial into the current snapshot.
func (c *Container) PatchState(partial ir.Node) error {
	if partial == nil {
		return ErrNilState
	}
	return c.SetState(coerce.Merge(c.state, partial))
}

// Update applies fn to the current snapshot. fn must be pure.
func (c *Container) Update(fn func(ir.Node) ir.Node) error {
	return c.SetState(fn(c.state))
}

// ApplyPath replaces the node at path with fn(current). Only the ancestors
// of path are rebuilt before the result goes through SetState.
func (c *Container) ApplyPath(path ir.Path, fn func(ir.Node) ir.Node) error {
	next, err := ir.UpdateAt(c.state, path, fn)
	if err != nil {
		return fmt.Errorf("apply %s: %w", path, err)
	}
	return c.SetState(next)
}

// OnStateUpdate registers fn to run at the start of every flush.
// The returned function unregisters it.
func (c *Container) OnStateUpdate(fn Listener) func() {
	l := &listener{fn: fn}
	c.listeners = append(c.listeners, l)
	return func() {
		for i, x := range c.listeners {
			if x == l {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// AddReconciler registers r to receive the snapshot at the end of every flush.
func (c *Container) AddReconciler(r Reconciler) {
	c.reconcilers = append(c.reconcilers, r)
}

// DispatchUpdate marks the container dirty and arms one flush. Calls made
// while a flush is already armed are no-ops.
func (c *Container) DispatchUpdate() {
	if c.dirty {
		return
	}
	c.dirty = true
	c.cancel = c.sched.Schedule(c.flush)
}

// DoUpdateNow disarms the pending flush and runs one synchronously.
// Inside a flush it only dispatches, so passes never nest.
func (c *Container) DoUpdateNow() {
	if c.reconciling {
		c.DispatchUpdate()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.flush()
}

func (c *Container) flush() {
	c.cancel = nil
	c.dirty = false
	c.reconciling = true
	defer func() { c.reconciling = false }()

	snapshot := c.state
	slog.Debug("flush", "seq", c.clock.Current())
	for _, l := range c.listeners {
		l.fn(snapshot)
	}
	for _, r := range c.reconcilers {
		r.Reconcile(snapshot)
	}
}

func (c *Container) record(seq int64) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(seq, c.state); err != nil {
		slog.Error("journal record failed", "seq", seq, "error", err)
	}
}
