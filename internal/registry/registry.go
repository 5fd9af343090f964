package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/vmsync/internal/ir"
)

// ErrPublished is returned when registering into a frozen registry.
var ErrPublished = errors.New("registry is published and read-only")

// Registry maps type ids to descriptors.
type Registry struct {
	types     map[string]*ir.TypeDescriptor
	published bool
}

// New creates an empty, unpublished registry.
func New() *Registry {
	return &Registry{types: make(map[string]*ir.TypeDescriptor)}
}

// Register adds a descriptor. Fails after Publish or on a duplicate id.
func (r *Registry) Register(d *ir.TypeDescriptor) error {
	if r.published {
		return ErrPublished
	}
	if d == nil {
		return fmt.Errorf("register: nil descriptor")
	}
	if _, dup := r.types[d.ID]; dup {
		return ValidationError{
			Field:   d.ID,
			Message: "type declared more than once",
			Code:    ErrDuplicateName,
		}
	}
	r.types[d.ID] = d
	return nil
}

// MustRegister is like Register but panics on error.
// Use only in tests or when inputs are known to be valid.
func (r *Registry) MustRegister(ds ...*ir.TypeDescriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Publish validates every descriptor and freezes the registry.
// On failure the registry stays unpublished and the error is ValidationErrors.
func (r *Registry) Publish() error {
	if r.published {
		return nil
	}
	if errs := Validate(r); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	r.published = true
	return nil
}

// Published reports whether Publish succeeded.
func (r *Registry) Published() bool {
	return r.published
}

// TypeDescriptor implements ir.Descriptors.
func (r *Registry) TypeDescriptor(typeID string) (*ir.TypeDescriptor, bool) {
	d, ok := r.types[typeID]
	return d, ok
}

// TypeIDs returns all registered ids, sorted.
func (r *Registry) TypeIDs() []string {
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
