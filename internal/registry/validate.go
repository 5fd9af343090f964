package registry

import (
	"fmt"
	"strings"

	"github.com/roach88/vmsync/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrGeneric           = "E100" // unclassified descriptor problem
	ErrUnknownTypeRef    = "E101" // property references an undeclared type
	ErrProtectDirection  = "E102" // protected property never sent to the client
	ErrInvalidFieldType  = "E103" // invalid type string
	ErrInvalidProtect    = "E104" // invalid protect mode
	ErrDuplicateName     = "E105" // duplicate type or property
	ErrInvalidDirection  = "E106" // invalid direction
	ErrInvalidExtender   = "E107" // extender without a name
	ErrInvalidTypeID     = "E108" // invalid type id
	ErrMalformedDocument = "E109" // document does not have the expected shape
)

// ValidationError represents a descriptor validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors carries every problem found in one pass.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Validate checks cross-descriptor consistency.
// Returns all errors found (does not fail-fast).
func Validate(r *Registry) []ValidationError {
	var errs []ValidationError
	for _, id := range r.TypeIDs() {
		d := r.types[id]
		for _, p := range d.Properties() {
			field := id + "." + p.Name
			errs = append(errs, validateTypeRef(r, field, p.Type)...)

			// E102: a protected value has to reach the client to come back
			if p.Protect != ir.ProtectNone && !p.Direction.SendsToClient() {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("protect %s requires a direction that sends to the client, got %s", p.Protect, p.Direction),
					Code:    ErrProtectDirection,
				})
			}

			for i, ext := range p.ClientExtenders {
				if strings.TrimSpace(ext.Name) == "" {
					errs = append(errs, ValidationError{
						Field:   fmt.Sprintf("%s.extenders[%d]", field, i),
						Message: "extender name is required",
						Code:    ErrInvalidExtender,
					})
				}
			}
		}
	}
	return errs
}

// validateTypeRef checks that every object type reachable from t is declared.
func validateTypeRef(r *Registry, field string, t ir.TypeRef) []ValidationError {
	switch t.Kind {
	case ir.TypeObject:
		if _, ok := r.types[t.TypeID]; !ok {
			return []ValidationError{{
				Field:   field,
				Message: fmt.Sprintf("unknown type %q", t.TypeID),
				Code:    ErrUnknownTypeRef,
			}}
		}
	case ir.TypeArray:
		return validateTypeRef(r, field, t.ElemType())
	}
	return nil
}
