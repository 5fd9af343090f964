package coerce

import (
	"errors"
	"fmt"

	"github.com/roach88/vmsync/internal/ir"
)

// CoercionError reports a value that does not fit its declared type.
// Path is the structural position of the offending value.
type CoercionError struct {
	Path     ir.Path
	Expected string
	Actual   string
	Reason   string // optional detail
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("coerce %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsCoercionError returns true if err is or wraps a CoercionError.
func IsCoercionError(err error) bool {
	var ce *CoercionError
	return errors.As(err, &ce)
}

// describe renders a node for error messages without dumping whole subtrees.
func describe(n ir.Node) string {
	switch v := n.(type) {
	case ir.String:
		s := string(v)
		if r := []rune(s); len(r) > 32 {
			s = string(r[:32]) + "..."
		}
		return fmt.Sprintf("string %q", s)
	case ir.Int, ir.Float:
		s, _ := ir.FormatNumber(v)
		return ir.Kind(n) + " " + s
	case ir.Bool:
		return fmt.Sprintf("bool %t", bool(v))
	case *ir.Array:
		return fmt.Sprintf("array of %d", v.Len())
	case *ir.Object:
		if v.TypeID() != "" {
			return "object " + v.TypeID()
		}
		return "object"
	default:
		return ir.Kind(n)
	}
}
