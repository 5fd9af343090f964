package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/vmsync/internal/ir"
)

// CompileError is a CUE-level problem with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileCUE compiles descriptor source. The document declares types under
// a top-level "type" struct:
//
//	type: DataNode: {
//		Text: "string?"
//		SignedData: {type: "DataNode", protect: "sign"}
//	}
func CompileCUE(src []byte, filename string) (*Registry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileValue(v)
}

// LoadCUEDir loads every CUE file of the package in dir.
func LoadCUEDir(dir string) (*Registry, error) {
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileValue(v)
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func compileValue(v cue.Value) (*Registry, error) {
	typesVal := v.LookupPath(cue.ParsePath("type"))
	if !typesVal.Exists() {
		return nil, &CompileError{Field: "type", Message: "top-level 'type' struct is required", Pos: v.Pos()}
	}
	iter, err := typesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	r := New()
	var errs ValidationErrors
	for iter.Next() {
		d, typeErrs := CompileType(iter.Value())
		errs = append(errs, typeErrs...)
		if d == nil {
			continue
		}
		if err := r.Register(d); err != nil {
			errs = append(errs, asValidationError(err, d.ID, iter.Value().Pos().Line()))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	if err := r.Publish(); err != nil {
		return nil, err
	}
	return r, nil
}

// CompileType parses one CUE type struct into a descriptor. The type id is
// the struct's label. Uses the CUE Go API directly.
func CompileType(v cue.Value) (*ir.TypeDescriptor, ValidationErrors) {
	var id string
	if labels := v.Path().Selectors(); len(labels) > 0 {
		id = labels[len(labels)-1].String()
	}
	line := v.Pos().Line()
	if !ir.ValidTypeID(id) {
		return nil, ValidationErrors{{Field: id, Message: "invalid type id", Code: ErrInvalidTypeID, Line: line}}
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, ValidationErrors{compileErrorToValidation(formatCUEError(err), id, line)}
	}

	var (
		props []ir.PropertyDescriptor
		errs  ValidationErrors
	)
	for iter.Next() {
		name := iter.Label()
		pv := iter.Value()
		field := id + "." + name

		spec, err := decodeCUEProperty(pv)
		if err != nil {
			errs = append(errs, compileErrorToValidation(err, field, pv.Pos().Line()))
			continue
		}
		p, perrs := buildProperty(field, name, spec, pv.Pos().Line())
		errs = append(errs, perrs...)
		if len(perrs) == 0 {
			props = append(props, p)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	d, err := ir.NewTypeDescriptor(id, props...)
	if err != nil {
		return nil, ValidationErrors{{Field: id, Message: err.Error(), Code: ErrGeneric, Line: line}}
	}
	return d, nil
}

// decodeCUEProperty accepts a bare type string or a struct with
// type/protect/direction/extenders.
func decodeCUEProperty(v cue.Value) (propertySpec, error) {
	var spec propertySpec
	if s, err := v.String(); err == nil {
		spec.Type = s
		return spec, nil
	}
	if v.IncompleteKind() != cue.StructKind {
		return spec, &CompileError{Field: "type", Message: "property must be a type string or a struct", Pos: v.Pos()}
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"type", &spec.Type},
		{"protect", &spec.Protect},
		{"direction", &spec.Direction},
	} {
		fv := v.LookupPath(cue.ParsePath(f.name))
		if !fv.Exists() {
			continue
		}
		s, err := fv.String()
		if err != nil {
			return spec, formatCUEError(err)
		}
		*f.dst = s
	}

	extVal := v.LookupPath(cue.ParsePath("extenders"))
	if extVal.Exists() {
		list, err := extVal.List()
		if err != nil {
			return spec, formatCUEError(err)
		}
		for list.Next() {
			ev := list.Value()
			name, err := ev.LookupPath(cue.ParsePath("name")).String()
			if err != nil {
				return spec, formatCUEError(err)
			}
			ext := extenderSpec{Name: name}
			if pv := ev.LookupPath(cue.ParsePath("parameter")); pv.Exists() {
				param, err := cueToNode(pv)
				if err != nil {
					return spec, err
				}
				ext.Parameter = param
			}
			spec.Extenders = append(spec.Extenders, ext)
		}
	}
	return spec, nil
}

// cueToNode converts a concrete CUE value into a state node.
func cueToNode(v cue.Value) (ir.Node, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(i), nil
	case cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Float(f), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		var elems []ir.Node
		for iter.Next() {
			n, err := cueToNode(iter.Value())
			if err != nil {
				return nil, err
			}
			elems = append(elems, n)
		}
		return ir.NewArray(elems...), nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		props := make(map[string]ir.Node)
		for iter.Next() {
			n, err := cueToNode(iter.Value())
			if err != nil {
				return nil, err
			}
			props[iter.Label()] = n
		}
		return ir.NewObject("", props), nil
	default:
		return nil, &CompileError{Field: "parameter", Message: "extender parameter must be concrete", Pos: v.Pos()}
	}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}

func compileErrorToValidation(err error, field string, line int) ValidationError {
	if ce, ok := err.(*CompileError); ok {
		if ce.Pos.IsValid() {
			line = ce.Pos.Line()
		}
		return ValidationError{Field: field, Message: ce.Message, Code: ErrMalformedDocument, Line: line}
	}
	return ValidationError{Field: field, Message: err.Error(), Code: ErrMalformedDocument, Line: line}
}
