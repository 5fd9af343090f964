package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vmsync/internal/ir"
)

// propertySpec is the long form of a property in a descriptor document.
// The short form is a bare type string.
type propertySpec struct {
	Type      string         `yaml:"type"`
	Protect   string         `yaml:"protect"`
	Direction string         `yaml:"direction"`
	Extenders []extenderSpec `yaml:"extenders"`
}

type extenderSpec struct {
	Name      string `yaml:"name"`
	Parameter any    `yaml:"parameter"`
}

// LoadYAML parses a descriptor document and returns a published registry.
//
//	types:
//	  DataNode:
//	    Text: string?
//	    SignedData: {type: DataNode, protect: sign}
//
// Every problem in the document is reported, each with its line number,
// as ValidationErrors.
func LoadYAML(data []byte) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ValidationErrors{{Field: "yaml", Message: err.Error(), Code: ErrMalformedDocument}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ValidationErrors{{Field: "yaml", Message: "empty document", Code: ErrMalformedDocument}}
	}

	types := mappingValue(doc.Content[0], "types")
	if types == nil || types.Kind != yaml.MappingNode {
		return nil, ValidationErrors{{
			Field:   "types",
			Message: "top-level 'types' mapping is required",
			Code:    ErrMalformedDocument,
			Line:    doc.Content[0].Line,
		}}
	}

	r := New()
	var errs ValidationErrors
	for i := 0; i+1 < len(types.Content); i += 2 {
		key, body := types.Content[i], types.Content[i+1]
		d, typeErrs := compileYAMLType(key, body)
		errs = append(errs, typeErrs...)
		if d == nil {
			continue
		}
		if err := r.Register(d); err != nil {
			errs = append(errs, asValidationError(err, key.Value, key.Line))
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

func compileYAMLType(key, body *yaml.Node) (*ir.TypeDescriptor, ValidationErrors) {
	id := key.Value
	if !ir.ValidTypeID(id) {
		return nil, ValidationErrors{{Field: id, Message: "invalid type id", Code: ErrInvalidTypeID, Line: key.Line}}
	}
	if body.Kind != yaml.MappingNode {
		return nil, ValidationErrors{{Field: id, Message: "type body must be a mapping", Code: ErrMalformedDocument, Line: body.Line}}
	}

	var (
		props []ir.PropertyDescriptor
		errs  ValidationErrors
		seen  = make(map[string]bool)
	)
	for i := 0; i+1 < len(body.Content); i += 2 {
		nameNode, propNode := body.Content[i], body.Content[i+1]
		field := id + "." + nameNode.Value
		if seen[nameNode.Value] {
			errs = append(errs, ValidationError{Field: field, Message: "property declared more than once", Code: ErrDuplicateName, Line: nameNode.Line})
			continue
		}
		seen[nameNode.Value] = true

		var spec propertySpec
		switch propNode.Kind {
		case yaml.ScalarNode:
			spec.Type = propNode.Value
		case yaml.MappingNode:
			if err := propNode.Decode(&spec); err != nil {
				errs = append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrMalformedDocument, Line: propNode.Line})
				continue
			}
		default:
			errs = append(errs, ValidationError{Field: field, Message: "property must be a type string or a mapping", Code: ErrMalformedDocument, Line: propNode.Line})
			continue
		}

		p, perrs := buildProperty(field, nameNode.Value, spec, propNode.Line)
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
		return nil, ValidationErrors{{Field: id, Message: err.Error(), Code: ErrGeneric, Line: key.Line}}
	}
	return d, nil
}

// buildProperty turns a decoded property spec into a descriptor,
// collecting every field-level problem. Shared by the YAML and CUE loaders.
func buildProperty(field, name string, spec propertySpec, line int) (ir.PropertyDescriptor, ValidationErrors) {
	var errs ValidationErrors
	p := ir.PropertyDescriptor{Name: name}

	if spec.Type == "" {
		spec.Type = "dynamic"
	}
	t, err := ir.ParseTypeRef(spec.Type)
	if err != nil {
		errs = append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrInvalidFieldType, Line: line})
	}
	p.Type = t

	if p.Protect, err = ir.ParseProtectMode(spec.Protect); err != nil {
		errs = append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrInvalidProtect, Line: line})
	}
	if p.Direction, err = ir.ParseDirection(spec.Direction); err != nil {
		errs = append(errs, ValidationError{Field: field, Message: err.Error(), Code: ErrInvalidDirection, Line: line})
	}

	for i, ext := range spec.Extenders {
		param, err := ir.FromGo(ext.Parameter)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s.extenders[%d]", field, i),
				Message: err.Error(),
				Code:    ErrInvalidExtender,
				Line:    line,
			})
			continue
		}
		p.ClientExtenders = append(p.ClientExtenders, ir.ExtenderRef{Name: ext.Name, Parameter: param})
	}
	return p, errs
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func asValidationError(err error, field string, line int) ValidationError {
	if ve, ok := err.(ValidationError); ok {
		if ve.Line == 0 {
			ve.Line = line
		}
		return ve
	}
	return ValidationError{Field: field, Message: err.Error(), Code: ErrGeneric, Line: line}
}
