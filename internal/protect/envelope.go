package protect

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/roach88/vmsync/internal/ir"
)

// EnvelopePrefix marks the sibling key that carries a property's envelope:
// the envelope of "Name" travels under "$env:Name".
const EnvelopePrefix = "$env:"

// EnvelopeKey returns the sibling key for property name.
func EnvelopeKey(name string) string {
	return EnvelopePrefix + name
}

// Envelope is the wire form of protected data.
type Envelope struct {
	Mode ir.ProtectMode
	Blob []byte
	Path ir.Path
}

// Node renders the envelope as {protected, mode, blob, path}.
func (e Envelope) Node() *ir.Object {
	return ir.Obj("",
		ir.P("protected", ir.Bool(true)),
		ir.P("mode", ir.String(e.Mode.String())),
		ir.P("blob", ir.String(base64.RawURLEncoding.EncodeToString(e.Blob))),
		ir.P("path", ir.String(e.Path.String())),
	)
}

// ParseEnvelope reads an envelope node.
func ParseEnvelope(n ir.Node) (Envelope, error) {
	obj, ok := n.(*ir.Object)
	if !ok {
		return Envelope{}, fmt.Errorf("envelope must be an object, got %s", ir.Kind(n))
	}
	if v, _ := obj.Get("protected"); v != ir.Node(ir.Bool(true)) {
		return Envelope{}, fmt.Errorf("envelope is not marked protected")
	}

	modeStr, err := stringField(obj, "mode")
	if err != nil {
		return Envelope{}, err
	}
	mode, err := ir.ParseProtectMode(modeStr)
	if err != nil || mode == ir.ProtectNone {
		return Envelope{}, fmt.Errorf("invalid envelope mode %q", modeStr)
	}

	blobStr, err := stringField(obj, "blob")
	if err != nil {
		return Envelope{}, err
	}
	blob, err := base64.RawURLEncoding.DecodeString(blobStr)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope blob: %w", err)
	}

	pathStr, err := stringField(obj, "path")
	if err != nil {
		return Envelope{}, err
	}
	path, err := ir.ParsePath(pathStr)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope path: %w", err)
	}
	return Envelope{Mode: mode, Blob: blob, Path: path}, nil
}

func stringField(obj *ir.Object, name string) (string, error) {
	v, ok := obj.Get(name)
	if !ok {
		return "", fmt.Errorf("envelope field %q missing", name)
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", fmt.Errorf("envelope field %q must be a string", name)
	}
	return string(s), nil
}

// EnvelopeSet holds envelopes keyed by the path of the value they protect.
// Clients keep the set from the last server payload and reattach it when
// posting state back, because coercion drops "$"-prefixed members.
type EnvelopeSet map[string]Envelope

// ExtractEnvelopes collects every envelope visible in a wire tree.
// Envelopes nested inside encrypted blobs are not visible and stay sealed.
func ExtractEnvelopes(wire ir.Node) (EnvelopeSet, error) {
	set := make(EnvelopeSet)
	if err := collectEnvelopes(ir.Path{}, wire, set); err != nil {
		return nil, err
	}
	return set, nil
}

func collectEnvelopes(path ir.Path, n ir.Node, set EnvelopeSet) error {
	switch v := n.(type) {
	case *ir.Array:
		for i := 0; i < v.Len(); i++ {
			if err := collectEnvelopes(path.Index(i), v.At(i), set); err != nil {
				return err
			}
		}
	case *ir.Object:
		for _, k := range v.Keys() {
			child, _ := v.Get(k)
			if name, ok := strings.CutPrefix(k, EnvelopePrefix); ok {
				env, err := ParseEnvelope(child)
				if err != nil {
					return fmt.Errorf("%s: %w", path.Prop(name), err)
				}
				set[path.Prop(name).String()] = env
				continue
			}
			if err := collectEnvelopes(path.Prop(k), child, set); err != nil {
				return err
			}
		}
	}
	return nil
}

// Attach returns state with every envelope of the set placed next to the
// value it protects. Envelopes whose parent object no longer exists in
// state are skipped; the server then rejects the payload as tampered.
func (s EnvelopeSet) Attach(state ir.Node) ir.Node {
	byParent := make(map[string][]Envelope)
	for _, env := range s {
		parent := env.Path.Parent().String()
		byParent[parent] = append(byParent[parent], env)
	}
	return attach(ir.Path{}, state, byParent)
}

func attach(path ir.Path, n ir.Node, byParent map[string][]Envelope) ir.Node {
	switch v := n.(type) {
	case *ir.Array:
		elems := v.Elements()
		changed := false
		for i, e := range elems {
			ne := attach(path.Index(i), e, byParent)
			if !ir.Same(ne, e) {
				elems[i] = ne
				changed = true
			}
		}
		if !changed {
			return v
		}
		return ir.NewArray(elems...)
	case *ir.Object:
		props := v.Props()
		changed := false
		for k, child := range props {
			nc := attach(path.Prop(k), child, byParent)
			if !ir.Same(nc, child) {
				props[k] = nc
				changed = true
			}
		}
		for _, env := range byParent[path.String()] {
			last, ok := env.Path.Last()
			if !ok || last.IsIndex {
				continue
			}
			props[EnvelopeKey(last.Name)] = env.Node()
			changed = true
		}
		if !changed {
			return v
		}
		return ir.NewObject(v.TypeID(), props)
	default:
		return n
	}
}
