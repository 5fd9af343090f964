package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// TypeKey is the reserved object key carrying an object's type id on the wire.
const TypeKey = "$type"

// DecodeJSON parses wire JSON into a state tree.
// Numbers without a fraction or exponent become Int (falling back to Float
// outside the int64 range). A string "$type" member becomes the object's
// type id; all other members, metadata included, are kept.
func DecodeJSON(data []byte) (Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return FromGo(raw)
}

// FromGo converts a decoded Go value (as produced by encoding/json,
// yaml.v3 or cue Value.Decode) into a state tree.
func FromGo(v any) (Node, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Node:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return Float(val), nil
		}
		return Int(val), nil
	case float64:
		return Float(val), nil
	case time.Time:
		return NewDate(val), nil
	case json.Number:
		return numberNode(val)
	case []any:
		elems := make([]Node, len(val))
		for i, elem := range val {
			n, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			elems[i] = n
		}
		return &Array{elems: elems}, nil
	case map[string]any:
		return objectFromGo(val)
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func objectFromGo(val map[string]any) (Node, error) {
	var typeID string
	props := make(map[string]Node, len(val))
	for k, elem := range val {
		if k == TypeKey {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("object[%q]: type id must be a string, got %T", k, elem)
			}
			typeID = s
			continue
		}
		n, err := FromGo(elem)
		if err != nil {
			return nil, fmt.Errorf("object[%q]: %w", k, err)
		}
		props[k] = n
	}
	return NewObject(typeID, props), nil
}

func numberNode(n json.Number) (Node, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %s: %w", s, err)
	}
	return Float(f), nil
}

// EncodeJSON renders a state tree as wire JSON. Object keys are emitted
// with "$type" first and the rest in RFC 8785 order. This is NOT canonical
// JSON: use MarshalCanonical for anything that is signed or hashed.
func EncodeJSON(n Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeJSON(buf *bytes.Buffer, n Node) error {
	switch val := n.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		b, err := json.Marshal(string(val))
		if err != nil {
			return err
		}
		buf.Write(b)
	case Int, Float:
		s, err := formatNumber(val)
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Date:
		b, err := json.Marshal(val.String())
		if err != nil {
			return err
		}
		buf.Write(b)
	case *Array:
		buf.WriteByte('[')
		for i, elem := range val.elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeJSON(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case *Object:
		buf.WriteByte('{')
		first := true
		if val.typeID != "" {
			b, err := json.Marshal(val.typeID)
			if err != nil {
				return err
			}
			buf.WriteString(`"` + TypeKey + `":`)
			buf.Write(b)
			first = false
		}
		for _, k := range val.keys {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			kb, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("marshal key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeJSON(buf, val.props[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown Node type: %T", n)
	}
	return nil
}
