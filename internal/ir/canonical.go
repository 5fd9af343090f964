package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for signing and hashing.
// This is the ONLY serialization that may feed a MAC or a content address.
//
// Differences from EncodeJSON:
//  1. Object keys sorted by UTF-16 code units, "$type" included
//  2. Other keys starting with "$" are metadata and are omitted
//  3. No HTML escaping; U+2028 and U+2029 are emitted literally
//  4. Strings (keys included) are NFC normalized
//  5. Numbers use the ECMAScript shortest round-trip form; NaN and
//     infinities are rejected
func MarshalCanonical(n Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := marshalCanonical(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalCanonical(buf *bytes.Buffer, n Node) error {
	switch val := n.(type) {
	case nil:
		return fmt.Errorf("undefined value in canonical JSON")
	case Null:
		buf.WriteString("null")
	case String:
		return writeCanonicalString(buf, string(val))
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
		return writeCanonicalString(buf, val.String())
	case *Array:
		buf.WriteByte('[')
		for i, elem := range val.elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := marshalCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case *Object:
		return marshalCanonicalObject(buf, val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", n)
	}
	return nil
}

// marshalCanonicalObject marshals an object with RFC 8785 key ordering.
// The type id participates as an ordinary "$type" member.
func marshalCanonicalObject(buf *bytes.Buffer, obj *Object) error {
	keys := make([]string, 0, len(obj.keys)+1)
	if obj.typeID != "" {
		keys = append(keys, TypeKey)
	}
	for _, k := range obj.keys {
		if !strings.HasPrefix(k, "$") {
			keys = append(keys, k)
		}
	}
	// NFC may change relative order, so sort the normalized forms.
	normalized := make(map[string]string, len(keys))
	for i, k := range keys {
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return fmt.Errorf("keys collide after NFC normalization: %q", nk)
		}
		normalized[nk] = k
		keys[i] = nk
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	buf.WriteByte('{')
	for i, nk := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, nk); err != nil {
			return fmt.Errorf("key %q: %w", nk, err)
		}
		buf.WriteByte(':')

		orig := normalized[nk]
		if orig == TypeKey && obj.typeID != "" {
			if err := writeCanonicalString(buf, obj.typeID); err != nil {
				return err
			}
			continue
		}
		if err := marshalCanonical(buf, obj.props[orig]); err != nil {
			return fmt.Errorf("value for key %q: %w", orig, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeCanonicalString writes a canonical JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false) // <, >, & must NOT be escaped
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators converts the \u2028 and \u2029 escapes that
// encoding/json emits back into literal characters, leaving a literal
// backslash followed by "u2028" (encoded as \\u2028) alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c != '\\' {
			out = append(out, c)
			continue
		}
		// Every backslash in encoder output starts an escape sequence.
		if i+5 < len(data) && string(data[i+1:i+5]) == "u202" && (data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		// Copy the escape pair verbatim so an escaped backslash is never rescanned.
		out = append(out, c)
		if i+1 < len(data) {
			out = append(out, data[i+1])
			i++
		}
	}
	return out
}

// FormatNumber renders Int or Float the way RFC 8785 (ECMAScript
// Number.prototype.toString) does. Integral floats render without a fraction.
func FormatNumber(n Node) (string, error) {
	return formatNumber(n)
}

func formatNumber(n Node) (string, error) {
	switch v := n.(type) {
	case Int:
		return strconv.FormatInt(int64(v), 10), nil
	case Float:
		return formatFloat(float64(v))
	default:
		return "", fmt.Errorf("not a number: %s", Kind(n))
	}
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	if f == 0 {
		return "0", nil // covers -0
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		// Go: 1.5e-07, ECMAScript: 1.5e-7
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits, nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
