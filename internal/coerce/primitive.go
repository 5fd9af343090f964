package coerce

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/vmsync/internal/ir"
)

// dateLayouts are tried in order when a string is coerced to a date.
// Zone-less layouts are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// convertPrimitive applies the safe parses allowed for p.
// Returns ok=false when raw cannot represent a value of p.
func convertPrimitive(raw ir.Node, p ir.Primitive) (ir.Node, bool) {
	switch p {
	case ir.PrimitiveString:
		return toString(raw)
	case ir.PrimitiveInt:
		return toInt(raw)
	case ir.PrimitiveFloat:
		return toFloat(raw)
	case ir.PrimitiveBool:
		return toBool(raw)
	case ir.PrimitiveDate:
		return toDate(raw)
	}
	return nil, false
}

func toString(raw ir.Node) (ir.Node, bool) {
	switch v := raw.(type) {
	case ir.String:
		return v, true
	case ir.Int, ir.Float:
		s, err := ir.FormatNumber(v)
		if err != nil {
			return nil, false
		}
		return ir.String(s), true
	case ir.Bool:
		return ir.String(strconv.FormatBool(bool(v))), true
	}
	return nil, false
}

func toInt(raw ir.Node) (ir.Node, bool) {
	switch v := raw.(type) {
	case ir.Int:
		return v, true
	case ir.Float:
		return integralFloat(float64(v))
	case ir.String:
		s := strings.TrimSpace(string(v))
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return ir.Int(i), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return integralFloat(f)
		}
	}
	return nil, false
}

func integralFloat(f float64) (ir.Node, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, false
	}
	return ir.Int(int64(f)), true
}

func toFloat(raw ir.Node) (ir.Node, bool) {
	switch v := raw.(type) {
	case ir.Float:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, false
		}
		return v, true
	case ir.Int:
		return ir.Float(v), true
	case ir.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return ir.Float(f), true
	}
	return nil, false
}

func toBool(raw ir.Node) (ir.Node, bool) {
	switch v := raw.(type) {
	case ir.Bool:
		return v, true
	case ir.String:
		switch string(v) {
		case "true":
			return ir.Bool(true), true
		case "false":
			return ir.Bool(false), true
		}
	}
	return nil, false
}

func toDate(raw ir.Node) (ir.Node, bool) {
	switch v := raw.(type) {
	case ir.Date:
		return v, true
	case ir.String:
		s := strings.TrimSpace(string(v))
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return ir.NewDate(t), true
			}
		}
	}
	return nil, false
}
