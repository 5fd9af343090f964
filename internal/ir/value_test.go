package ir

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func posInf() float64 { return math.Inf(1) }

func TestNodeSealed(t *testing.T) {
	// Compile-time check via assignment
	var _ Node = Null{}
	var _ Node = String("test")
	var _ Node = Int(42)
	var _ Node = Float(1.5)
	var _ Node = Bool(true)
	var _ Node = NewDate(time.Now())
	var _ Node = NewArray(String("a"))
	var _ Node = Obj("", P("key", String("value")))
}

func TestSame(t *testing.T) {
	arr := NewArray(Int(1))
	obj := Obj("T", P("a", Int(1)))
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b Node
		want bool
	}{
		{"equal strings", String("x"), String("x"), true},
		{"different strings", String("x"), String("y"), false},
		{"int vs float", Int(1), Float(1), false},
		{"nulls", Null{}, Null{}, true},
		{"same array pointer", arr, arr, true},
		{"equal but distinct arrays", arr, NewArray(Int(1)), false},
		{"same object pointer", obj, obj, true},
		{"equal but distinct objects", obj, Obj("T", P("a", Int(1))), false},
		{"dates same instant in different zones", NewDate(when), NewDate(when.In(time.FixedZone("x", 3600))), true},
		{"nil and nil", nil, nil, true},
		{"nil and null", nil, Null{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Same(tt.a, tt.b))
		})
	}
}

func TestObjectImmutable(t *testing.T) {
	props := map[string]Node{"a": Int(1)}
	obj := NewObject("T", props)
	props["a"] = Int(2)

	v, ok := obj.Get("a")
	require.True(t, ok)
	assert.Equal(t, Int(1), v)

	next := obj.With("a", Int(3))
	v, _ = obj.Get("a")
	assert.Equal(t, Int(1), v)
	v, _ = next.Get("a")
	assert.Equal(t, Int(3), v)
	assert.Equal(t, "T", next.TypeID())
}

func TestObjectNilBecomesNull(t *testing.T) {
	obj := NewObject("", map[string]Node{"a": nil})
	v, ok := obj.Get("a")
	require.True(t, ok)
	assert.Equal(t, Null{}, v)
}

func TestObjectKeysRFC8785Order(t *testing.T) {
	obj := Obj("", P("b", Int(1)), P("A", Int(2)), P("a", Int(3)), P("aa", Int(4)))
	assert.Equal(t, []string{"A", "a", "aa", "b"}, obj.Keys())
}

func TestArrayWithSharesUntouched(t *testing.T) {
	child := Obj("T", P("x", Int(1)))
	arr := NewArray(child, Int(2))
	next := arr.With(1, Int(3))

	assert.True(t, Same(child, next.At(0)))
	assert.Equal(t, Int(2), arr.At(1))
	assert.Equal(t, Int(3), next.At(1))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "null", Kind(Null{}))
	assert.Equal(t, "date", Kind(NewDate(time.Now())))
	assert.Equal(t, "object", Kind(Obj("")))
	assert.Equal(t, "undefined", Kind(nil))
}
