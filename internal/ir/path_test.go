package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathString(t *testing.T) {
	assert.Equal(t, ".", Path{}.String())
	assert.Equal(t, "a/b/0", Path{}.Prop("a").Prop("b").Index(0).String())
}

func TestPathAppendDoesNotAlias(t *testing.T) {
	base := make(Path, 0, 8).Prop("a")
	x := base.Prop("x")
	y := base.Prop("y")
	assert.Equal(t, "a/x", x.String())
	assert.Equal(t, "a/y", y.String())
}

func TestParsePath(t *testing.T) {
	p, err := ParsePath("Items/2/Name")
	require.NoError(t, err)
	assert.True(t, p.Equal(Path{}.Prop("Items").Index(2).Prop("Name")))

	root, err := ParsePath(".")
	require.NoError(t, err)
	assert.Empty(t, root)

	_, err = ParsePath("a//b")
	assert.Error(t, err)
}

func TestPathParentAndLast(t *testing.T) {
	p := Path{}.Prop("a").Index(3)
	last, ok := p.Last()
	require.True(t, ok)
	assert.Equal(t, Segment{Index: 3, IsIndex: true}, last)
	assert.Equal(t, "a", p.Parent().String())

	_, ok = Path{}.Last()
	assert.False(t, ok)
}

func TestLookup(t *testing.T) {
	root := Obj("R", P("items", NewArray(Obj("I", P("n", Int(5))))))

	v, ok := Lookup(root, Path{}.Prop("items").Index(0).Prop("n"))
	require.True(t, ok)
	assert.Equal(t, Int(5), v)

	_, ok = Lookup(root, Path{}.Prop("items").Index(4))
	assert.False(t, ok)
	_, ok = Lookup(root, Path{}.Prop("items").Index(-1))
	assert.False(t, ok)
	_, ok = Lookup(root, Path{}.Prop("missing"))
	assert.False(t, ok)
}

func TestUpdateAtRebuildsAncestorsOnly(t *testing.T) {
	left := Obj("L", P("v", Int(1)))
	right := Obj("R", P("v", Int(2)))
	root := Obj("Root", P("left", left), P("right", right))

	next, err := UpdateAt(root, Path{}.Prop("left").Prop("v"), func(Node) Node { return Int(10) })
	require.NoError(t, err)

	nextObj := next.(*Object)
	assert.False(t, Same(root, next))
	newRight, _ := nextObj.Get("right")
	assert.True(t, Same(right, newRight), "sibling subtree keeps identity")
	newLeft, _ := nextObj.Get("left")
	assert.False(t, Same(left, newLeft))
	v, _ := newLeft.(*Object).Get("v")
	assert.Equal(t, Int(10), v)
}

func TestUpdateAtNoChangeKeepsRoot(t *testing.T) {
	root := Obj("Root", P("a", NewArray(Int(1), Int(2))))
	next, err := UpdateAt(root, Path{}.Prop("a").Index(1), func(n Node) Node { return n })
	require.NoError(t, err)
	assert.True(t, Same(root, next))
}

func TestUpdateAtErrors(t *testing.T) {
	root := Obj("Root", P("a", NewArray(Int(1))))

	_, err := UpdateAt(root, Path{}.Prop("a").Index(5), func(n Node) Node { return n })
	assert.Error(t, err)
	_, err = UpdateAt(root, Path{}.Prop("a").Prop("x"), func(n Node) Node { return n })
	assert.Error(t, err)
	_, err = UpdateAt(root, Path{}.Prop("a").Index(0).Prop("x"), func(n Node) Node { return n })
	assert.Error(t, err)
}
