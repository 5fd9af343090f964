package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vmsync/internal/coerce"
	"github.com/roach88/vmsync/internal/ir"
	"github.com/roach88/vmsync/internal/state"
	"github.com/roach88/vmsync/internal/testutil"
)

func setup(t *testing.T, initial ir.Node, opts ...Option) (*Mirror, *state.Container, *state.ManualScheduler) {
	t.Helper()
	sched := state.NewManualScheduler()
	c, err := state.New(coerce.New(testutil.Types()), ir.ObjectOf(testutil.RootType), initial, sched)
	require.NoError(t, err)
	return New(c, opts...), c, sched
}

func items(names ...string) []*ir.Object {
	out := make([]*ir.Object, len(names))
	for i, n := range names {
		out[i] = testutil.Item(n, int64(i))
	}
	return out
}

// counter counts notifications per subscribed observable.
type counter map[*Observable]int

func (c counter) watch(o *Observable) {
	o.Subscribe(func(ir.Node) { c[o]++ })
}

func TestMirror_InitialTree(t *testing.T) {
	m, _, _ := setup(t, testutil.Root("title", items("a", "b")...))

	root := m.Root()
	require.NotNil(t, root.Object())
	assert.Equal(t, testutil.RootType, root.Object().TypeID())
	assert.Equal(t, ir.String("title"), root.Prop("Title").Value())
	assert.Equal(t, 2, root.Prop("Items").Len())
	assert.Equal(t, ir.String("b"), root.Prop("Items").Element(1).Prop("Name").Value())
	assert.Nil(t, root.Prop("Node").Object(), "null object has no mirror")
	assert.Equal(t, "Items/1/Name", m.Lookup(ir.Path{}.Prop("Items").Index(1).Prop("Name")).Path().String())
}

func TestMirror_ArrayShrinkKeepsPrefix(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t", items("a", "b", "c", "d", "e")...))
	arr := m.Root().Prop("Items")
	before := arr.Elements()
	require.Len(t, before, 5)

	n := counter{}
	n.watch(arr)
	for _, e := range before {
		n.watch(e)
		n.watch(e.Prop("Name"))
	}

	require.NoError(t, c.SetState(testutil.Root("t", items("a", "b", "c")...)))
	c.DoUpdateNow()

	after := arr.Elements()
	require.Len(t, after, 3)
	for i := 0; i < 3; i++ {
		assert.Same(t, before[i], after[i], "element %d keeps identity", i)
		assert.False(t, before[i].Detached())
		assert.Equal(t, 0, n[before[i]], "unchanged element %d is not notified", i)
	}
	for i := 3; i < 5; i++ {
		assert.True(t, before[i].Detached())
		assert.Equal(t, 0, n[before[i]], "discarded element %d is not notified", i)
	}
	assert.Equal(t, 1, n[arr])

	assert.ErrorIs(t, before[4].Set(testutil.Item("z", 1)), ErrDetached)
	assert.Nil(t, before[4].Prop("Name"))
}

func TestMirror_ArrayGrowCreatesElements(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t", items("a")...))
	arr := m.Root().Prop("Items")
	first := arr.Element(0)

	require.NoError(t, c.SetState(testutil.Root("t", items("a", "b", "c")...)))
	c.DoUpdateNow()

	require.Equal(t, 3, arr.Len())
	assert.Same(t, first, arr.Element(0))
	assert.Equal(t, ir.String("c"), arr.Element(2).Prop("Name").Value())
	assert.Equal(t, "Items/2", arr.Element(2).Path().String())
}

func TestMirror_ArraySameLengthTakesCheapPath(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t", items("a", "b")...))
	arr := m.Root().Prop("Items")
	second := arr.Element(1)
	name := second.Prop("Name")

	n := counter{}
	n.watch(arr)
	n.watch(name)

	require.NoError(t, c.SetState(testutil.Root("t", testutil.Item("a", 0), testutil.Item("B", 1))))
	c.DoUpdateNow()

	assert.Equal(t, 0, n[arr], "array observable is reused silently")
	assert.Equal(t, 1, n[name])
	assert.Same(t, second, arr.Element(1))
	assert.Same(t, name, second.Prop("Name"))
	assert.Equal(t, ir.String("B"), name.Value())
}

func TestMirror_ObjectReuseForwardsToCachedProps(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t").With("Node", testutil.DataNode("x")))
	node := m.Root().Prop("Node")
	om := node.Object()
	require.NotNil(t, om)
	text := node.Prop("Text")
	assert.Len(t, om.props, 1, "only read properties are materialized")

	n := counter{}
	n.watch(node)
	n.watch(text)

	require.NoError(t, c.PatchState(ir.Obj("", ir.P("Node", ir.Obj("", ir.P("Text", ir.String("y")))))))
	c.DoUpdateNow()

	assert.Same(t, om, node.Object())
	assert.Same(t, text, node.Prop("Text"))
	assert.Equal(t, ir.String("y"), text.Value())
	assert.Equal(t, 1, n[text])
	assert.Equal(t, 0, n[node])
	assert.Len(t, om.props, 1)
}

func TestMirror_TypeChangeRebuildsObject(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t").With("Node", testutil.DataNode("x")))
	node := m.Root().Prop("Node")
	om := node.Object()
	text := node.Prop("Text")

	n := counter{}
	n.watch(node)
	n.watch(text)

	require.NoError(t, c.SetState(testutil.Root("t").With("Node", testutil.Item("i", 1))))
	c.DoUpdateNow()

	assert.NotSame(t, om, node.Object())
	assert.Equal(t, testutil.ItemType, node.Object().TypeID())
	assert.True(t, text.Detached())
	assert.Equal(t, 0, n[text])
	assert.Equal(t, 1, n[node])
}

func TestMirror_NullToObjectAndBack(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t"))
	node := m.Root().Prop("Node")
	require.Nil(t, node.Object())

	require.NoError(t, c.PatchState(ir.Obj("", ir.P("Node", testutil.DataNode("x")))))
	c.DoUpdateNow()
	require.NotNil(t, node.Object())
	text := node.Prop("Text")
	assert.Equal(t, ir.String("x"), text.Value())

	require.NoError(t, c.SetState(testutil.Root("t")))
	c.DoUpdateNow()
	assert.Nil(t, node.Object())
	assert.True(t, text.Detached())
	assert.Equal(t, ir.Null{}, node.Value())
}

func TestMirror_UnknownAndMetadataProps(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t"))
	root := m.Root()
	assert.Nil(t, root.Prop("Nope"))
	assert.Nil(t, root.Prop("$type"))

	require.NoError(t, c.SetState(testutil.Root("t").With("Extra", ir.Int(1))))
	c.DoUpdateNow()
	extra := root.Prop("Extra")
	require.NotNil(t, extra)
	assert.Equal(t, ir.Int(1), extra.Value())
	assert.Equal(t, ir.Dynamic(), extra.Type())
	assert.Contains(t, root.Object().Names(), "Extra")
}

func TestMirror_UnregisteredTypeUnderDynamicIsUntyped(t *testing.T) {
	foreign, err := ir.DecodeJSON([]byte(`{"$type":"Foreign","x":1,"inner":{"$type":"Other","y":"z"}}`))
	require.NoError(t, err)
	m, c, _ := setup(t, testutil.Root("t").With("Meta", foreign))

	meta := m.Root().Prop("Meta")
	require.NotNil(t, meta)
	require.NotNil(t, meta.Object())
	assert.Equal(t, "Foreign", meta.Object().TypeID())
	assert.ElementsMatch(t, []string{"inner", "x"}, meta.Object().Names())
	assert.Equal(t, ir.Int(1), meta.Prop("x").Value())
	assert.Equal(t, ir.TypeDynamic, meta.Prop("x").Type().Kind)
	assert.Equal(t, ir.String("z"), meta.Prop("inner").Prop("y").Value())
	assert.Nil(t, meta.Prop("missing"))

	// Undeclared pass-through properties take the same path.
	require.NoError(t, c.SetState(c.State().(*ir.Object).With("Extra", foreign)))
	c.DoUpdateNow()
	extra := m.Root().Prop("Extra")
	require.NotNil(t, extra)
	assert.Equal(t, ir.Int(1), extra.Prop("x").Value())

	require.NoError(t, meta.Prop("x").Set(ir.Int(2)))
	v, ok := ir.Lookup(c.State(), ir.Path{}.Prop("Meta").Prop("x"))
	require.True(t, ok)
	assert.Equal(t, ir.Int(2), v)
}

func TestMirror_UnregisteredTypeUnderDeclaredObjectPanics(t *testing.T) {
	m, _, _ := setup(t, testutil.Root("t"))
	o := m.newObservable(ir.Path{}.Prop("Node"), ir.ObjectOf(testutil.DataNodeType))
	assert.Panics(t, func() {
		o.notify(ir.Obj("Foreign", ir.P("x", ir.Int(1))))
	})
}

func TestMirror_ExtendersRunOnceOnCreation(t *testing.T) {
	var calls []string
	required := func(o *Observable, param ir.Node) {
		calls = append(calls, o.Path().String())
		assert.Equal(t, ir.Null{}, param)
	}
	m, _, _ := setup(t, testutil.Root("t", items("a", "b")...), WithExtender("required", required))

	arr := m.Root().Prop("Items")
	arr.Element(0).Prop("Name")
	arr.Element(0).Prop("Name")
	arr.Element(1).Prop("Qty")
	assert.Equal(t, []string{"Items/0/Name"}, calls)
}

func TestMirror_UnknownExtenderIsSkipped(t *testing.T) {
	m, _, _ := setup(t, testutil.Root("t", items("a")...))
	name := m.Root().Prop("Items").Element(0).Prop("Name")
	require.NotNil(t, name)
	assert.Equal(t, ir.String("a"), name.Value())
}

func TestObservable_SetOutsidePass(t *testing.T) {
	m, c, sched := setup(t, testutil.Root("t", items("a", "b")...))
	arr := m.Root().Prop("Items")
	name := arr.Element(0).Prop("Name")

	n := counter{}
	n.watch(name)
	n.watch(arr)

	require.NoError(t, name.Set(ir.String("z")))
	assert.Equal(t, ir.String("z"), name.Value(), "reconciled immediately")
	assert.Equal(t, 1, n[name])

	got, ok := ir.Lookup(c.State(), name.Path())
	require.True(t, ok)
	assert.Equal(t, ir.String("z"), got)
	assert.True(t, c.IsDirty())

	sched.Tick()
	assert.Equal(t, 1, n[name], "the flush does not notify again")
	assert.Equal(t, 0, n[arr])
	assert.Same(t, name, arr.Element(0).Prop("Name"))
}

func TestObservable_SetCoercesAndRecordsErrors(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t", items("a")...))
	qty := m.Root().Prop("Items").Element(0).Prop("Qty")
	before := c.State()

	require.NoError(t, qty.Set(ir.String("12")))
	assert.Equal(t, ir.Int(12), qty.Value())
	assert.NoError(t, qty.LastSetError())

	err := qty.Set(ir.String("many"))
	require.Error(t, err)
	assert.True(t, coerce.IsCoercionError(err))
	assert.Equal(t, err, qty.LastSetError())
	assert.Equal(t, ir.Int(12), qty.Value())
	assert.False(t, ir.Same(before, c.State()))

	current := c.State()
	require.NoError(t, qty.Set(ir.Int(12)))
	assert.True(t, ir.Same(current, c.State()), "setting the current value is a no-op")
	assert.NoError(t, qty.LastSetError())
}

func TestObservable_SetInsidePassIsDeferred(t *testing.T) {
	m, c, sched := setup(t, testutil.Root("t"))
	root := m.Root()
	title := root.Prop("Title")
	count := root.Prop("Count")

	n := counter{}
	n.watch(count)
	title.Subscribe(func(v ir.Node) {
		if v == ir.Node(ir.String("go")) {
			require.NoError(t, count.Set(ir.Int(7)))
		}
	})

	passes := 0
	c.OnStateUpdate(func(ir.Node) { passes++ })

	require.NoError(t, c.PatchState(ir.Obj("", ir.P("Title", ir.String("go")))))
	c.DoUpdateNow()

	assert.Equal(t, 1, passes)
	got, _ := ir.Lookup(c.State(), count.Path())
	assert.Equal(t, ir.Int(7), got, "state is updated immediately")
	assert.Equal(t, ir.Int(0), count.Value(), "mirror waits for the next flush")
	assert.Equal(t, 0, n[count])
	assert.Equal(t, 1, sched.Pending())

	sched.Tick()
	assert.Equal(t, 2, passes)
	assert.Equal(t, ir.Int(7), count.Value())
	assert.Equal(t, 1, n[count])
}

func TestObservable_AssignedArrayRebuildsWithSameLength(t *testing.T) {
	m, _, _ := setup(t, testutil.Root("t", items("a", "b")...))
	arr := m.Root().Prop("Items")
	first := arr.Element(0)

	n := counter{}
	n.watch(arr)

	require.NoError(t, arr.Set(ir.NewArray(testutil.Item("x", 1), testutil.Item("y", 2))))
	assert.Equal(t, 1, n[arr], "an assignment notifies the array")
	assert.Same(t, first, arr.Element(0), "mirror-aware elements are kept")
	assert.Equal(t, ir.String("x"), first.Prop("Name").Value())
}

func TestObservable_UpdateAndPatch(t *testing.T) {
	m, c, _ := setup(t, testutil.Root("t").With("Node", testutil.DataNode("x")))
	node := m.Root().Prop("Node")
	om := node.Object()

	require.NoError(t, node.Patch(ir.Obj("", ir.P("Text", ir.String("patched")))))
	require.NoError(t, m.Root().Prop("Count").Update(func(ir.Node) ir.Node { return ir.Int(3) }))
	c.DoUpdateNow()

	assert.Same(t, om, node.Object())
	assert.Equal(t, ir.String("patched"), node.Prop("Text").Value())
	assert.Equal(t, ir.Int(3), m.Root().Prop("Count").Value())
}

func TestObservable_Unsubscribe(t *testing.T) {
	m, _, _ := setup(t, testutil.Root("t"))
	title := m.Root().Prop("Title")
	calls := 0
	stop := title.Subscribe(func(ir.Node) { calls++ })

	require.NoError(t, title.Set(ir.String("a")))
	stop()
	require.NoError(t, title.Set(ir.String("b")))
	assert.Equal(t, 1, calls)
}
