package testutil

import (
	"github.com/roach88/vmsync/internal/ir"
	"github.com/roach88/vmsync/internal/registry"
)

// DataNodeType is the recursive fixture type used across package tests.
const DataNodeType = "DataNode"

// ItemType is a flat fixture type used for collections.
const ItemType = "Item"

// RootType is the fixture root holding scalars, a collection and nested nodes.
const RootType = "Root"

// Types returns a published registry with the fixture types:
//
//	DataNode: Text string, SignedData DataNode (sign), EncryptedData DataNode (encrypt),
//	          Collection []DataNode, Hidden string (client-to-server)
//	Item:     Name string, Qty int, Price float?, Due date?
//	Root:     Title string, Count int, Items []Item, Fixed [2]int, Node DataNode,
//	          Meta dynamic, Secret string (sign, server-to-client)
func Types() *registry.Registry {
	str := ir.PrimitiveOf(ir.PrimitiveString)
	r := registry.New().MustRegister(
		ir.MustTypeDescriptor(DataNodeType,
			ir.PropertyDescriptor{Name: "Text", Type: str},
			ir.PropertyDescriptor{Name: "SignedData", Type: ir.ObjectOf(DataNodeType), Protect: ir.ProtectSign},
			ir.PropertyDescriptor{Name: "EncryptedData", Type: ir.ObjectOf(DataNodeType), Protect: ir.ProtectEncrypt},
			ir.PropertyDescriptor{Name: "Collection", Type: ir.ListOf(ir.ObjectOf(DataNodeType))},
			ir.PropertyDescriptor{Name: "Hidden", Type: str, Direction: ir.DirectionClientToServer},
		),
		ir.MustTypeDescriptor(ItemType,
			ir.PropertyDescriptor{Name: "Name", Type: str,
				ClientExtenders: []ir.ExtenderRef{{Name: "required", Parameter: ir.Null{}}}},
			ir.PropertyDescriptor{Name: "Qty", Type: ir.PrimitiveOf(ir.PrimitiveInt)},
			ir.PropertyDescriptor{Name: "Price", Type: ir.PrimitiveOf(ir.PrimitiveFloat).OrNull()},
			ir.PropertyDescriptor{Name: "Due", Type: ir.PrimitiveOf(ir.PrimitiveDate).OrNull()},
		),
		ir.MustTypeDescriptor(RootType,
			ir.PropertyDescriptor{Name: "Title", Type: str},
			ir.PropertyDescriptor{Name: "Count", Type: ir.PrimitiveOf(ir.PrimitiveInt)},
			ir.PropertyDescriptor{Name: "Items", Type: ir.ListOf(ir.ObjectOf(ItemType))},
			ir.PropertyDescriptor{Name: "Fixed", Type: ir.FixedOf(2, ir.PrimitiveOf(ir.PrimitiveInt))},
			ir.PropertyDescriptor{Name: "Node", Type: ir.ObjectOf(DataNodeType)},
			ir.PropertyDescriptor{Name: "Meta", Type: ir.Dynamic()},
			ir.PropertyDescriptor{Name: "Secret", Type: str, Protect: ir.ProtectSign, Direction: ir.DirectionServerToClient},
		),
	)
	if err := r.Publish(); err != nil {
		panic(err)
	}
	return r
}

// Item builds a fixture Item.
func Item(name string, qty int64) *ir.Object {
	return ir.Obj(ItemType, ir.P("Name", ir.String(name)), ir.P("Qty", ir.Int(qty)), ir.P("Price", ir.Null{}), ir.P("Due", ir.Null{}))
}

// Root builds a fully populated fixture Root.
func Root(title string, items ...*ir.Object) *ir.Object {
	elems := make([]ir.Node, len(items))
	for i, it := range items {
		elems[i] = it
	}
	return ir.Obj(RootType,
		ir.P("Title", ir.String(title)),
		ir.P("Count", ir.Int(int64(len(items)))),
		ir.P("Items", ir.NewArray(elems...)),
		ir.P("Fixed", ir.NewArray(ir.Int(0), ir.Int(0))),
		ir.P("Node", ir.Null{}),
		ir.P("Meta", ir.Null{}),
		ir.P("Secret", ir.String("s3cr3t")),
	)
}

// DataNode builds a leaf DataNode with the given text and no children.
func DataNode(text string) *ir.Object {
	return ir.Obj(DataNodeType,
		ir.P("Text", ir.String(text)),
		ir.P("SignedData", ir.Null{}),
		ir.P("EncryptedData", ir.Null{}),
		ir.P("Collection", ir.NewArray()),
		ir.P("Hidden", ir.Null{}),
	)
}
