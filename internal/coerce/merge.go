package coerce

import "github.com/roach88/vmsync/internal/ir"

// Merge applies patch on top of base:
//   - objects merge deeply; the patch's type id wins when set
//   - arrays merge element-wise and take the patch's length
//   - anything else is replaced by the patch
//
// A nil patch returns base. Neither input is modified.
func Merge(base, patch ir.Node) ir.Node {
	switch p := patch.(type) {
	case nil:
		return base
	case *ir.Object:
		b, ok := base.(*ir.Object)
		if !ok {
			return p
		}
		typeID := p.TypeID()
		if typeID == "" {
			typeID = b.TypeID()
		}
		props := b.Props()
		for _, k := range p.Keys() {
			pv, _ := p.Get(k)
			if bv, ok := props[k]; ok {
				props[k] = Merge(bv, pv)
			} else {
				props[k] = pv
			}
		}
		return ir.NewObject(typeID, props)
	case *ir.Array:
		b, ok := base.(*ir.Array)
		if !ok {
			return p
		}
		elems := make([]ir.Node, p.Len())
		for i := range elems {
			if i < b.Len() {
				elems[i] = Merge(b.At(i), p.At(i))
			} else {
				elems[i] = p.At(i)
			}
		}
		return ir.NewArray(elems...)
	default:
		return patch
	}
}
