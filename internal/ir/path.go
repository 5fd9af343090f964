package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a Path: a property name or an array index.
type Segment struct {
	Name    string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Name
}

// Path addresses a node from the root of a state tree.
// The zero value is the root.
type Path []Segment

// Prop returns p extended by a property step. p itself is never modified.
func (p Path) Prop(name string) Path {
	return append(p[:len(p):len(p)], Segment{Name: name})
}

// Index returns p extended by an element step.
func (p Path) Index(i int) Path {
	return append(p[:len(p):len(p)], Segment{Index: i, IsIndex: true})
}

// Parent returns p without its last step. The root is its own parent.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[: len(p)-1 : len(p)-1]
}

// Last returns the final step, or false for the root.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// String renders the path as slash-separated steps, "." for the root.
func (p Path) String() string {
	if len(p) == 0 {
		return "."
	}
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// Equal reports whether two paths address the same node.
func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// ParsePath is the inverse of Path.String. All-digit steps are indices.
func ParsePath(s string) (Path, error) {
	if s == "." || s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, "/")
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty step in path %q", s)
		}
		if i, err := strconv.Atoi(part); err == nil && i >= 0 && isDigits(part) {
			p = append(p, Segment{Index: i, IsIndex: true})
			continue
		}
		p = append(p, Segment{Name: part})
	}
	return p, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Lookup returns the node at path, or false when a step does not resolve.
func Lookup(root Node, path Path) (Node, bool) {
	cur := root
	for _, seg := range path {
		switch n := cur.(type) {
		case *Array:
			if !seg.IsIndex || seg.Index < 0 || seg.Index >= n.Len() {
				return nil, false
			}
			cur = n.At(seg.Index)
		case *Object:
			if seg.IsIndex {
				return nil, false
			}
			v, ok := n.Get(seg.Name)
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}

// UpdateAt returns a copy of root in which the node at path is replaced by
// fn(current). Only the ancestors of path are rebuilt; every other subtree
// keeps its identity. When fn returns the same node, root itself is returned.
// A missing property is passed to fn as Null and created.
func UpdateAt(root Node, path Path, fn func(Node) Node) (Node, error) {
	if len(path) == 0 {
		return orNull(fn(root)), nil
	}
	seg, rest := path[0], path[1:]
	switch n := root.(type) {
	case *Array:
		if !seg.IsIndex {
			return nil, fmt.Errorf("path step %q: array needs an index", seg.Name)
		}
		if seg.Index < 0 || seg.Index >= n.Len() {
			return nil, fmt.Errorf("path step %d: index out of range [0,%d)", seg.Index, n.Len())
		}
		old := n.At(seg.Index)
		child, err := UpdateAt(old, rest, fn)
		if err != nil {
			return nil, err
		}
		if Same(child, old) {
			return n, nil
		}
		return n.With(seg.Index, child), nil
	case *Object:
		if seg.IsIndex {
			return nil, fmt.Errorf("path step %d: object needs a property name", seg.Index)
		}
		old, ok := n.Get(seg.Name)
		if !ok {
			old = Null{}
		}
		child, err := UpdateAt(old, rest, fn)
		if err != nil {
			return nil, err
		}
		if ok && Same(child, old) {
			return n, nil
		}
		return n.With(seg.Name, child), nil
	default:
		return nil, fmt.Errorf("path step %s: cannot descend into %s", seg, Kind(root))
	}
}
