package parse

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Point is a row/column position in source.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is one node of a parsed syntax tree. Trees are converted out of
// the tree-sitter CGo structures immediately after parsing so the rest
// of the package works on plain Go values.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	Children   []*Node
}

// Tree is a parsed file.
type Tree struct {
	Root   *Node
	Source []byte
	Lang   string
}

func convertNode(ts *sitter.Node) *Node {
	if ts == nil {
		return nil
	}
	n := &Node{
		Type:      ts.Type(),
		StartByte: ts.StartByte(),
		EndByte:   ts.EndByte(),
		StartPoint: Point{
			Row:    ts.StartPoint().Row,
			Column: ts.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    ts.EndPoint().Row,
			Column: ts.EndPoint().Column,
		},
		HasError: ts.HasError(),
		Children: make([]*Node, 0, int(ts.ChildCount())),
	}
	for i := uint32(0); i < ts.ChildCount(); i++ {
		if child := ts.Child(int(i)); child != nil {
			n.Children = append(n.Children, convertNode(child))
		}
	}
	return n
}

// Content returns the source text the node covers.
func (n *Node) Content(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// Child returns the first direct child of the given type.
func (n *Node) Child(nodeType string) *Node {
	for _, c := range n.Children {
		if c.Type == nodeType {
			return c
		}
	}
	return nil
}

// ChildrenOf returns all direct children of the given type.
func (n *Node) ChildrenOf(nodeType string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Type == nodeType {
			out = append(out, c)
		}
	}
	return out
}

// Descendants returns all nodes of the given type, including n itself.
func (n *Node) Descendants(nodeType string) []*Node {
	var out []*Node
	n.Walk(func(c *Node) bool {
		if c.Type == nodeType {
			out = append(out, c)
		}
		return true
	})
	return out
}

// Walk traverses depth-first. Returning false skips the node's
// children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}
