// Package graph loads and models author-edited story graph documents.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks a missing document or node. Callers treat it as
// recoverable: the documented fallback is "restart from the beginning".
var ErrNotFound = errors.New("not found")

// Kind classifies a node.
type Kind string

const (
	KindText        Kind = "text"
	KindSubGraphRef Kind = "subGraphRef"
	KindGroup       Kind = "group"
)

// Node is one content node. Core code only reads nodes; authoring tools own
// mutation.
type Node struct {
	ID       string
	Kind     Kind
	Text     string
	GraphRef string
}

// Edge is one directed connection. The directive tags inside Label are
// parsed on demand and never written back.
type Edge struct {
	ID       string
	FromNode string
	ToNode   string
	Label    string
}

// Graph is one loaded document. Node and edge order follow the document so
// "first node" questions have a stable answer.
type Graph struct {
	ID    string
	Nodes map[string]*Node
	Edges []*Edge

	order []string
}

// NewGraph returns an empty graph with the given id.
func NewGraph(id string) *Graph {
	return &Graph{
		ID:    id,
		Nodes: map[string]*Node{},
	}
}

// AddNode registers a node, preserving document order.
func (g *Graph) AddNode(n *Node) {
	if n == nil || n.ID == "" {
		return
	}
	if _, ok := g.Nodes[n.ID]; !ok {
		g.order = append(g.order, n.ID)
	}
	g.Nodes[n.ID] = n
}

// AddEdge appends an edge in document order.
func (g *Graph) AddEdge(e *Edge) {
	if e == nil {
		return
	}
	g.Edges = append(g.Edges, e)
}

// NodesInOrder returns nodes in document order.
func (g *Graph) NodesInOrder() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.Nodes[id])
	}
	return out
}

// Node returns the node by id, or ErrNotFound.
func (g *Graph) Node(id string) (*Node, error) {
	n, ok := g.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %q in graph %q", ErrNotFound, id, g.ID)
	}
	return n, nil
}

// Outgoing returns edges leaving nodeID, in document order.
func (g *Graph) Outgoing(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.FromNode == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// HasIncoming reports whether any edge targets nodeID.
func (g *Graph) HasIncoming(nodeID string) bool {
	for _, e := range g.Edges {
		if e.ToNode == nodeID {
			return true
		}
	}
	return false
}

// FindMarkerNode returns the first text node whose content contains marker,
// case-insensitively, or nil.
func (g *Graph) FindMarkerNode(marker string) *Node {
	if strings.TrimSpace(marker) == "" {
		return nil
	}
	needle := strings.ToLower(marker)
	for _, n := range g.NodesInOrder() {
		if n.Kind != KindText {
			continue
		}
		if strings.Contains(strings.ToLower(n.Text), needle) {
			return n
		}
	}
	return nil
}
