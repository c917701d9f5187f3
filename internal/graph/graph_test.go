package graph

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const sampleDoc = `{
  "nodes": [
    {"id": "a", "kind": "text", "text": "Start here"},
    {"id": "b", "kind": "text", "text": "A fork in the road"},
    {"id": "c", "kind": "subGraphRef", "graphRef": "cellar"}
  ],
  "edges": [
    {"id": "e1", "fromNode": "a", "toNode": "b", "label": "Go"},
    {"id": "e2", "fromNode": "b", "toNode": "c", "label": "{if:hasKey} Descend"}
  ]
}`

func writeDoc(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDecode(t *testing.T) {
	g, err := Decode("intro", []byte(sampleDoc))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if len(g.Nodes) != 3 || len(g.Edges) != 2 {
		t.Fatalf("got %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
	n, err := g.Node("c")
	if err != nil {
		t.Fatalf("Node(c): %v", err)
	}
	if n.Kind != KindSubGraphRef || n.GraphRef != "cellar" {
		t.Fatalf("node c = %+v", n)
	}
	if _, err := g.Node("zz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Node(zz) err = %v, want ErrNotFound", err)
	}
}

func TestDecode_RejectsMalformedDocuments(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"nodes": [`},
		{"missing edges", `{"nodes": []}`},
		{"bad kind", `{"nodes":[{"id":"a","kind":"teleport"}],"edges":[]}`},
		{"empty node id", `{"nodes":[{"id":"","kind":"text"}],"edges":[]}`},
		{"edge without target", `{"nodes":[],"edges":[{"id":"e","fromNode":"a"}]}`},
	}
	for _, tc := range cases {
		if _, err := Decode("bad", []byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestGraph_Order(t *testing.T) {
	g, err := Decode("intro", []byte(sampleDoc))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	var ids []string
	for _, n := range g.NodesInOrder() {
		ids = append(ids, n.ID)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("order=%v, want %v", ids, want)
	}
	out := g.Outgoing("b")
	if len(out) != 1 || out[0].ID != "e2" {
		t.Fatalf("Outgoing(b)=%v", out)
	}
	if g.HasIncoming("a") {
		t.Fatalf("HasIncoming(a)=true")
	}
	if !g.HasIncoming("c") {
		t.Fatalf("HasIncoming(c)=false")
	}
}

func TestGraph_FindMarkerNode(t *testing.T) {
	g, err := Decode("intro", []byte(sampleDoc))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if n := g.FindMarkerNode("START HERE"); n == nil || n.ID != "a" {
		t.Fatalf("FindMarkerNode=%v", n)
	}
	if n := g.FindMarkerNode("nowhere"); n != nil {
		t.Fatalf("FindMarkerNode(nowhere)=%v", n)
	}
	if n := g.FindMarkerNode("  "); n != nil {
		t.Fatalf("FindMarkerNode(blank)=%v", n)
	}
}

func TestVaultLoader(t *testing.T) {
	vault := t.TempDir()
	writeDoc(t, vault, "intro.graph.json", sampleDoc)

	l := NewVaultLoader(vault)
	g, err := l.Load("intro")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if g.ID != "intro" {
		t.Fatalf("graph id=%q", g.ID)
	}

	// Cached: same pointer back.
	again, err := l.Load("intro.graph.json")
	if err != nil {
		t.Fatalf("Load again error: %v", err)
	}
	if again != g {
		t.Fatalf("expected cached graph")
	}

	if _, err := l.Load("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) err=%v, want ErrNotFound", err)
	}
}

func TestDiscover(t *testing.T) {
	vault := t.TempDir()
	writeDoc(t, vault, "intro.graph.json", sampleDoc)
	writeDoc(t, vault, filepath.Join("chapters", "two.graph.json"), sampleDoc)
	writeDoc(t, vault, "notes.txt", "not a graph")

	got, err := Discover(vault)
	if err != nil {
		t.Fatalf("Discover error: %v", err)
	}
	want := []string{"chapters/two.graph.json", "intro.graph.json"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Discover=%v, want %v", got, want)
	}
}
