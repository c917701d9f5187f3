package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DocExt is the filename suffix for graph documents in a vault.
const DocExt = ".graph.json"

// Loader resolves a graph reference to a loaded graph. Implementations cache
// as they see fit; the navigator treats every Load as cheap.
type Loader interface {
	Load(ref string) (*Graph, error)
}

// documentSchema constrains the on-disk shape before decoding. Violations
// surface as load errors, never as panics deeper in the walk.
const documentSchema = `{
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["text", "subGraphRef", "group"]},
          "text": {"type": "string"},
          "graphRef": {"type": "string"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "fromNode", "toNode"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "fromNode": {"type": "string", "minLength": 1},
          "toNode": {"type": "string", "minLength": 1},
          "label": {"type": "string"}
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("graph-document.json", strings.NewReader(documentSchema)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("graph-document.json")
	})
	return schema, schemaErr
}

type documentNode struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	GraphRef string `json:"graphRef,omitempty"`
}

type documentEdge struct {
	ID       string `json:"id"`
	FromNode string `json:"fromNode"`
	ToNode   string `json:"toNode"`
	Label    string `json:"label,omitempty"`
}

type document struct {
	Nodes []documentNode `json:"nodes"`
	Edges []documentEdge `json:"edges"`
}

// Decode validates raw against the document schema and builds a graph.
func Decode(id string, raw []byte) (*Graph, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}
	var loose any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("decode graph %q: %w", id, err)
	}
	if err := s.Validate(loose); err != nil {
		return nil, fmt.Errorf("graph %q does not match schema: %w", id, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode graph %q: %w", id, err)
	}

	g := NewGraph(id)
	for _, n := range doc.Nodes {
		g.AddNode(&Node{
			ID:       n.ID,
			Kind:     Kind(n.Kind),
			Text:     n.Text,
			GraphRef: n.GraphRef,
		})
	}
	for _, e := range doc.Edges {
		g.AddEdge(&Edge{
			ID:       e.ID,
			FromNode: e.FromNode,
			ToNode:   e.ToNode,
			Label:    e.Label,
		})
	}
	return g, nil
}

// VaultLoader loads graph documents from a vault directory. References are
// vault-relative: "intro" and "intro.graph.json" both resolve to
// <vault>/intro.graph.json. Loaded graphs are cached by resolved path.
type VaultLoader struct {
	Root string

	mu    sync.Mutex
	cache map[string]*Graph
}

// NewVaultLoader returns a loader rooted at dir.
func NewVaultLoader(dir string) *VaultLoader {
	return &VaultLoader{
		Root:  dir,
		cache: map[string]*Graph{},
	}
}

// Load resolves and decodes ref. A missing file reports ErrNotFound.
func (l *VaultLoader) Load(ref string) (*Graph, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty graph reference", ErrNotFound)
	}
	rel := ref
	if !strings.HasSuffix(rel, DocExt) {
		rel += DocExt
	}
	path := filepath.Join(l.Root, filepath.FromSlash(rel))

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: graph document %q", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("read graph %q: %w", ref, err)
	}
	g, err := Decode(idFromRef(ref), raw)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[path] = g
	l.mu.Unlock()
	return g, nil
}

// Invalidate drops any cached copy of ref, forcing a reread on next Load.
func (l *VaultLoader) Invalidate(ref string) {
	rel := strings.TrimSpace(ref)
	if !strings.HasSuffix(rel, DocExt) {
		rel += DocExt
	}
	path := filepath.Join(l.Root, filepath.FromSlash(rel))
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
}

func idFromRef(ref string) string {
	return strings.TrimSuffix(filepath.ToSlash(ref), DocExt)
}

// Discover lists every graph document under the vault, vault-relative, in
// lexical order.
func Discover(vault string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(vault), "**/*"+DocExt)
	if err != nil {
		return nil, fmt.Errorf("scan vault %q: %w", vault, err)
	}
	return matches, nil
}
