package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calderf/branchline/internal/directive"
	"github.com/calderf/branchline/internal/graph"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [vault]",
		Short: "Check every graph document in the vault",
		Long: `Validate all graph documents: schema shape, edge endpoints, nested
graph references, and the directive tags in edge labels.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			vault := rootOpts.Vault
			if len(args) == 1 {
				vault = args[0]
			}
			if vault == "" {
				cfg, err := loadConfigOnly(rootOpts)
				if err != nil {
					return err
				}
				vault = cfg.Vault
			}
			if vault == "" {
				return fmt.Errorf("no vault configured: set --vault, BRANCHLINE_VAULT, or pass a directory")
			}
			return runValidate(vault, cmd.OutOrStdout())
		},
	}
}

func runValidate(vault string, out io.Writer) error {
	refs, err := graph.Discover(vault)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return fmt.Errorf("no %s documents in %s", graph.DocExt, vault)
	}

	known := make(map[string]bool, len(refs))
	for _, ref := range refs {
		known[strings.TrimSuffix(ref, graph.DocExt)] = true
	}

	problems := 0
	for _, ref := range refs {
		raw, err := os.ReadFile(filepath.Join(vault, filepath.FromSlash(ref)))
		if err != nil {
			problems++
			fmt.Fprintf(out, "%s: %v\n", ref, err)
			continue
		}
		g, err := graph.Decode(strings.TrimSuffix(ref, graph.DocExt), raw)
		if err != nil {
			problems++
			fmt.Fprintf(out, "%s: %v\n", ref, err)
			continue
		}
		problems += checkGraph(g, known, ref, out)
	}

	if problems > 0 {
		return fmt.Errorf("%d problem(s) across %d document(s)", problems, len(refs))
	}
	fmt.Fprintf(out, "%d document(s) valid.\n", len(refs))
	return nil
}

// checkGraph reports the structural problems schema validation cannot see.
func checkGraph(g *graph.Graph, known map[string]bool, ref string, out io.Writer) int {
	problems := 0
	for _, n := range g.NodesInOrder() {
		if n.Kind == graph.KindSubGraphRef {
			target := strings.TrimSuffix(n.GraphRef, graph.DocExt)
			if target == "" {
				problems++
				fmt.Fprintf(out, "%s: node %q has kind subGraphRef but no graphRef\n", ref, n.ID)
			} else if !known[target] {
				problems++
				fmt.Fprintf(out, "%s: node %q references missing graph %q\n", ref, n.ID, n.GraphRef)
			}
		}
	}
	for _, e := range g.Edges {
		if _, err := g.Node(e.FromNode); err != nil {
			problems++
			fmt.Fprintf(out, "%s: edge %q starts at unknown node %q\n", ref, e.ID, e.FromNode)
		}
		if _, err := g.Node(e.ToNode); err != nil {
			problems++
			fmt.Fprintf(out, "%s: edge %q ends at unknown node %q\n", ref, e.ID, e.ToNode)
		}
		for _, tag := range directive.MalformedTags(e.Label) {
			problems++
			fmt.Fprintf(out, "%s: edge %q has a malformed tag %s\n", ref, e.ID, tag)
		}
	}
	return problems
}
