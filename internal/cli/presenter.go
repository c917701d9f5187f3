package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/calderf/branchline/internal/graph"
	"github.com/calderf/branchline/internal/nav"
	"github.com/calderf/branchline/internal/pace"
)

// termPresenter renders navigation output as plain text.
type termPresenter struct {
	w io.Writer
}

func (p *termPresenter) RenderChoices(node *graph.Node, choices []nav.Choice) {
	if node != nil && strings.TrimSpace(node.Text) != "" {
		fmt.Fprintf(p.w, "\n%s\n", strings.TrimSpace(node.Text))
	}
	if len(choices) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	for _, c := range choices {
		fmt.Fprintf(p.w, "  %d) %s\n", c.Index+1, c.Label)
	}
}

func (p *termPresenter) RenderMissingVariablePrompt(vars []string) {
	fmt.Fprintf(p.w, "\nThis path needs answers for: %s\n", strings.Join(vars, ", "))
}

func (p *termPresenter) RenderTimer(timer pace.Timer) {
	if timer.CountDown {
		fmt.Fprintf(p.w, "  [timer: %s]\n", (time.Duration(timer.TargetMs) * time.Millisecond).Round(time.Second))
		return
	}
	fmt.Fprintln(p.w, "  [timer: calibrating]")
}
