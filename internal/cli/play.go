package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calderf/branchline/internal/graph"
	"github.com/calderf/branchline/internal/nav"
	"github.com/calderf/branchline/internal/ownership"
)

type playOptions struct {
	*RootOptions
	Resume bool
	Mirror bool
}

// NewPlayCommand creates the play command.
func NewPlayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &playOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "play [graph]",
		Short: "Play a story graph from the vault",
		Long: `Play a story graph interactively.

With no argument the vault is scanned for graph documents; a lone document
is played directly, otherwise the candidates are listed. Choices are picked
by number; "back" revisits, "return" leaves a nested graph, "stop" saves
and exits.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			return runPlay(opts, ref, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Resume, "resume", false, "continue the saved session for this graph")
	cmd.Flags().BoolVar(&opts.Mirror, "mirror", false, "follow the session running on another device, read-only")

	return cmd
}

func runPlay(opts *playOptions, ref string, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	out := cmd.OutOrStdout()

	if ref == "" && !opts.Mirror {
		ref, err = pickGraph(a.cfg.Vault, out)
		if err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if opts.Mirror {
		return runMirror(ctx, a, out)
	}

	var outcome *nav.Outcome
	if opts.Resume {
		outcome, err = a.nav.Resume(ctx, ref)
		if errors.Is(err, graph.ErrNotFound) {
			fmt.Fprintln(out, "No saved session for this graph; starting fresh.")
			outcome, err = a.nav.Start(ctx, ref)
		}
	} else {
		outcome, err = a.nav.Start(ctx, ref)
	}
	if errors.Is(err, ownership.ErrNotOwner) {
		fmt.Fprintln(out, "The session is active on another device.")
		fmt.Fprintln(out, "Use `branchline play --mirror` to follow along, or `branchline takeover` to claim it.")
		return err
	}
	if err != nil {
		return err
	}

	return playLoop(ctx, a, outcome, cmd.InOrStdin(), out)
}

// playLoop drives one interactive session until stop, end of input, or
// cancellation. Bad input never kills the session.
func playLoop(ctx context.Context, a *app, outcome *nav.Outcome, in io.Reader, out io.Writer) error {
	p := &termPresenter{w: out}
	scanner := bufio.NewScanner(in)

	render(p, out, outcome)
	for outcome.Phase != nav.PhaseStopped {
		if ctx.Err() != nil {
			break
		}

		if outcome.Phase == nav.PhaseAwaitingInput {
			values, ok := promptValues(outcome.MissingVariables, scanner, out)
			if !ok {
				break
			}
			next, err := a.nav.Continue(ctx, values)
			if err != nil {
				return err
			}
			outcome = next
			render(p, out, outcome)
			continue
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		next, err := dispatch(ctx, a, outcome, line, out)
		if errors.Is(err, graph.ErrNotFound) {
			// A synced vault can lose a document mid-session. The
			// documented recovery is a fresh start, not a crash.
			fmt.Fprintf(out, "A graph document went missing (%v); play again to restart.\n", err)
			next, err = a.nav.Stop(context.WithoutCancel(ctx))
		}
		if err != nil {
			return err
		}
		if next == nil {
			continue
		}
		outcome = next
		render(p, out, outcome)
	}

	if outcome.Phase != nav.PhaseStopped {
		// Save even when the loop ended by Ctrl-C.
		final, err := a.nav.Stop(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		outcome = final
	}
	fmt.Fprintln(out, "Session saved.")
	return scanner.Err()
}

// dispatch maps one input line to a navigation action. A nil outcome with a
// nil error means "re-prompt".
func dispatch(ctx context.Context, a *app, outcome *nav.Outcome, line string, out io.Writer) (*nav.Outcome, error) {
	switch strings.ToLower(line) {
	case "q", "quit", "stop":
		return a.nav.Stop(ctx)
	case "b", "back":
		return a.nav.Back(ctx)
	case "r", "return":
		return a.nav.ReturnToParent(ctx)
	case "h", "help", "?":
		fmt.Fprintln(out, "Pick a choice by number. Also: back, return, stop, help.")
		return nil, nil
	}

	idx, err := strconv.Atoi(line)
	if err != nil {
		fmt.Fprintf(out, "Unrecognized input %q. Pick a number, or: back, return, stop.\n", line)
		return nil, nil
	}
	if idx < 1 || idx > len(outcome.Choices) {
		if len(outcome.Choices) == 0 {
			fmt.Fprintln(out, "No choices here. Try: back, return, stop.")
		} else {
			fmt.Fprintf(out, "Pick a number between 1 and %d.\n", len(outcome.Choices))
		}
		return nil, nil
	}
	return a.nav.Choose(ctx, idx-1)
}

// promptValues asks yes/no for each undefined variable. Unanswerable input
// (EOF) aborts the prompt.
func promptValues(vars []string, scanner *bufio.Scanner, out io.Writer) (map[string]bool, bool) {
	values := make(map[string]bool, len(vars))
	for _, v := range vars {
		fmt.Fprintf(out, "%s? [y/N] ", v)
		if !scanner.Scan() {
			return nil, false
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		values[v] = answer == "y" || answer == "yes" || answer == "true"
	}
	return values, true
}

func render(p *termPresenter, out io.Writer, outcome *nav.Outcome) {
	if outcome.PointsAwarded > 0 {
		fmt.Fprintf(out, "  +%d points\n", outcome.PointsAwarded)
	}

	switch outcome.Phase {
	case nav.PhaseNavigating:
		p.RenderChoices(outcome.Node, outcome.Choices)
		if outcome.Timer != nil {
			p.RenderTimer(*outcome.Timer)
		}
		if outcome.CanReturnToParent {
			fmt.Fprintln(out, "  (type `return` to go back to the outer story)")
		}
	case nav.PhaseAwaitingInput:
		if outcome.Node != nil && strings.TrimSpace(outcome.Node.Text) != "" {
			fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(outcome.Node.Text))
		}
		p.RenderMissingVariablePrompt(outcome.MissingVariables)
	case nav.PhaseEndOfPath:
		if outcome.Node != nil && strings.TrimSpace(outcome.Node.Text) != "" {
			fmt.Fprintf(out, "\n%s\n", strings.TrimSpace(outcome.Node.Text))
		}
		fmt.Fprintln(out, "\nThe path ends here. (back, stop)")
	case nav.PhaseStopped:
		// Nothing: the loop prints the save notice.
	}
}

// pickGraph resolves the implicit graph argument from the vault contents.
func pickGraph(vault string, out io.Writer) (string, error) {
	refs, err := graph.Discover(vault)
	if err != nil {
		return "", err
	}
	switch len(refs) {
	case 0:
		return "", fmt.Errorf("no %s documents in %s", graph.DocExt, vault)
	case 1:
		return refs[0], nil
	default:
		fmt.Fprintln(out, "Multiple graphs in the vault:")
		for _, r := range refs {
			fmt.Fprintf(out, "  %s\n", r)
		}
		return "", fmt.Errorf("pick one: branchline play <graph>")
	}
}

// mirrorSession follows the shared artifact, rendering each remote update.
type mirrorSession struct {
	ctx context.Context
	a   *app
	p   *termPresenter
	out io.Writer
}

func (m *mirrorSession) RemoteUpdated(art *ownership.Artifact) {
	outcome, err := m.a.nav.Adopt(m.ctx, art.Session)
	if err != nil {
		m.a.log.Warn("adopt remote session", "error", err)
		return
	}
	fmt.Fprintf(m.out, "\n-- %s @ v%d --\n", art.OwnerDeviceID, art.Version)
	render(m.p, m.out, outcome)
}

func (m *mirrorSession) RemoteStopped() {
	m.a.nav.ClearMirrored()
	fmt.Fprintln(m.out, "\nThe session was stopped on the other device.")
}

func runMirror(ctx context.Context, a *app, out io.Writer) error {
	fmt.Fprintln(out, "Mirroring the shared session. Ctrl-C to quit.")
	a.coord.Watch(ctx, &mirrorSession{
		ctx: ctx,
		a:   a,
		p:   &termPresenter{w: out},
		out: out,
	})
	return nil
}

// commandContext prefers the command's context so tests can cancel runs.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
