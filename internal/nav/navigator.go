package nav

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calderf/branchline/internal/directive"
	"github.com/calderf/branchline/internal/graph"
	"github.com/calderf/branchline/internal/pace"
)

// Guard arbitrates whether this device may mutate the session and persists
// the result. The ownership coordinator implements it; a nil guard means
// single-device play.
type Guard interface {
	// Acquire errs when another device holds a fresh claim on the session.
	Acquire(ctx context.Context) error
	// Publish hands off the post-mutation snapshot. Rapid successive
	// publishes may be coalesced unless immediate is set.
	Publish(ctx context.Context, snap Snapshot, immediate bool) error
	// Clear announces that the session was stopped locally.
	Clear(ctx context.Context) error
}

// Presenter is the rendering capability the host supplies. The navigator
// only emits data; presentation stays outside the core.
type Presenter interface {
	RenderChoices(node *graph.Node, choices []Choice)
	RenderMissingVariablePrompt(vars []string)
	RenderTimer(timer pace.Timer)
}

// Choice is one selectable edge, presented in document order.
type Choice struct {
	Index int
	Edge  *graph.Edge
	// Label is the parsed display text, "Next" when the author left the
	// label empty after tag stripping.
	Label string

	parsed directive.ParsedLabel
}

// Outcome is what one navigation action produced: the phase, the node the
// reader now faces, and whatever that phase needs rendered.
type Outcome struct {
	Phase Phase
	Graph string
	Node  *graph.Node
	// Choices when Phase is PhaseNavigating and edges are available.
	Choices []Choice
	// MissingVariables when Phase is PhaseAwaitingInput.
	MissingVariables []string
	// CanReturnToParent when no edge is valid but a parent scope waits.
	CanReturnToParent bool
	// Timer for the current node, nil after a terminal action.
	Timer *pace.Timer
	// PointsAwarded by the action that led here (zero on calibration).
	PointsAwarded int
}

// Navigator walks one session through its graphs. Not safe for concurrent
// use: one action is fully processed before the next is accepted.
type Navigator struct {
	loader  graph.Loader
	tracker *pace.Tracker
	resume  ResumeStore
	guard   Guard
	log     *slog.Logger

	// Marker is the case-insensitive substring that tags a graph's entry
	// node.
	Marker string

	// OnPoints, when set, receives every non-zero reward at node exit.
	OnPoints func(ctx context.Context, points int, graphID, nodeID string) error

	phase   Phase
	sess    *Session
	current *graph.Graph
	choices []Choice
	timer   pace.Timer
}

// New returns an idle navigator. guard may be nil for single-device play.
func New(loader graph.Loader, tracker *pace.Tracker, resume ResumeStore, guard Guard, log *slog.Logger) *Navigator {
	return &Navigator{
		loader:  loader,
		tracker: tracker,
		resume:  resume,
		guard:   guard,
		log:     log,
		phase:   PhaseIdle,
	}
}

// Phase returns the navigator's current phase.
func (n *Navigator) Phase() Phase {
	return n.phase
}

// Session returns the live session, nil when idle or stopped.
func (n *Navigator) Session() *Session {
	return n.sess
}

// Start begins a fresh session at the root graph's start node.
func (n *Navigator) Start(ctx context.Context, rootRef string) (*Outcome, error) {
	if err := n.acquire(ctx); err != nil {
		return nil, err
	}
	g, err := n.loader.Load(rootRef)
	if err != nil {
		return nil, fmt.Errorf("load root graph: %w", err)
	}
	startID, err := n.resolveStart(g)
	if err != nil {
		return nil, err
	}

	n.sess = &Session{
		RootGraph:    rootRef,
		CurrentGraph: rootRef,
		CurrentNode:  startID,
		State:        map[string]bool{},
	}
	n.current = g
	n.phase = PhaseNavigating
	if err := n.startTimer(ctx); err != nil {
		return nil, err
	}
	n.log.Info("session started", "graph", rootRef, "node", startID)

	// The claim must be visible to other devices before the first node is
	// even read, so session creation bypasses the write debounce.
	if n.guard != nil {
		if err := n.guard.Publish(ctx, n.sess.Snapshot(), true); err != nil {
			return nil, fmt.Errorf("publish session: %w", err)
		}
	}
	return n.stepAndPublish(ctx, 0, false)
}

// Resume rebuilds the session persisted by the last Stop for this root
// graph. With nothing to resume it reports graph.ErrNotFound; the caller's
// fallback is a fresh Start.
func (n *Navigator) Resume(ctx context.Context, rootRef string) (*Outcome, error) {
	if err := n.acquire(ctx); err != nil {
		return nil, err
	}
	raw, err := n.resume.ResumeSnapshot(ctx, rootRef)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: no resume snapshot for graph %q", graph.ErrNotFound, rootRef)
	}
	snap, err := decodeSnapshot(raw)
	if err != nil {
		return nil, err
	}
	return n.adopt(ctx, snap, true)
}

// Adopt replaces the local session with a snapshot mirrored from another
// device. It never publishes and never commits timing samples.
func (n *Navigator) Adopt(ctx context.Context, snap Snapshot) (*Outcome, error) {
	return n.adopt(ctx, snap, false)
}

func (n *Navigator) adopt(ctx context.Context, snap Snapshot, publish bool) (*Outcome, error) {
	g, err := n.loader.Load(snap.CurrentGraph)
	if err != nil {
		return nil, fmt.Errorf("load graph %q: %w", snap.CurrentGraph, err)
	}
	if _, err := g.Node(snap.CurrentNode); err != nil {
		return nil, err
	}

	n.tracker.Abort()
	n.sess = sessionFromSnapshot(snap)
	n.current = g
	n.phase = PhaseNavigating
	if err := n.startTimer(ctx); err != nil {
		return nil, err
	}
	return n.stepAndPublish(ctx, 0, publish)
}

// ClearMirrored drops the local mirror of a session that was stopped on
// another device. Nothing is persisted or published.
func (n *Navigator) ClearMirrored() {
	n.tracker.Abort()
	n.sess = nil
	n.current = nil
	n.choices = nil
	n.phase = PhaseStopped
}

// Step re-evaluates the current node without moving. Used to re-enter the
// machine after AwaitingInput.
func (n *Navigator) Step(ctx context.Context) (*Outcome, error) {
	if n.sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	return n.stepAndPublish(ctx, 0, false)
}

// Continue supplies values for the variables Step reported missing (absent
// entries default to false) and re-enters Step.
func (n *Navigator) Continue(ctx context.Context, values map[string]bool) (*Outcome, error) {
	if n.sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	if n.phase != PhaseAwaitingInput {
		return n.stepAndPublish(ctx, 0, false)
	}
	if err := n.acquire(ctx); err != nil {
		return nil, err
	}
	for _, name := range n.missingNow() {
		n.sess.State[name] = values[name]
	}
	return n.stepAndPublish(ctx, 0, true)
}

// Choose commits the reader's pick from the last outcome's choices: the
// outgoing node's timer is finalized, the edge's set operations run, and
// the session advances to the target, diving into a nested graph when the
// target references one.
func (n *Navigator) Choose(ctx context.Context, index int) (*Outcome, error) {
	if n.sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	if index < 0 || index >= len(n.choices) {
		return nil, fmt.Errorf("choice %d out of range", index)
	}
	if err := n.acquire(ctx); err != nil {
		return nil, err
	}
	choice := n.choices[index]

	target, err := n.current.Node(choice.Edge.ToNode)
	if err != nil {
		return nil, err
	}

	// A nested graph is resolved before anything commits: a missing
	// document must leave the timer, state, and history untouched.
	var (
		nested      *graph.Graph
		nestedStart string
	)
	if target.Kind == graph.KindSubGraphRef {
		nested, err = n.loader.Load(target.GraphRef)
		if err != nil {
			return nil, fmt.Errorf("load nested graph %q: %w", target.GraphRef, err)
		}
		nestedStart, err = n.resolveStart(nested)
		if err != nil {
			return nil, err
		}
	}

	// The outgoing node's timer settles before the position advances so
	// the sample lands on the right node.
	points, err := n.finishTimer(ctx)
	if err != nil {
		return nil, err
	}

	choice.parsed.Apply(n.sess.State)
	n.sess.History = append(n.sess.History, n.sess.CurrentNode)

	if target.Kind == graph.KindSubGraphRef {
		if err := n.dive(ctx, target, nested, nestedStart); err != nil {
			return nil, err
		}
	} else {
		n.sess.CurrentNode = target.ID
		if err := n.startTimer(ctx); err != nil {
			return nil, err
		}
	}
	n.phase = PhaseNavigating
	return n.stepAndPublish(ctx, points, true)
}

// dive enters a pre-loaded nested graph. The parent scope is frozen onto
// the stack; the nested scope always starts empty.
func (n *Navigator) dive(ctx context.Context, node *graph.Node, nested *graph.Graph, startID string) error {
	n.sess.Stack = append(n.sess.Stack, StackFrame{
		OriginGraph: n.sess.CurrentGraph,
		OriginNode:  node.ID,
		SavedState:  copyState(n.sess.State),
	})
	n.sess.CurrentGraph = node.GraphRef
	n.sess.CurrentNode = startID
	n.sess.State = map[string]bool{}
	n.sess.History = nil
	n.current = nested

	n.log.Info("entered nested graph", "graph", node.GraphRef, "node", startID, "depth", len(n.sess.Stack))
	return n.startTimer(ctx)
}

// Back re-enters the previously visited node. The timer for the node being
// left is aborted, never committed, and variable state is not reverted.
func (n *Navigator) Back(ctx context.Context) (*Outcome, error) {
	if n.sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	if len(n.sess.History) == 0 {
		return n.outcome(0), nil
	}
	if err := n.acquire(ctx); err != nil {
		return nil, err
	}

	last := n.sess.History[len(n.sess.History)-1]
	if _, err := n.current.Node(last); err != nil {
		// History reaching across a graph boundary has nowhere to go.
		n.log.Warn("back target not in current graph", "node", last, "graph", n.sess.CurrentGraph)
		return n.outcome(0), nil
	}

	n.tracker.Abort()
	n.sess.History = n.sess.History[:len(n.sess.History)-1]
	n.sess.CurrentNode = last
	if err := n.startTimer(ctx); err != nil {
		return nil, err
	}
	n.phase = PhaseNavigating
	return n.stepAndPublish(ctx, 0, true)
}

// ReturnToParent pops the nested-graph stack and restores the parent
// position and scope exactly as captured at dive time. With an empty stack
// it is equivalent to Stop.
func (n *Navigator) ReturnToParent(ctx context.Context) (*Outcome, error) {
	if n.sess == nil {
		return nil, fmt.Errorf("no active session")
	}
	if len(n.sess.Stack) == 0 {
		return n.Stop(ctx)
	}
	if err := n.acquire(ctx); err != nil {
		return nil, err
	}

	frame := n.sess.Stack[len(n.sess.Stack)-1]
	parent, err := n.loader.Load(frame.OriginGraph)
	if err != nil {
		return nil, fmt.Errorf("load parent graph %q: %w", frame.OriginGraph, err)
	}

	n.tracker.Abort()
	n.sess.Stack = n.sess.Stack[:len(n.sess.Stack)-1]
	n.sess.CurrentGraph = frame.OriginGraph
	n.sess.CurrentNode = frame.OriginNode
	n.sess.State = copyState(frame.SavedState)
	n.sess.History = nil
	n.current = parent

	n.log.Info("returned to parent graph", "graph", frame.OriginGraph, "node", frame.OriginNode)
	if err := n.startTimer(ctx); err != nil {
		return nil, err
	}
	n.phase = PhaseNavigating
	return n.stepAndPublish(ctx, 0, true)
}

// Stop persists a resume snapshot, aborts any running timer without
// committing it, and clears the session.
func (n *Navigator) Stop(ctx context.Context) (*Outcome, error) {
	if n.sess == nil {
		n.phase = PhaseStopped
		return &Outcome{Phase: PhaseStopped}, nil
	}

	n.tracker.Abort()
	snap := n.sess.Snapshot()
	raw, err := encodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if err := n.resume.PutResumeSnapshot(ctx, n.sess.RootGraph, raw); err != nil {
		return nil, err
	}
	if n.guard != nil {
		if err := n.guard.Clear(ctx); err != nil {
			n.log.Warn("clear shared session", "error", err)
		}
	}
	n.log.Info("session stopped", "graph", n.sess.RootGraph, "node", n.sess.CurrentNode)

	n.sess = nil
	n.current = nil
	n.choices = nil
	n.phase = PhaseStopped
	return &Outcome{Phase: PhaseStopped}, nil
}

// step evaluates the current node: missing dependencies first, then the
// valid-edge filter.
func (n *Navigator) step(points int) (*Outcome, error) {
	node, err := n.current.Node(n.sess.CurrentNode)
	if err != nil {
		return nil, err
	}

	edges := n.current.Outgoing(node.ID)
	parsed := make([]directive.ParsedLabel, len(edges))
	for i, e := range edges {
		parsed[i] = directive.ParseLabel(e.Label)
	}

	// Variables referenced by any outgoing condition but absent from the
	// scope pause the walk until the caller supplies values.
	var missing []string
	seen := map[string]struct{}{}
	for _, p := range parsed {
		for _, name := range p.Missing(n.sess.State) {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
		}
	}
	if len(missing) > 0 {
		n.phase = PhaseAwaitingInput
		n.choices = nil
		out := n.outcome(points)
		out.MissingVariables = missing
		return out, nil
	}

	var choices []Choice
	for i, e := range edges {
		if !parsed[i].Check(n.sess.State) {
			continue
		}
		label := parsed[i].DisplayText
		if label == "" {
			label = "Next"
		}
		choices = append(choices, Choice{
			Index:  len(choices),
			Edge:   e,
			Label:  label,
			parsed: parsed[i],
		})
	}
	n.choices = choices

	if len(choices) == 0 {
		if len(n.sess.Stack) > 0 {
			n.phase = PhaseNavigating
			out := n.outcome(points)
			out.CanReturnToParent = true
			return out, nil
		}
		n.phase = PhaseEndOfPath
		return n.outcome(points), nil
	}

	n.phase = PhaseNavigating
	return n.outcome(points), nil
}

func (n *Navigator) stepAndPublish(ctx context.Context, points int, publish bool) (*Outcome, error) {
	out, err := n.step(points)
	if err != nil {
		return nil, err
	}
	if publish && n.guard != nil && n.sess != nil {
		if err := n.guard.Publish(ctx, n.sess.Snapshot(), false); err != nil {
			return nil, fmt.Errorf("publish session: %w", err)
		}
	}
	return out, nil
}

func (n *Navigator) outcome(points int) *Outcome {
	out := &Outcome{
		Phase:         n.phase,
		PointsAwarded: points,
	}
	if n.sess != nil {
		out.Graph = n.sess.CurrentGraph
		if node, err := n.current.Node(n.sess.CurrentNode); err == nil {
			out.Node = node
		}
		out.Choices = n.choices
		if n.tracker.Running() {
			timer := n.timer
			out.Timer = &timer
		}
	}
	return out
}

func (n *Navigator) missingNow() []string {
	var missing []string
	seen := map[string]struct{}{}
	for _, e := range n.current.Outgoing(n.sess.CurrentNode) {
		p := directive.ParseLabel(e.Label)
		for _, name := range p.Missing(n.sess.State) {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
		}
	}
	return missing
}

func (n *Navigator) acquire(ctx context.Context) error {
	if n.guard == nil {
		return nil
	}
	return n.guard.Acquire(ctx)
}

func (n *Navigator) startTimer(ctx context.Context) error {
	timer, err := n.tracker.Start(ctx, n.sess.CurrentGraph, n.sess.CurrentNode)
	if err != nil {
		return err
	}
	n.timer = timer
	return nil
}

// finishTimer commits the outgoing node's elapsed time and routes any
// reward. Points flow only when a prior record existed.
func (n *Navigator) finishTimer(ctx context.Context) (int, error) {
	res, err := n.tracker.Finish(ctx)
	if err != nil {
		return 0, err
	}
	if res.Points > 0 && n.OnPoints != nil {
		if err := n.OnPoints(ctx, res.Points, n.sess.CurrentGraph, n.sess.CurrentNode); err != nil {
			return 0, fmt.Errorf("award points: %w", err)
		}
	}
	return res.Points, nil
}

// resolveStart finds the entry node: the configured marker's first outgoing
// target, else the first text node nothing points at, else the first node.
func (n *Navigator) resolveStart(g *graph.Graph) (string, error) {
	if marker := g.FindMarkerNode(n.Marker); marker != nil {
		out := g.Outgoing(marker.ID)
		if len(out) == 0 {
			return "", fmt.Errorf("%w: marker node %q has no outgoing edge in graph %q", graph.ErrNotFound, marker.ID, g.ID)
		}
		if _, err := g.Node(out[0].ToNode); err != nil {
			return "", err
		}
		return out[0].ToNode, nil
	}
	for _, node := range g.NodesInOrder() {
		if node.Kind == graph.KindText && !g.HasIncoming(node.ID) {
			return node.ID, nil
		}
	}
	if all := g.NodesInOrder(); len(all) > 0 {
		return all[0].ID, nil
	}
	return "", fmt.Errorf("%w: graph %q has no start node", graph.ErrNotFound, g.ID)
}
