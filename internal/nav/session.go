// Package nav is the navigation state machine: it walks a reader along the
// edges of a story graph, tracks variable scope across nested-graph dives,
// and drives the pacing timer at every node boundary.
package nav

import (
	"context"
	"encoding/json"
	"fmt"
)

// Phase is the navigator's lifecycle state.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseNavigating    Phase = "navigating"
	PhaseAwaitingInput Phase = "awaiting_input"
	PhaseEndOfPath     Phase = "end_of_path"
	PhaseStopped       Phase = "stopped"
)

// StackFrame captures the parent position at the moment a nested graph is
// entered. SavedState is restored bit-for-bit on return.
type StackFrame struct {
	OriginGraph string          `json:"graph"`
	OriginNode  string          `json:"node"`
	SavedState  map[string]bool `json:"state"`
}

// Session is the live navigation state. One session exists from play start
// until stop; every navigation action mutates it.
type Session struct {
	RootGraph    string
	CurrentGraph string
	CurrentNode  string
	State        map[string]bool
	Stack        []StackFrame
	History      []string
}

// Snapshot is the serializable form of a session, used both for the
// single-device resume map and as the body of the shared cross-device
// artifact.
type Snapshot struct {
	RootGraph    string          `json:"rootGraph"`
	CurrentGraph string          `json:"currentGraph"`
	CurrentNode  string          `json:"currentNode"`
	State        map[string]bool `json:"state"`
	Stack        []StackFrame    `json:"stack,omitempty"`
	History      []string        `json:"history,omitempty"`
}

// Snapshot copies the session into its serializable form.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		RootGraph:    s.RootGraph,
		CurrentGraph: s.CurrentGraph,
		CurrentNode:  s.CurrentNode,
		State:        copyState(s.State),
		History:      append([]string{}, s.History...),
	}
	for _, f := range s.Stack {
		snap.Stack = append(snap.Stack, StackFrame{
			OriginGraph: f.OriginGraph,
			OriginNode:  f.OriginNode,
			SavedState:  copyState(f.SavedState),
		})
	}
	return snap
}

// sessionFromSnapshot rebuilds a live session.
func sessionFromSnapshot(snap Snapshot) *Session {
	s := &Session{
		RootGraph:    snap.RootGraph,
		CurrentGraph: snap.CurrentGraph,
		CurrentNode:  snap.CurrentNode,
		State:        copyState(snap.State),
		History:      append([]string{}, snap.History...),
	}
	if s.State == nil {
		s.State = map[string]bool{}
	}
	for _, f := range snap.Stack {
		saved := copyState(f.SavedState)
		if saved == nil {
			saved = map[string]bool{}
		}
		s.Stack = append(s.Stack, StackFrame{
			OriginGraph: f.OriginGraph,
			OriginNode:  f.OriginNode,
			SavedState:  saved,
		})
	}
	return s
}

func copyState(state map[string]bool) map[string]bool {
	if state == nil {
		return nil
	}
	out := make(map[string]bool, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

// ResumeStore persists per-root-graph resume snapshots for single-device
// "continue where I left off". *store.Store implements it.
type ResumeStore interface {
	PutResumeSnapshot(ctx context.Context, rootGraphID string, snapshot []byte) error
	ResumeSnapshot(ctx context.Context, rootGraphID string) ([]byte, error)
	DeleteResumeSnapshot(ctx context.Context, rootGraphID string) error
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode session snapshot: %w", err)
	}
	return raw, nil
}

func decodeSnapshot(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode session snapshot: %w", err)
	}
	return snap, nil
}
