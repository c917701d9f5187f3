package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/calderf/branchline/internal/nav"
	"github.com/calderf/branchline/internal/ownership"
)

func writeDoc(t *testing.T, vault, name, body string) {
	t.Helper()
	path := filepath.Join(vault, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func runCommand(t *testing.T, vault, dataDir, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--vault", vault, "--data-dir", dataDir))
	err := cmd.Execute()
	return buf.String(), err
}

const twoNodeDoc = `{
  "nodes": [
    {"id": "n1", "kind": "text", "text": "You wake in a quiet room."},
    {"id": "n2", "kind": "text", "text": "The corridor ends at daylight."}
  ],
  "edges": [
    {"id": "e1", "fromNode": "n1", "toNode": "n2", "label": "Step outside"}
  ]
}`

func TestValidateCommand_ValidVault(t *testing.T) {
	vault := t.TempDir()
	writeDoc(t, vault, "intro.graph.json", twoNodeDoc)

	out, err := runCommand(t, vault, t.TempDir(), "", "validate")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 document(s) valid") {
		t.Fatalf("output missing summary: %q", out)
	}
}

func TestValidateCommand_ReportsProblems(t *testing.T) {
	vault := t.TempDir()
	writeDoc(t, vault, "broken.graph.json", `{
  "nodes": [
    {"id": "n1", "kind": "text", "text": "start"},
    {"id": "sub", "kind": "subGraphRef", "graphRef": "nowhere"}
  ],
  "edges": [
    {"id": "e1", "fromNode": "n1", "toNode": "ghost", "label": "{if:a &} on"}
  ]
}`)

	out, err := runCommand(t, vault, t.TempDir(), "", "validate")
	if err == nil {
		t.Fatalf("validate accepted a broken vault:\n%s", out)
	}
	for _, want := range []string{
		`references missing graph "nowhere"`,
		`ends at unknown node "ghost"`,
		"malformed tag {if:a &}",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWalletCommands(t *testing.T) {
	vault := t.TempDir()
	dataDir := t.TempDir()

	for _, args := range [][]string{
		{"wallet", "earn", "5"},
		{"wallet", "earn", "3"},
		{"wallet", "spend", "4"},
	} {
		if out, err := runCommand(t, vault, dataDir, "", args...); err != nil {
			t.Fatalf("%v: %v\n%s", args, err, out)
		}
	}

	out, err := runCommand(t, vault, dataDir, "", "wallet", "balance")
	if err != nil {
		t.Fatalf("balance: %v\n%s", err, out)
	}
	if !strings.Contains(out, "4 points") {
		t.Fatalf("balance output = %q, want 4 points", out)
	}

	// A spend past the balance is refused and leaves the log untouched.
	out, err = runCommand(t, vault, dataDir, "", "wallet", "spend", "100")
	if err == nil {
		t.Fatalf("overspend succeeded:\n%s", out)
	}
	out, err = runCommand(t, vault, dataDir, "", "wallet", "history")
	if err != nil {
		t.Fatalf("history: %v\n%s", err, out)
	}
	if got := strings.Count(out, "\n"); got != 3 {
		t.Fatalf("history has %d entries, want 3:\n%s", got, out)
	}
}

func TestWalletBuy_OncePerItem(t *testing.T) {
	vault := t.TempDir()
	dataDir := t.TempDir()

	if out, err := runCommand(t, vault, dataDir, "", "wallet", "earn", "10"); err != nil {
		t.Fatalf("earn: %v\n%s", err, out)
	}
	if out, err := runCommand(t, vault, dataDir, "", "wallet", "buy", "lantern", "6"); err != nil {
		t.Fatalf("buy: %v\n%s", err, out)
	}
	out, err := runCommand(t, vault, dataDir, "", "wallet", "buy", "lantern", "6")
	if err == nil {
		t.Fatalf("second buy succeeded:\n%s", out)
	}
	if !strings.Contains(out, "Already owned") {
		t.Fatalf("output = %q, want already-owned notice", out)
	}
}

func TestPlayCommand_ScriptedSession(t *testing.T) {
	vault := t.TempDir()
	dataDir := t.TempDir()
	writeDoc(t, vault, "intro.graph.json", twoNodeDoc)

	out, err := runCommand(t, vault, dataDir, "1\nstop\n", "play", "intro")
	if err != nil {
		t.Fatalf("play: %v\n%s", err, out)
	}
	for _, want := range []string{
		"You wake in a quiet room.",
		"1) Step outside",
		"The corridor ends at daylight.",
		"The path ends here.",
		"Session saved.",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlayCommand_PicksLoneGraph(t *testing.T) {
	vault := t.TempDir()
	dataDir := t.TempDir()
	writeDoc(t, vault, "only.graph.json", twoNodeDoc)

	out, err := runCommand(t, vault, dataDir, "stop\n", "play")
	if err != nil {
		t.Fatalf("play without arg: %v\n%s", err, out)
	}
	if !strings.Contains(out, "You wake in a quiet room.") {
		t.Fatalf("lone graph was not started:\n%s", out)
	}
}

func TestPlayCommand_RefusesForeignSession(t *testing.T) {
	vault := t.TempDir()
	dataDir := t.TempDir()
	writeDoc(t, vault, "intro.graph.json", twoNodeDoc)

	err := ownership.NewFileStore(vault).Write(&ownership.Artifact{
		Session: nav.Snapshot{
			RootGraph:    "intro",
			CurrentGraph: "intro",
			CurrentNode:  "n1",
		},
		OwnerDeviceID:     "other-device",
		UpdatedByDeviceID: "other-device",
		UpdatedAtMs:       time.Now().UnixMilli(),
		Version:           1,
	})
	if err != nil {
		t.Fatalf("seed foreign artifact: %v", err)
	}

	out, err := runCommand(t, vault, dataDir, "stop\n", "play", "intro")
	if err == nil {
		t.Fatalf("play succeeded against a fresh foreign claim:\n%s", out)
	}
	if !strings.Contains(out, "active on another device") {
		t.Fatalf("output missing refusal notice:\n%s", out)
	}

	// Takeover claims the session for this device; play then proceeds.
	if out, err := runCommand(t, vault, dataDir, "", "takeover"); err != nil {
		t.Fatalf("takeover: %v\n%s", err, out)
	}
	out, err = runCommand(t, vault, dataDir, "stop\n", "play", "intro")
	if err != nil {
		t.Fatalf("play after takeover: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Session saved.") {
		t.Fatalf("play after takeover did not complete:\n%s", out)
	}
}
