package logs

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_FansOutToStderrAndFile(t *testing.T) {
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "branchline.log")

	log, closer, err := New(Options{Level: slog.LevelInfo, FilePath: path, Stderr: &stderr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("session started", "graph", "intro")
	log.Debug("filtered out")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(stderr.String(), "session started") {
		t.Fatalf("stderr missing record: %q", stderr.String())
	}
	if strings.Contains(stderr.String(), "filtered out") {
		t.Fatalf("debug record leaked past info level: %q", stderr.String())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &rec); err != nil {
		t.Fatalf("log file is not JSON: %v\n%s", err, raw)
	}
	if rec["msg"] != "session started" || rec["graph"] != "intro" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNew_StderrOnly(t *testing.T) {
	var stderr bytes.Buffer
	log, closer, err := New(Options{Level: slog.LevelDebug, Stderr: &stderr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("verbose detail")
	if err := closer(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(stderr.String(), "verbose detail") {
		t.Fatalf("stderr missing record: %q", stderr.String())
	}
}
