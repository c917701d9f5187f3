package ownership

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/calderf/branchline/internal/nav"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// immediateOptions disables debouncing so writes land synchronously.
func immediateOptions() Options {
	opts := DefaultOptions()
	opts.WriteDebounce = 0
	return opts
}

func testCoordinator(t *testing.T, deviceID string, opts Options) (*Coordinator, *FileStore, *time.Time) {
	t.Helper()
	return coordinatorAt(t, t.TempDir(), deviceID, opts)
}

func coordinatorAt(t *testing.T, vault, deviceID string, opts Options) (*Coordinator, *FileStore, *time.Time) {
	t.Helper()
	store := NewFileStore(vault)
	c := NewCoordinator(store, deviceID, opts, discard())
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return clock })
	return c, store, &clock
}

func snapAt(node string) nav.Snapshot {
	return nav.Snapshot{
		RootGraph:    "intro",
		CurrentGraph: "intro",
		CurrentNode:  node,
		State:        map[string]bool{"hasKey": true},
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())

	if _, err := store.Read(); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("Read empty err=%v, want ErrNoArtifact", err)
	}

	art := &Artifact{
		Session:           snapAt("b"),
		OwnerDeviceID:     "dev-1",
		UpdatedAtMs:       1234,
		UpdatedByDeviceID: "dev-1",
		Version:           3,
	}
	if err := store.Write(art); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Version != 3 || got.OwnerDeviceID != "dev-1" || got.Session.CurrentNode != "b" {
		t.Fatalf("artifact=%+v", got)
	}
	if got.Digest == "" {
		t.Fatalf("digest not stamped")
	}

	if err := store.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := store.Remove(); err != nil {
		t.Fatalf("Remove again: %v", err)
	}
}

func TestFileStore_DistinguishesCorruptFromMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := os.MkdirAll(filepath.Dir(store.Path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(store.Path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := store.Read()
	if err == nil || errors.Is(err, ErrNoArtifact) {
		t.Fatalf("corrupt artifact err=%v, want parse error", err)
	}
}

func TestFileStore_DetectsTamperedDigest(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Write(&Artifact{Session: snapAt("b"), Version: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	raw, err := os.ReadFile(store.Path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	// Flip the stored node name without restamping the digest.
	tampered := []byte(replaceOnce(string(raw), `"currentNode": "b"`, `"currentNode": "z"`))
	if err := os.WriteFile(store.Path, tampered, 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := store.Read(); err == nil {
		t.Fatalf("tampered artifact read succeeded")
	}
}

func replaceOnce(s, old, new string) string {
	i := len(s)
	for j := 0; j+len(old) <= len(s); j++ {
		if s[j:j+len(old)] == old {
			i = j
			break
		}
	}
	if i == len(s) {
		return s
	}
	return s[:i] + new + s[i+len(old):]
}

func TestAcquire_FailsClosedAgainstFreshOwner(t *testing.T) {
	ctx := context.Background()
	vault := t.TempDir()
	owner, _, _ := coordinatorAt(t, vault, "dev-owner", immediateOptions())
	other, _, otherClock := coordinatorAt(t, vault, "dev-other", immediateOptions())

	if err := owner.Publish(ctx, snapAt("b"), true); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := other.Acquire(ctx); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Acquire err=%v, want ErrNotOwner", err)
	}

	// Once the lease goes stale the claim no longer blocks.
	*otherClock = otherClock.Add(61 * time.Second)
	if err := other.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after lease expiry: %v", err)
	}
}

func TestAcquire_FailsOpenWhenNothingVisible(t *testing.T) {
	ctx := context.Background()
	c, _, _ := testCoordinator(t, "dev-1", immediateOptions())
	if err := c.Acquire(ctx); err != nil {
		t.Fatalf("Acquire with no artifact: %v", err)
	}
}

func TestAcquire_FailsOpenOnUnreadableArtifactButFlagsIt(t *testing.T) {
	ctx := context.Background()
	c, store, _ := testCoordinator(t, "dev-1", immediateOptions())
	if err := os.MkdirAll(filepath.Dir(store.Path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(store.Path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := c.Acquire(ctx); err != nil {
		t.Fatalf("Acquire on unreadable artifact: %v", err)
	}
	st, err := c.Inspect(ctx)
	if err == nil {
		t.Fatalf("Inspect of corrupt artifact should error, got %+v", st)
	}
	// The degraded read is observable on the coordinator.
	if !c.isReadDegraded() {
		t.Fatalf("degraded read not flagged")
	}
}

func TestPublish_PreservesOwnerAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	vault := t.TempDir()
	owner, store, _ := coordinatorAt(t, vault, "dev-owner", immediateOptions())
	other, _, otherClock := coordinatorAt(t, vault, "dev-other", immediateOptions())

	if err := owner.Publish(ctx, snapAt("a"), true); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	first, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first.Version != 1 || first.OwnerDeviceID != "dev-owner" {
		t.Fatalf("first=%+v", first)
	}

	// After the lease expires another device may write, but ownership is
	// preserved until an explicit takeover.
	*otherClock = otherClock.Add(2 * time.Minute)
	if err := other.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := other.Publish(ctx, snapAt("b"), true); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if second.Version != 2 {
		t.Fatalf("version=%d, want 2", second.Version)
	}
	if second.OwnerDeviceID != "dev-owner" || second.UpdatedByDeviceID != "dev-other" {
		t.Fatalf("second=%+v", second)
	}
}

func TestTakeOver_ClaimsOwnership(t *testing.T) {
	ctx := context.Background()
	vault := t.TempDir()
	owner, _, _ := coordinatorAt(t, vault, "dev-owner", immediateOptions())
	other, store, _ := coordinatorAt(t, vault, "dev-other", immediateOptions())

	if err := owner.Publish(ctx, snapAt("b"), true); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := other.Acquire(ctx); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Acquire err=%v, want ErrNotOwner", err)
	}

	if err := other.TakeOver(ctx, snapAt("b")); err != nil {
		t.Fatalf("TakeOver: %v", err)
	}
	art, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if art.OwnerDeviceID != "dev-other" {
		t.Fatalf("owner=%s, want dev-other", art.OwnerDeviceID)
	}
	// The taker can now mutate.
	if err := other.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after takeover: %v", err)
	}
	// And the previous owner (within the fresh window) cannot.
	if err := owner.Acquire(ctx); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("old owner Acquire err=%v, want ErrNotOwner", err)
	}
}

func TestClear_RequiresOwnership(t *testing.T) {
	ctx := context.Background()
	vault := t.TempDir()
	owner, store, _ := coordinatorAt(t, vault, "dev-owner", immediateOptions())
	other, _, _ := coordinatorAt(t, vault, "dev-other", immediateOptions())

	if err := owner.Publish(ctx, snapAt("b"), true); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := other.Clear(ctx); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("non-owner Clear err=%v, want ErrNotOwner", err)
	}
	if err := owner.Clear(ctx); err != nil {
		t.Fatalf("owner Clear: %v", err)
	}
	if _, err := store.Read(); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("artifact survived Clear: %v", err)
	}
}

func TestPublish_DebouncesRapidWrites(t *testing.T) {
	ctx := context.Background()
	opts := DefaultOptions()
	opts.WriteDebounce = 20 * time.Millisecond
	c, store, _ := testCoordinator(t, "dev-1", opts)

	if err := c.Publish(ctx, snapAt("a"), false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := c.Publish(ctx, snapAt("b"), false); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Nothing on disk yet.
	if _, err := store.Read(); !errors.Is(err, ErrNoArtifact) {
		t.Fatalf("write not debounced: %v", err)
	}

	// One flush carries only the latest snapshot.
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	art, err := store.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if art.Session.CurrentNode != "b" || art.Version != 1 {
		t.Fatalf("artifact=%+v", art)
	}
}
