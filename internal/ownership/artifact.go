// Package ownership coordinates which device may mutate a shared session.
//
// One JSON artifact lives at a well-known path inside the synced vault.
// Ownership is an advisory, time-windowed lease: correctness rests on
// freshness checks and cooperative clients, not a real lock.
package ownership

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/calderf/branchline/internal/nav"
)

// ErrNoArtifact means nothing exists at the well-known location. Distinct
// from a read or parse failure on an existing artifact: "no lease present"
// and "lease unreadable" must not be confused.
var ErrNoArtifact = errors.New("no shared session artifact")

// ErrNotOwner means another device holds a fresh claim.
var ErrNotOwner = errors.New("session owned by another device")

// Artifact is the shared snapshot: the session plus lease metadata. It is
// rewritten wholesale on every persist.
type Artifact struct {
	Session           nav.Snapshot `json:"session"`
	OwnerDeviceID     string       `json:"ownerDeviceId"`
	UpdatedAtMs       int64        `json:"updatedAtMs"`
	UpdatedByDeviceID string       `json:"updatedByDeviceId"`
	// Version increases monotonically with every write so observers can
	// detect updates without comparing clocks.
	Version uint64 `json:"version"`
	// Digest is the blake3 hash of the artifact with this field empty.
	Digest string `json:"digest,omitempty"`
}

func (a *Artifact) computeDigest() (string, error) {
	clone := *a
	clone.Digest = ""
	raw, err := json.Marshal(&clone)
	if err != nil {
		return "", fmt.Errorf("encode artifact: %w", err)
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Store reads and writes the shared artifact.
type Store interface {
	Read() (*Artifact, error)
	Write(a *Artifact) error
	Remove() error
}

// FileStore keeps the artifact as one JSON file, written atomically via a
// temp file and rename so observers never see a torn write.
type FileStore struct {
	Path string
}

// NewFileStore returns a store at the conventional vault location.
func NewFileStore(vault string) *FileStore {
	return &FileStore{Path: filepath.Join(vault, ".branchline", "session.json")}
}

// Read loads and verifies the artifact. A missing file is ErrNoArtifact;
// anything else that goes wrong on an existing file is a distinct error.
func (s *FileStore) Read() (*Artifact, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoArtifact
		}
		return nil, fmt.Errorf("read session artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse session artifact: %w", err)
	}
	if a.Digest != "" {
		want, err := a.computeDigest()
		if err != nil {
			return nil, err
		}
		if a.Digest != want {
			return nil, fmt.Errorf("session artifact digest mismatch")
		}
	}
	return &a, nil
}

// Write persists the artifact atomically, stamping its digest.
func (s *FileStore) Write(a *Artifact) error {
	digest, err := a.computeDigest()
	if err != nil {
		return err
	}
	a.Digest = digest

	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session artifact: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.json")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace session artifact: %w", err)
	}
	return nil
}

// Remove deletes the artifact. Already gone is fine.
func (s *FileStore) Remove() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session artifact: %w", err)
	}
	return nil
}
