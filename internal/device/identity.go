// Package device manages this installation's durable identity.
package device

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

const idFile = "device.id"

// Identity loads the device id from dataDir, generating and persisting a
// fresh one on first run. The id never leaves the machine except as the
// owner/updater fields on the shared session artifact.
func Identity(dataDir string) (string, error) {
	path := filepath.Join(dataDir, idFile)
	raw, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(raw))
		if id != "" {
			return id, nil
		}
		// Empty file: fall through and regenerate.
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id := ulid.Make().String()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write device id: %w", err)
	}
	return id, nil
}
