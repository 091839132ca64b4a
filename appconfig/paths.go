package appconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideDataDir is returned by SafeJoin for paths escaping the data dir.
var ErrOutsideDataDir = errors.New("path escapes data directory")

// UploadsDir holds imported originals.
func (c Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// OutputsDir holds rendered and saved attempts.
func (c Config) OutputsDir() string {
	return filepath.Join(c.DataDir, "outputs")
}

// EnsureDataDirs creates the uploads and outputs directories.
func (c Config) EnsureDataDirs() error {
	for _, dir := range []string{c.UploadsDir(), c.OutputsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// SafeJoin resolves a slash-separated relative path (as stored in the
// database) under the data directory.
func (c Config) SafeJoin(parts ...string) (string, error) {
	root, err := filepath.Abs(c.DataDir)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(append([]string{root}, parts...)...)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDataDir, filepath.Join(parts...))
	}
	return abs, nil
}
