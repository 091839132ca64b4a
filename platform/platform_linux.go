//go:build linux

package platform

import (
	"os"
	"path/filepath"
)

func getDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	return filepath.Join(UserHomeDir(), ".local", "share", AppName)
}
