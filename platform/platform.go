// Package platform resolves per-OS locations for photomaxx's data.
package platform

import "os"

// AppName is used for directory names on Linux and as a fallback elsewhere.
const AppName = "photomaxx"

// AppDisplayName is used for directory names on macOS and Windows.
const AppDisplayName = "Photomaxx"

// GetDataDir returns the directory holding config.json, the database and
// the uploads/outputs tree.
// Windows: %APPDATA%\Photomaxx
// macOS:   ~/Library/Application Support/Photomaxx
// Linux:   $XDG_DATA_HOME/photomaxx or ~/.local/share/photomaxx
func GetDataDir() string {
	return getDataDir()
}

// UserHomeDir returns the user's home directory, or "." when unknown.
func UserHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
