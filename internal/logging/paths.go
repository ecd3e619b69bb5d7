package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir is ~/.pampax/logs, falling back to the temp dir when
// the home directory cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".pampax", "logs")
	}
	return filepath.Join(home, ".pampax", "logs")
}

// DefaultLogPath is the server log file inside DefaultLogDir.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "pampax.log")
}
