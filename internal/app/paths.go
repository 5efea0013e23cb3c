package app

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateSessionName checks that name conforms to session naming rules.
func ValidateSessionName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// BaseDir returns ~/.zylo.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zylo")
}

// SessionDir returns the session-specific directory.
func SessionDir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// ExclusionDBPath returns the deleted-messages database path.
func ExclusionDBPath(name string) string {
	return filepath.Join(SessionDir(name), "exclusion.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(SessionDir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "zylod.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureSessionDir creates the session directory tree with proper permissions.
func EnsureSessionDir(name string) error {
	dirs := []string{
		SessionDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
