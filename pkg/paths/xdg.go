// Package paths provides XDG-compliant path resolution for Mercure.
//
// Resolution order:
// 1. MERCURE_HOME (portable root) → $MERCURE_HOME/{config,state,cache}
// 2. XDG env vars → $XDG_*_HOME/mercure
// 3. Platform defaults → ~/.config/mercure, ~/.local/state/mercure, etc.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "mercure"

// home resolves one XDG base directory.
func home(portableSub, xdgVar string, fallback ...string) string {
	if mercureHome := os.Getenv("MERCURE_HOME"); mercureHome != "" {
		return filepath.Join(mercureHome, portableSub)
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return dir
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(append([]string{homeDir}, fallback...)...)
	}
	return ""
}

func appDir(base string) string {
	if base == "" {
		return ""
	}
	// MERCURE_HOME subdirectories are already application-scoped.
	if os.Getenv("MERCURE_HOME") != "" {
		return base
	}
	return filepath.Join(base, appName)
}

// ConfigDir returns the Mercure configuration directory.
// Used for the global mercure.yml.
func ConfigDir() string {
	return appDir(home("config", "XDG_CONFIG_HOME", ".config"))
}

// StateDir returns the Mercure state directory.
// Used for the persisted session and logs.
func StateDir() string {
	return appDir(home("state", "XDG_STATE_HOME", ".local", "state"))
}

// CacheDir returns the Mercure cache directory.
func CacheDir() string {
	return appDir(home("cache", "XDG_CACHE_HOME", ".cache"))
}

// SessionFilePath returns the default location of the persisted session.
func SessionFilePath() string {
	return filepath.Join(StateDir(), "session.yml")
}

// LogDir returns the directory for the default log file sink.
func LogDir() string {
	return filepath.Join(StateDir(), "logs")
}

// EnsureDirs creates all Mercure directories if they don't exist.
func EnsureDirs() error {
	for _, dir := range []string{ConfigDir(), StateDir(), CacheDir()} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
