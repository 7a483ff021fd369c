// Package xdg provides XDG Base Directory Specification compliant paths
package xdg

import (
	"os"
	"path/filepath"
)

const appDirName = "appmanager"

// ConfigDir returns the XDG config directory for appmanager
// Priority: XDG_CONFIG_HOME > ~/.config/appmanager
func ConfigDir() (string, error) {
	return resolve("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for appmanager
// Priority: XDG_DATA_HOME > ~/.local/share/appmanager
func DataDir() (string, error) {
	return resolve("XDG_DATA_HOME", ".local", "share")
}

// DatabasePath returns the default location of the state database.
func DatabasePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "appmanager.db"), nil
}

// ConfigFile returns the default location of config.toml.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func resolve(env string, fallback ...string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appDirName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	parts := append([]string{homeDir}, fallback...)
	return filepath.Join(append(parts, appDirName)...), nil
}
