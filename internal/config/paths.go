package config

import (
	"os"
	"path/filepath"
)

// ForemanPath returns the root directory for foreman data.
// It uses $FOREMAN_PATH if set, otherwise defaults to ~/.foreman.
func ForemanPath() string {
	if v := os.Getenv("FOREMAN_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".foreman")
	}
	return filepath.Join(home, ".foreman")
}

// ConfigPath returns the path to the foreman config file.
func ConfigPath() string {
	return filepath.Join(ForemanPath(), "config.jsonc")
}

// DotenvPath returns the path to the foreman .env file.
func DotenvPath() string {
	return filepath.Join(ForemanPath(), ".env")
}
