package config

import (
	"os"
	"path/filepath"
)

// StewardPath returns the root directory for Steward data.
// It uses $STEWARD_PATH if set, otherwise defaults to ~/.steward.
func StewardPath() string {
	if v := os.Getenv("STEWARD_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".steward")
	}
	return filepath.Join(home, ".steward")
}

// ConfigPath returns the path to the Steward config file.
func ConfigPath() string {
	return filepath.Join(StewardPath(), "config.jsonc")
}

// DotenvPath returns the path to the Steward .env file.
func DotenvPath() string {
	return filepath.Join(StewardPath(), ".env")
}

// DatabasePath returns the default path of the task database.
func DatabasePath() string {
	return filepath.Join(StewardPath(), "steward.db")
}

// PermissionsPath returns the default path of the permission rule document.
func PermissionsPath() string {
	return filepath.Join(StewardPath(), "permissions.yaml")
}

// LogsPath returns the directory holding per-task event logs.
func LogsPath() string {
	return filepath.Join(StewardPath(), "logs")
}
