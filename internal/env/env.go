package env

import (
	"os"
	"path/filepath"
)

// ConfigFile is the name of the per-user configuration file.
const ConfigFile = "extender.yml"

// ConfigDir returns the per-user configuration directory of extender.
func ConfigDir() (string, error) {
	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userConfigDir, "extender"), nil
}

// DefaultConfigPath returns the configuration file used when none is given.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFile), nil
}
