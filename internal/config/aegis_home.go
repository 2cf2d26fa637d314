package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetAegisHome returns the aegis home directory
// Priority order:
//  1. AEGIS_HOME environment variable (if set)
//  2. .aegis under the current working directory
//
// The directory is created if it doesn't exist
func GetAegisHome() (string, error) {
	home := os.Getenv("AEGIS_HOME")
	if home == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get working directory: %w", err)
		}
		home = filepath.Join(cwd, ".aegis")
	}

	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create aegis home directory: %w", err)
	}
	return home, nil
}

// GetLockDir returns the directory holding knowledge owner locks
func GetLockDir() (string, error) {
	home, err := GetAegisHome()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "locks"), nil
}
