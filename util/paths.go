package util

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
func GetDataDir() string {
	if envDir := os.Getenv("XIAOWEAR_DIR"); envDir != "" {
		return envDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	return filepath.Join(home, ".xiaowear-data")
}

// GetDeviceCacheDir returns the cache directory for a specific paired device
func GetDeviceCacheDir(deviceID string) string {
	return filepath.Join(GetDataDir(), deviceID)
}
