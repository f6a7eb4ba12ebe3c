package utils

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// FindProjectRoot walks up from the working directory until it finds go.mod.
func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// LoadEnv loads the project .env when present, falling back to one in the
// working directory.
func LoadEnv() error {
	if root, err := FindProjectRoot(); err == nil {
		return godotenv.Load(filepath.Join(root, ".env"))
	}
	return godotenv.Load()
}
