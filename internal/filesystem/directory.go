package filesystem

import (
	"errors"
	"fmt"
	"os"
)

var ErrExists = errors.New("already exists")

// CreateDirectory creates a new directory with the specified mode. It fails
// if the path already exists.
func CreateDirectory(path string, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("directory %s: %w", path, ErrExists)
	}
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// DeleteDirectory removes a directory at the specified path.
func DeleteDirectory(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("directory %s does not exist", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete directory: %w", err)
	}
	return nil
}

// IsDirectory reports whether path exists and is a directory.
func IsDirectory(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
