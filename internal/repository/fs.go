package repository

import (
	"fmt"
	"os"
	"path/filepath"
)

func (r *Repository) packagePath(name string) string {
	return filepath.Join(r.root, name)
}

func removeDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrPackageNotFound, filepath.Base(path))
	}
	return os.RemoveAll(path)
}
