package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DescriptorFile is the marker file identifying a directory as a package,
// replacing the original's `__init__.py` (spec.md §4.4, SPEC_FULL §5.1).
const DescriptorFile = "package.json"

// ErrNotAPackage is returned when a directory lacks a package.json marker.
var ErrNotAPackage = errors.New("repository: not a package (missing package.json)")

// ErrInvalidManifest wraps a structural validation failure (empty module
// or test set).
var ErrInvalidManifest = errors.New("repository: invalid manifest")

// Load walks dir and builds its Manifest from package.json descriptors,
// recursing into any immediate child directory that is itself a package.
// Grounded on common/test_utils.py's get_installed_package, with
// "import + inspect" replaced by "read package.json" per SPEC_FULL §5.1.
func Load(dir string) (Manifest, error) {
	descPath := filepath.Join(dir, DescriptorFile)
	raw, err := os.ReadFile(descPath)
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, ErrNotAPackage
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("repository: read %s: %w", descPath, err)
	}

	var desc descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return Manifest{}, fmt.Errorf("repository: parse %s: %w", descPath, err)
	}

	m := Manifest{
		Name:    filepath.Base(dir),
		Modules: desc.Modules,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Manifest{}, fmt.Errorf("repository: read dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == "__pycache__" {
			continue
		}
		childDir := filepath.Join(dir, e.Name())
		sub, err := Load(childDir)
		if errors.Is(err, ErrNotAPackage) {
			continue
		}
		if err != nil {
			return Manifest{}, err
		}
		m.Subpackages = append(m.Subpackages, sub)
	}

	if err := validate(m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %s", ErrInvalidManifest, err)
	}

	return m, nil
}

// IsPackageDir reports whether dir contains a package.json marker.
func IsPackageDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, DescriptorFile))
	return err == nil
}
