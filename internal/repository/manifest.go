// Package repository is the filesystem-backed catalog of top-level test
// packages (C4): manifest descriptors, gzipped-tar packaging/unpackaging,
// and validation of the package.json structural invariants.
package repository

import (
	"encoding/json"
	"fmt"
)

// TestSet is one "test set" class declared by a module: a name plus the
// names of its individual tests.
type TestSet struct {
	Name  string   `json:"name"`
	Tests []string `json:"tests"`
}

// Module is one source file within a package, contributing zero or more
// test sets.
type Module struct {
	Name     string    `json:"name"`
	TestSets []TestSet `json:"test_sets,omitempty"`
}

// Manifest is the structured description of one top-level (or nested)
// package: spec.md §3 "Repository entry".
type Manifest struct {
	Name        string     `json:"name"`
	Modules     []Module   `json:"modules,omitempty"`
	Subpackages []Manifest `json:"subpackages,omitempty"`
}

// descriptor is the on-disk package.json shape. It differs from Manifest
// only in that "name" there is advisory (the directory's base name is
// authoritative) and subpackages are not listed — they're discovered by
// walking child directories, same as the original's iter_modules walk.
type descriptor struct {
	Name    string   `json:"name"`
	Modules []Module `json:"modules,omitempty"`
}

// marshalManifest serialises a manifest the same way it is cached in
// repository:<name> (spec.md §4.4).
func marshalManifest(m Manifest) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("repository: marshal manifest: %w", err)
	}
	return string(b), nil
}

// unmarshalManifest parses a cached manifest JSON string.
func unmarshalManifest(s string) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Manifest{}, fmt.Errorf("repository: unmarshal manifest: %w", err)
	}
	return m, nil
}

// validate enforces the module-level part of the contribution rule the
// original introspection applied implicitly: it rejects a module with no
// test sets and a test set with no tests, in the package and in every
// subpackage. A package with no modules is not rejected.
func validate(m Manifest) error {
	for _, mod := range m.Modules {
		if len(mod.TestSets) == 0 {
			return fmt.Errorf("repository: module %q has no test sets", mod.Name)
		}
		for _, ts := range mod.TestSets {
			if len(ts.Tests) == 0 {
				return fmt.Errorf("repository: test set %q in module %q has no tests", ts.Name, mod.Name)
			}
		}
	}
	for _, sub := range m.Subpackages {
		if err := validate(sub); err != nil {
			return err
		}
	}
	return nil
}
