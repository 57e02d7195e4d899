// Package cache wraps the shared Redis-compatible key/value store (C3):
// the package-repository manifest mirror, per-node installed-package
// state, and the reader/writer lock discipline that guards both.
package cache

import "fmt"

// EventsChannel is the single pub/sub channel registration/deregistration
// events are published to (spec.md §4.5.1).
const EventsChannel = "environments"

// RepositoryIndexKey is the sorted set of installed top-level package
// names, used for deterministic listing.
const RepositoryIndexKey = "repository_index"

// RepositoryMutexResource names the resource protected by the repository
// reader/writer lock.
const RepositoryMutexResource = "repository"

// RepositoryEntryKey returns the key holding a package's manifest JSON.
func RepositoryEntryKey(name string) string {
	return fmt.Sprintf("repository:%s", name)
}

// EnvironmentNamespace returns the key prefix for a node's per-session
// installed-package cache.
func EnvironmentNamespace(ip string, port int) string {
	return fmt.Sprintf("environments:%s:%d", ip, port)
}

// EnvironmentHashKey returns the hash key holding a node's
// installed_cached flag and installed:<package> manifest entries.
func EnvironmentHashKey(ip string, port int) string {
	return EnvironmentNamespace(ip, port)
}

// EnvironmentInstalledIndexKey returns the ordered-set key used to list a
// node's installed packages deterministically.
func EnvironmentInstalledIndexKey(ip string, port int) string {
	return EnvironmentNamespace(ip, port) + ":installed_index"
}

// EnvironmentMutexResource names the resource protected by a node's
// installed-package mutex (a plain cache.Mutex, not a reader/writer lock).
func EnvironmentMutexResource(ip string, port int) string {
	return EnvironmentNamespace(ip, port) + ":installed"
}

// InstalledCachedField is the hash field holding the "0"/"1" cache-primed
// flag.
const InstalledCachedField = "installed_cached"

// InstalledPackageField returns the hash field holding a single installed
// package's manifest JSON.
func InstalledPackageField(pkg string) string {
	return fmt.Sprintf("installed:%s", pkg)
}
