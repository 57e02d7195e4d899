package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvironmentCacheLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const ip, port = "10.0.0.5", 9000

	require.NoError(t, s.InitEnvironment(ctx, ip, port))

	cached, err := s.InstalledCached(ctx, ip, port)
	require.NoError(t, err)
	require.False(t, cached)

	require.NoError(t, s.PutInstalledPackage(ctx, ip, port, "pkgA", `{"name":"pkgA"}`))
	require.NoError(t, s.SetInstalledCached(ctx, ip, port, true))

	cached, err = s.InstalledCached(ctx, ip, port)
	require.NoError(t, err)
	require.True(t, cached)

	pkgs, err := s.ListInstalledPackages(ctx, ip, port)
	require.NoError(t, err)
	require.Equal(t, []string{`{"name":"pkgA"}`}, pkgs)

	require.NoError(t, s.RemoveInstalledPackage(ctx, ip, port, "pkgA"))
	pkgs, err = s.ListInstalledPackages(ctx, ip, port)
	require.NoError(t, err)
	require.Empty(t, pkgs)

	require.NoError(t, s.ClearEnvironment(ctx, ip, port))
	cached, err = s.InstalledCached(ctx, ip, port)
	require.NoError(t, err)
	require.False(t, cached)
}

func TestRepositoryMirrorLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRepositoryEntry(ctx, "pkgA", `{"name":"pkgA"}`))
	require.NoError(t, s.PutRepositoryEntry(ctx, "pkgB", `{"name":"pkgB"}`))

	names, err := s.ListRepositoryNames(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"pkgA", "pkgB"}, names)

	entry, ok, err := s.GetRepositoryEntry(ctx, "pkgA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"name":"pkgA"}`, entry)

	entries, err := s.ListRepositoryEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, s.DeleteRepositoryEntry(ctx, "pkgA"))
	_, ok, err = s.GetRepositoryEntry(ctx, "pkgA")
	require.NoError(t, err)
	require.False(t, ok)
}
