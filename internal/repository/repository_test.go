package repository

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/secchiware/coordinator/internal/cache"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *cache.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.New(client)
}

func writePackage(t *testing.T, root, name string, descriptor string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DescriptorFile), []byte(descriptor), 0o644))
}

const samplePkgJSON = `{
	"name": "pkgA",
	"modules": [
		{"name": "mod1", "test_sets": [{"name": "SomeTestSet", "tests": ["test_one", "test_two"]}]}
	]
}`

func TestLoadManifest(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "pkgA", samplePkgJSON)

	m, err := Load(filepath.Join(root, "pkgA"))
	require.NoError(t, err)
	require.Equal(t, "pkgA", m.Name)
	require.Len(t, m.Modules, 1)
	require.Equal(t, "mod1", m.Modules[0].Name)
	require.Len(t, m.Modules[0].TestSets, 1)
	require.Equal(t, []string{"test_one", "test_two"}, m.Modules[0].TestSets[0].Tests)
}

func TestLoadManifestRejectsEmptyTestSet(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "pkgB", `{"name":"pkgB","modules":[{"name":"mod1","test_sets":[{"name":"Empty","tests":[]}]}]}`)

	_, err := Load(filepath.Join(root, "pkgB"))
	require.ErrorIs(t, err, ErrInvalidManifest)
}

func TestLoadManifestRecursesSubpackages(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "pkgA", samplePkgJSON)
	writePackage(t, root, filepath.Join("pkgA", "sub"), `{"name":"sub","modules":[{"name":"m2","test_sets":[{"name":"TS","tests":["t"]}]}]}`)

	m, err := Load(filepath.Join(root, "pkgA"))
	require.NoError(t, err)
	require.Len(t, m.Subpackages, 1)
	require.Equal(t, "sub", m.Subpackages[0].Name)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	srcRoot := t.TempDir()
	writePackage(t, srcRoot, "pkgA", samplePkgJSON)
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "pkgA", "pycache_sentinel.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "pkgA", "__pycache__"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "pkgA", "__pycache__", "junk.pyc"), []byte("y"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, srcRoot, []string{"pkgA"}))

	dstRoot := t.TempDir()
	written, err := Unpack(&buf, dstRoot)
	require.NoError(t, err)
	require.Equal(t, []string{"pkgA"}, written)

	require.True(t, IsPackageDir(filepath.Join(dstRoot, "pkgA")))
	require.NoFileExists(t, filepath.Join(dstRoot, "pkgA", "__pycache__", "junk.pyc"))

	m, err := Load(filepath.Join(dstRoot, "pkgA"))
	require.NoError(t, err)
	require.Equal(t, "pkgA", m.Name)
}

func TestPackRejectsNonTopLevelName(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "pkgA", samplePkgJSON)

	var buf bytes.Buffer
	err := Pack(&buf, root, []string{"pkgA/sub"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPackRejectsMissingPackage(t *testing.T) {
	root := t.TempDir()
	var buf bytes.Buffer
	err := Pack(&buf, root, []string{"doesnotexist"})
	require.ErrorIs(t, err, ErrPackageNotFound)
}

func TestUnpackRejectsArchiveWithoutDescriptor(t *testing.T) {
	srcRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(srcRoot, "badPkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcRoot, "badPkg", "file.txt"), []byte("x"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, srcRoot, []string{"badPkg"}))

	dstRoot := t.TempDir()
	_, err := Unpack(&buf, dstRoot)
	require.ErrorIs(t, err, ErrInvalidArchive)
}

func TestRepositoryInstallListRemove(t *testing.T) {
	root := t.TempDir()
	store := newTestCache(t)
	repo := New(root, store, time.Second, time.Second, 10*time.Millisecond)

	srcRoot := t.TempDir()
	writePackage(t, srcRoot, "pkgA", samplePkgJSON)
	var buf bytes.Buffer
	require.NoError(t, Pack(&buf, srcRoot, []string{"pkgA"}))

	ctx := context.Background()
	touched, err := repo.Install(ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, []string{"pkgA"}, touched)

	available, err := repo.ListAvailable(ctx)
	require.NoError(t, err)
	require.Len(t, available, 1)

	manifestJSON, ok, err := repo.ManifestFor(ctx, "pkgA")
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, manifestJSON, "pkgA")

	archived, err := repo.Archive(ctx, []string{"pkgA"})
	require.NoError(t, err)
	require.NotEmpty(t, archived)

	require.NoError(t, repo.Remove(ctx, "pkgA"))
	available, err = repo.ListAvailable(ctx)
	require.NoError(t, err)
	require.Empty(t, available)
}
