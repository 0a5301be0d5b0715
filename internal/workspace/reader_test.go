package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderelay/coderelay/pkg/types"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestListingFiltersIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "internal/api/api.go", "package api")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")
	writeFile(t, root, "node_modules/pkg/index.js", "x")
	writeFile(t, root, "notes.lock", "x")

	r := NewReader(root, types.WorkspaceConfig{})
	paths, err := r.Listing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/api/api.go", "main.go"}, paths)
}

func TestListingHonorsExtraIgnoreAndCap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "a")
	writeFile(t, root, "b.txt", "b")
	writeFile(t, root, "secret/key.pem", "k")

	r := NewReader(root, types.WorkspaceConfig{Ignore: []string{"secret/**"}, MaxListing: 1})
	paths, err := r.Listing(context.Background())
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestReadFileBoundedAndRooted(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.txt", "0123456789")

	r := NewReader(root, types.WorkspaceConfig{MaxFileBytes: 4})
	content, err := r.ReadFile(context.Background(), "big.txt")
	require.NoError(t, err)
	assert.Equal(t, "0123", content)

	_, err = r.ReadFile(context.Background(), "../outside.txt")
	assert.Error(t, err)

	_, err = r.ReadFile(context.Background(), "missing.txt")
	assert.Error(t, err)
}

func TestBuildContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "README.md", "# demo")

	r := NewReader(root, types.WorkspaceConfig{})

	empty, err := r.BuildContext(context.Background(), types.ContextOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty)

	out, err := r.BuildContext(context.Background(), types.ContextOptions{
		IncludeWorkspace: true,
		Files:            []string{"main.go"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Workspace files:")
	assert.Contains(t, out, "README.md")
	assert.Contains(t, out, "File main.go:")
	assert.Contains(t, out, "package main")

	_, err = r.BuildContext(context.Background(), types.ContextOptions{Files: []string{"missing.go"}})
	assert.Error(t, err)
}

func TestTrackerRecordsChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "existing.txt", "before")

	r := NewReader(root, types.WorkspaceConfig{})
	tracker, err := NewTracker(root, r.Ignored)
	require.NoError(t, err)
	require.NotNil(t, tracker)

	writeFile(t, root, "existing.txt", "after")
	writeFile(t, root, "created.txt", "new")

	// Give fsnotify a moment to deliver before stopping.
	time.Sleep(200 * time.Millisecond)
	changed := tracker.Stop()
	assert.Contains(t, changed, "existing.txt")
	assert.Contains(t, changed, "created.txt")
}

func TestTrackerFiltersIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	r := NewReader(root, types.WorkspaceConfig{})

	tracker := &Tracker{
		root:    root,
		ignored: r.Ignored,
		changed: make(map[string]struct{}),
	}

	tracker.record(filepath.Join(root, ".git", "HEAD"))
	tracker.record(filepath.Join(root, "node_modules", "pkg", "index.js"))
	tracker.record(filepath.Join(root, "deps.lock"))
	tracker.record(filepath.Join(root, "main.go"))

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Equal(t, map[string]struct{}{"main.go": {}}, tracker.changed)
}
