package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestResolvePath(t *testing.T) {
	home := setupTestHome(t)

	got, err := ResolvePath("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "mindpalace", "config.yaml"), got)

	got, err = ResolvePath("/etc/mindpalace/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/mindpalace/config.yaml", got)
}

func TestWatcher_ReportsChangesToConfigFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "ai:\n  api_key: old-key\n", 0600)

	w, err := NewWatcher(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	changed := make(chan struct{}, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx, func() { changed <- struct{}{} }))

	// Files next to the config do not count.
	other := filepath.Join(filepath.Dir(path), "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0600))

	require.NoError(t, os.WriteFile(path, []byte("ai:\n  api_key: new-key\n"), 0600))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported for config file write")
	}

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new-key", cfg.AI.APIKey.Value())
}

func TestWatcher_ReportsReplacedFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "ai:\n  api_key: old-key\n", 0600)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	changed := make(chan struct{}, 16)
	require.NoError(t, w.Start(context.Background(), func() { changed <- struct{}{} }))

	tmp := filepath.Join(filepath.Dir(path), "config.yaml.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("ai:\n  api_key: new-key\n"), 0600))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported for replaced config file")
	}
}

func TestWatcher_StartFailsForMissingDir(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "absent", "config.yaml"), nil)
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	assert.Error(t, w.Start(context.Background(), func() {}))
}

func TestWatcher_StopTwice(t *testing.T) {
	w, err := NewWatcher(filepath.Join(t.TempDir(), "config.yaml"), nil)
	require.NoError(t, err)
	w.Stop()
	assert.NotPanics(t, w.Stop)
}
