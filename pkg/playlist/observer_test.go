package playlist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === ТЕСТЫ НАБЛЮДАТЕЛЯ ===

func TestObserver_ReportsActivePlaylists(t *testing.T) {
	dir := t.TempDir()
	found := make(chan Info, 8)
	o := NewObserver(dir, func(info Info) { found <- info }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// watcher регистрируется асинхронно
	time.Sleep(200 * time.Millisecond)

	now := time.Now()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	writePlaylist(t, dir, activeInfo(1, now.Add(-10*time.Hour)), "")

	staging := t.TempDir()
	info := activeInfo(2, now.Add(-time.Hour))
	staged := writePlaylist(t, staging, info, "")
	target := filepath.Join(dir, info.FileName())
	require.NoError(t, os.Rename(staged, target), "плейлист перемещается в каталог целиком")

	select {
	case got := <-found:
		assert.Equal(t, target, got.Path)
		assert.Equal(t, 2, got.Priority)
		assert.Equal(t, filepath.Base(dir), got.Group)
	case <-time.After(3 * time.Second):
		t.Fatal("плейлист не обнаружен")
	}

	select {
	case extra := <-found:
		t.Fatalf("лишнее уведомление: %s", extra.Path)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestObserver_MissingDirectoryRetries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "later")
	found := make(chan Info, 1)
	o := NewObserver(dir, func(info Info) { found <- info }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "отмена во время паузы перезапуска")
	case <-time.After(2 * time.Second):
		t.Fatal("Run не завершился после отмены")
	}
}
