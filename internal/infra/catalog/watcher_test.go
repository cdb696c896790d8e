package catalog

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentflow/internal/domain"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeTempConfig(t, "agentflow.yaml", "runner:\n  maxToolRounds: 2\n")

	reloaded := make(chan domain.Config, 4)
	watcher := NewWatcher(WatcherOptions{
		Path:     path,
		Loader:   newTestLoader(nil),
		Debounce: 20 * time.Millisecond,
		Logger:   zap.NewNop(),
		OnReload: func(_ context.Context, cfg domain.Config) {
			reloaded <- cfg
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watcher.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("runner:\n  maxToolRounds: 7\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("runner:\n  maxToolRounds: 7\n"), 0o600))

	select {
	case cfg := <-reloaded:
		require.Equal(t, 7, cfg.Runner.MaxToolRounds)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatcher_InvalidConfigIsSkipped(t *testing.T) {
	path := writeTempConfig(t, "agentflow.yaml", "runner:\n  maxToolRounds: 2\n")
	calls := 0
	watcher := NewWatcher(WatcherOptions{
		Path:     path,
		Loader:   newTestLoader(nil),
		OnReload: func(context.Context, domain.Config) { calls++ },
	})

	require.NoError(t, os.WriteFile(path, []byte("runner:\n  maxToolRounds: 0\n"), 0o600))
	watcher.reload(context.Background())
	require.Zero(t, calls)

	require.NoError(t, os.WriteFile(path, []byte("runner:\n  maxToolRounds: 4\n"), 0o600))
	watcher.reload(context.Background())
	require.Equal(t, 1, calls)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	watcher := NewWatcher(WatcherOptions{Path: "/nonexistent/dir/agentflow.yaml"})
	require.Error(t, watcher.Run(context.Background()))
}
