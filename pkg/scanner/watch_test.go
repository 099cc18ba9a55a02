package scanner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/reliquary/pkg/table"
	"github.com/docforge/reliquary/pkg/workdir"
)

// Watch needs a real directory: fsnotify watches kernel events, which the
// in-memory filesystem never emits.
func newWatchEnv(t *testing.T) (afero.Fs, workdir.Layout, *recordingProcessor, *Scanner) {
	t.Helper()
	fs := afero.NewOsFs()
	layout := workdir.NewLayout(t.TempDir())
	require.NoError(t, layout.Ensure(fs))
	proc := &recordingProcessor{failing: map[string]bool{}, fatal: map[string]bool{}}
	s := New(fs, layout, proc, nil)
	s.Debounce = 20 * time.Millisecond
	s.PollInterval = 50 * time.Millisecond
	return fs, layout, proc, s
}

func processedNames(proc *recordingProcessor) []string {
	var names []string
	for _, p := range proc.processed() {
		names = append(names, filepath.Base(p))
	}
	return names
}

func TestWatch(t *testing.T) {
	fs, layout, proc, s := newWatchEnv(t)

	// Already present before the watch starts; the catch-up pass owns it.
	require.NoError(t, afero.WriteFile(fs, filepath.Join(layout.InboxDir, "old.pdf"), []byte("old"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	require.Eventually(t, func() bool {
		return len(proc.processed()) == 1
	}, 5*time.Second, 10*time.Millisecond, "catch-up scan should process the pre-existing document")
	assert.Equal(t, []string{"old.pdf"}, processedNames(proc))

	// A new arrival written in several bursts; the debounce window should
	// coalesce the events and hand the file over once it settles.
	path := filepath.Join(layout.InboxDir, "new.pdf")
	require.NoError(t, afero.WriteFile(fs, path, []byte("part-1"), 0o644))
	require.NoError(t, afero.WriteFile(fs, path, []byte("part-1 part-2"), 0o644))

	require.Eventually(t, func() bool {
		for _, name := range processedNames(proc) {
			if name == "new.pdf" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "watcher should pick up the new document")

	// Non-candidates never reach the processor.
	require.NoError(t, afero.WriteFile(fs, filepath.Join(layout.InboxDir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(4 * s.Debounce)
	for _, name := range processedNames(proc) {
		assert.NotEqual(t, "notes.txt", name)
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchStopsOnWriteFailure(t *testing.T) {
	fs, layout, proc, s := newWatchEnv(t)
	proc.fatal["poison.pdf"] = true
	require.NoError(t, afero.WriteFile(fs, filepath.Join(layout.InboxDir, "poison.pdf"), []byte("x"), 0o644))

	// The catch-up scan hits the write failure and the watch refuses to run.
	err := s.Watch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, table.ErrWrite)
}

func TestPollLoop(t *testing.T) {
	t.Run("picks up late arrivals", func(t *testing.T) {
		fs, layout, proc, s := newScanEnv(t)
		s.PollInterval = 10 * time.Millisecond

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- s.pollLoop(ctx) }()

		require.NoError(t, afero.WriteFile(fs, filepath.Join(layout.InboxDir, "late.pdf"), []byte("x"), 0o644))
		require.Eventually(t, func() bool {
			return len(proc.processed()) >= 1
		}, 5*time.Second, 5*time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("stops on write failure", func(t *testing.T) {
		fs, layout, proc, s := newScanEnv(t)
		s.PollInterval = 10 * time.Millisecond
		proc.fatal["poison.pdf"] = true
		require.NoError(t, afero.WriteFile(fs, filepath.Join(layout.InboxDir, "poison.pdf"), []byte("x"), 0o644))

		done := make(chan error, 1)
		go func() { done <- s.pollLoop(context.Background()) }()

		select {
		case err := <-done:
			require.Error(t, err)
			assert.ErrorIs(t, err, table.ErrWrite)
		case <-time.After(5 * time.Second):
			t.Fatal("poll loop did not stop on the write failure")
		}
	})
}
