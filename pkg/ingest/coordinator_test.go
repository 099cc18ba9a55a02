package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge/reliquary/pkg/dedup"
	"github.com/docforge/reliquary/pkg/table"
	"github.com/docforge/reliquary/pkg/workdir"
)

// stubExtractor writes fixed files into the destination directory, standing
// in for mutool.
type stubExtractor struct {
	fs    afero.Fs
	files map[string]string // relative path -> content

	mu      sync.Mutex
	calls   int
	started chan struct{} // closed when the first call begins, if set
	release chan struct{} // blocks the call until closed, if set
	err     error
}

func (e *stubExtractor) Extract(ctx context.Context, docPath, destDir string) error {
	e.mu.Lock()
	e.calls++
	first := e.calls == 1
	e.mu.Unlock()

	if first && e.started != nil {
		close(e.started)
	}
	if e.release != nil {
		<-e.release
	}
	if e.err != nil {
		return e.err
	}
	for rel, content := range e.files {
		full := filepath.Join(destDir, rel)
		if err := e.fs.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := afero.WriteFile(e.fs, full, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (e *stubExtractor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type env struct {
	fs        afero.Fs
	layout    workdir.Layout
	tables    *table.Set
	blobs     *dedup.Store
	extractor *stubExtractor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs := afero.NewMemMapFs()
	layout := workdir.NewLayout("/work")
	require.NoError(t, layout.Ensure(fs))

	tables := table.NewSet(fs, layout.MainTablePath, layout.LedgerPath, layout.CountPath, nil)
	require.NoError(t, tables.Init())

	return &env{
		fs:     fs,
		layout: layout,
		tables: tables,
		blobs:  dedup.NewStore(fs, layout.BlobsDir, nil),
		extractor: &stubExtractor{
			fs: fs,
			files: map[string]string{
				"image-0001.png": "png-bytes",
				"font-0002.ttf":  "ttf-bytes",
			},
		},
	}
}

func (e *env) coordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	base := []Option{
		WithFs(e.fs),
		WithExtractor(e.extractor),
		WithQuiescence(2, time.Millisecond),
	}
	c, err := New(e.layout, e.tables, e.blobs, append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func (e *env) addDocument(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.layout.InboxDir, name)
	require.NoError(t, afero.WriteFile(e.fs, path, []byte(content), 0o644))
	return path
}

func (e *env) mainRows(t *testing.T) []string {
	t.Helper()
	data, err := afero.ReadFile(e.fs, e.layout.MainTablePath)
	require.NoError(t, err)
	var rows []string
	for i, line := range splitLines(string(data)) {
		if i == 0 || line == "" {
			continue
		}
		rows = append(rows, line)
	}
	return rows
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func TestProcessDone(t *testing.T) {
	e := newEnv(t)
	c := e.coordinator(t)
	path := e.addDocument(t, "MCRO_2024-001_Order_2024-05-01_x.pdf", "doc-bytes")

	res, err := c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 2, res.Rows)

	// One row per object, carrying the filing attributes from the name.
	rows := e.mainRows(t)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Contains(t, row, "2024-001\tOrder\t2024-05-01")
		assert.Contains(t, row, "MCRO_2024-001_Order_2024-05-01_x.pdf")
	}

	// Ledger records the document, stamp matches, guard was released.
	ok, err := e.tables.HasLedgerEntry(res.SHA256)
	require.NoError(t, err)
	assert.True(t, ok)

	stamp, err := afero.ReadFile(e.fs, e.layout.StampPath("MCRO_2024-001_Order_2024-05-01_x.pdf"))
	require.NoError(t, err)
	assert.Equal(t, res.SHA256+"\n", string(stamp))

	held, err := afero.Exists(e.fs, e.layout.GuardPath(res.SHA256))
	require.NoError(t, err)
	assert.False(t, held)

	// Blobs landed for both objects.
	entries, err := afero.ReadDir(e.fs, e.layout.BlobsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	// Projection reflects the hash column.
	data, err := afero.ReadFile(e.fs, e.layout.CountPath)
	require.NoError(t, err)
	assert.Len(t, splitLines(string(data)), 2)
}

func TestProcessExactlyOnce(t *testing.T) {
	t.Run("same path twice", func(t *testing.T) {
		e := newEnv(t)
		c := e.coordinator(t)
		path := e.addDocument(t, "doc.pdf", "doc-bytes")

		res, err := c.Process(context.Background(), path)
		require.NoError(t, err)
		require.Equal(t, OutcomeDone, res.Outcome)

		res, err = c.Process(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkippedProcessed, res.Outcome)

		assert.Len(t, e.mainRows(t), 2)
		assert.Equal(t, 1, e.extractor.callCount())
	})

	t.Run("same content under a different name", func(t *testing.T) {
		e := newEnv(t)
		c := e.coordinator(t)
		first := e.addDocument(t, "doc.pdf", "doc-bytes")
		second := e.addDocument(t, "renamed.pdf", "doc-bytes")

		res, err := c.Process(context.Background(), first)
		require.NoError(t, err)
		require.Equal(t, OutcomeDone, res.Outcome)

		res, err = c.Process(context.Background(), second)
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkippedProcessed, res.Outcome)

		hashes, err := e.tables.ProcessedHashes()
		require.NoError(t, err)
		assert.Len(t, hashes, 1)
		assert.Equal(t, 1, e.extractor.callCount())
	})
}

func TestProcessStampReconciliation(t *testing.T) {
	e := newEnv(t)
	c := e.coordinator(t)
	path := e.addDocument(t, "doc.pdf", "doc-bytes")

	res, err := c.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, OutcomeDone, res.Outcome)
	sha := res.SHA256

	// Simulate a crash that wrote the stamp but lost the ledger entry.
	require.NoError(t, afero.WriteFile(e.fs, e.layout.LedgerPath, nil, 0o644))

	res, err = c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedStampReconciled, res.Outcome)

	// Ledger healed without re-extracting.
	ok, err := e.tables.HasLedgerEntry(sha)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, e.extractor.callCount())
	assert.Len(t, e.mainRows(t), 2)
}

func TestStampReconciliationHoldsGuard(t *testing.T) {
	e := newEnv(t)
	c := e.coordinator(t)
	path := e.addDocument(t, "doc.pdf", "doc-bytes")

	res, err := c.Process(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, OutcomeDone, res.Outcome)
	sha := res.SHA256

	// Crash window: stamp written, ledger entry lost.
	require.NoError(t, afero.WriteFile(e.fs, e.layout.LedgerPath, nil, 0o644))

	// While another worker owns the hash, reconciliation must not append.
	fresh := time.Now().UTC().Format(time.RFC3339)
	require.NoError(t, afero.WriteFile(e.fs, e.layout.GuardPath(sha), []byte(fresh+"\n"), 0o644))

	res, err = c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedInFlight, res.Outcome)
	ok, err := e.tables.HasLedgerEntry(sha)
	require.NoError(t, err)
	assert.False(t, ok)

	// Once the guard is free, reconciliation writes exactly one entry and
	// releases the guard behind itself.
	require.NoError(t, e.fs.Remove(e.layout.GuardPath(sha)))
	res, err = c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedStampReconciled, res.Outcome)

	data, err := afero.ReadFile(e.fs, e.layout.LedgerPath)
	require.NoError(t, err)
	assert.Len(t, splitLines(string(data)), 1)
	held, err := afero.Exists(e.fs, e.layout.GuardPath(sha))
	require.NoError(t, err)
	assert.False(t, held)
	assert.Equal(t, 1, e.extractor.callCount())
}

func TestProcessConcurrentAdmission(t *testing.T) {
	e := newEnv(t)
	e.extractor.started = make(chan struct{})
	e.extractor.release = make(chan struct{})
	c := e.coordinator(t)
	path := e.addDocument(t, "doc.pdf", "doc-bytes")

	type outcome struct {
		res Result
		err error
	}
	firstDone := make(chan outcome, 1)
	go func() {
		res, err := c.Process(context.Background(), path)
		firstDone <- outcome{res, err}
	}()

	// Wait until the first worker holds the guard and is extracting, then
	// race a second worker at the same document.
	<-e.extractor.started
	res, err := c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedInFlight, res.Outcome)

	close(e.extractor.release)
	first := <-firstDone
	require.NoError(t, first.err)
	assert.Equal(t, OutcomeDone, first.res.Outcome)

	assert.Equal(t, 1, e.extractor.callCount())
	assert.Len(t, e.mainRows(t), 2)
}

func TestProcessExtractionFailureIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.extractor.err = fmt.Errorf("boom")
	c := e.coordinator(t)
	path := e.addDocument(t, "doc.pdf", "doc-bytes")

	res, err := c.Process(context.Background(), path)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	// No ledger entry, no stamp, and the guard was released, so the next
	// scan can retry.
	ok, lerr := e.tables.HasLedgerEntry(res.SHA256)
	require.NoError(t, lerr)
	assert.False(t, ok)
	held, herr := afero.Exists(e.fs, e.layout.GuardPath(res.SHA256))
	require.NoError(t, herr)
	assert.False(t, held)

	e.extractor.err = nil
	res, err = c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
}

func TestProcessMissingFile(t *testing.T) {
	e := newEnv(t)
	c := e.coordinator(t)

	res, err := c.Process(context.Background(), filepath.Join(e.layout.InboxDir, "ghost.pdf"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedGone, res.Outcome)
}

func TestProcessStaleGuardReclaimed(t *testing.T) {
	e := newEnv(t)
	now := time.Now()
	c := e.coordinator(t,
		WithStaleGuardTTL(time.Hour),
		WithClock(func() time.Time { return now }),
	)
	path := e.addDocument(t, "doc.pdf", "doc-bytes")

	// A guard left behind by a killed worker, two hours old.
	sha, _, _, err := c.fingerprint(path)
	require.NoError(t, err)
	stale := now.Add(-2 * time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, afero.WriteFile(e.fs, e.layout.GuardPath(sha), []byte(stale+"\n"), 0o644))

	res, err := c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, res.Outcome)
}

func TestProcessFreshGuardRespected(t *testing.T) {
	e := newEnv(t)
	c := e.coordinator(t)
	path := e.addDocument(t, "doc.pdf", "doc-bytes")

	sha, _, _, err := c.fingerprint(path)
	require.NoError(t, err)
	fresh := time.Now().UTC().Format(time.RFC3339)
	require.NoError(t, afero.WriteFile(e.fs, e.layout.GuardPath(sha), []byte(fresh+"\n"), 0o644))

	res, err := c.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedInFlight, res.Outcome)
	assert.Equal(t, 0, e.extractor.callCount())
}
