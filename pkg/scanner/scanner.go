// Package scanner feeds candidate documents from the inbox to the
// processing coordinator, either as a one-shot catch-up pass or as a
// continuous filesystem watch.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/docforge/reliquary/pkg/dedup"
	"github.com/docforge/reliquary/pkg/ingest"
	"github.com/docforge/reliquary/pkg/table"
	"github.com/docforge/reliquary/pkg/workdir"
)

// IsFatal reports whether err carries a table or blob-store write failure.
// Those abort the invocation: the next append would hit the same unwritable
// table, so retrying per document only churns.
func IsFatal(err error) bool {
	return errors.Is(err, table.ErrWrite) || errors.Is(err, dedup.ErrWrite)
}

// Processor is the coordinator behavior the scanner depends on.
type Processor interface {
	Process(ctx context.Context, docPath string) (ingest.Result, error)
}

// Scanner enumerates candidate documents and hands them to the processor.
type Scanner struct {
	fs     afero.Fs
	layout workdir.Layout
	proc   Processor
	logger hclog.Logger

	// PollInterval is the watch-mode polling cadence when filesystem
	// notifications are unavailable.
	PollInterval time.Duration
	// Debounce coalesces rapid create/write bursts for one file.
	Debounce time.Duration
}

// New returns a Scanner over the layout's inbox.
func New(fs afero.Fs, layout workdir.Layout, proc Processor, logger hclog.Logger) *Scanner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Scanner{
		fs:           fs,
		layout:       layout,
		proc:         proc,
		logger:       logger.Named("scanner"),
		PollInterval: 5 * time.Second,
		Debounce:     500 * time.Millisecond,
	}
}

// ScanOnce processes every PDF currently in the inbox, in name order.
// Per-document failures are logged and aggregated but do not stop the
// scan; the returned error reports what failed after everything eligible
// was attempted. A write failure on the tables or the blob store stops the
// scan immediately, and the returned error satisfies IsFatal.
func (s *Scanner) ScanOnce(ctx context.Context) error {
	entries, err := afero.ReadDir(s.fs, s.layout.InboxDir)
	if err != nil {
		return fmt.Errorf("read inbox %s: %w", s.layout.InboxDir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var result *multierror.Error
	matched := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !workdir.IsPDF(entry.Name()) {
			continue
		}
		matched++
		path := filepath.Join(s.layout.InboxDir, entry.Name())
		if _, err := s.proc.Process(ctx, path); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", entry.Name(), err))
			if IsFatal(err) {
				s.logger.Error("write failure, aborting scan",
					"document", entry.Name(), "error", err)
				return result.ErrorOrNil()
			}
			s.logger.Error("document failed, will retry on next scan",
				"document", entry.Name(), "error", err)
		}
	}

	if matched == 0 {
		s.logger.Info("no candidate documents found", "inbox", s.layout.InboxDir)
	}
	return result.ErrorOrNil()
}
