package scanner

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docforge/reliquary/pkg/workdir"
)

// Watch runs a catch-up scan and then processes new arrivals until ctx is
// cancelled. Filesystem notifications drive the loop when available; when
// the watcher cannot be created the loop degrades to polling the inbox at
// PollInterval. Watch only returns on cancellation, an unrecoverable inbox
// error, or a table/blob-store write failure (IsFatal).
func (s *Scanner) Watch(ctx context.Context) error {
	if err := s.ScanOnce(ctx); err != nil {
		if IsFatal(err) {
			return err
		}
		// Per-document failures; the watch continues and retries on the
		// next pass over the inbox.
		s.logger.Warn("catch-up scan finished with failures", "error", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("filesystem notifications unavailable, polling instead",
			"error", err, "interval", s.PollInterval)
		return s.pollLoop(ctx)
	}
	defer w.Close()

	if err := w.Add(s.layout.InboxDir); err != nil {
		s.logger.Warn("cannot watch inbox, polling instead", "error", err)
		return s.pollLoop(ctx)
	}

	s.logger.Info("watching inbox", "dir", s.layout.InboxDir)

	// Bursty writers emit many events for one file; collect pending names
	// and process them once the debounce window closes.
	pending := map[string]struct{}{}
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	processPending := func() error {
		for path := range pending {
			delete(pending, path)
			if _, err := s.proc.Process(ctx, path); err != nil {
				if IsFatal(err) {
					return err
				}
				s.logger.Error("document failed, will retry on next scan",
					"document", path, "error", err)
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return s.pollLoop(ctx)
			}
			if !workdir.IsPDF(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending[ev.Name] = struct{}{}
			if s.Debounce <= 0 {
				if err := processPending(); err != nil {
					return err
				}
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(s.Debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if err := processPending(); err != nil {
				return err
			}

		case err, ok := <-w.Errors:
			if !ok {
				return s.pollLoop(ctx)
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// pollLoop rescans the inbox on a fixed cadence. Admission checks make the
// repeated scans cheap: already-ledgered documents are skipped before any
// extraction work.
func (s *Scanner) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.ScanOnce(ctx); err != nil {
				if IsFatal(err) {
					return err
				}
				s.logger.Warn("scan finished with failures", "error", err)
			}
		}
	}
}
