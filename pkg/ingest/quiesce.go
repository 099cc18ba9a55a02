package ingest

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/afero"
)

var errStillChanging = errors.New("file size still changing")

// waitForQuiet polls the file size at a fixed interval and returns once two
// consecutive samples agree, the attempt budget runs out, or ctx is
// cancelled. It is best-effort: a file that never settles is handed to the
// caller anyway, whose content hash and admission checks make a torn read
// harmless beyond one wasted attempt.
func (c *Coordinator) waitForQuiet(ctx context.Context, path string) {
	last := int64(-1)

	op := func() error {
		info, err := c.fs.Stat(path)
		if err != nil {
			// Not there yet (or a stat race); keep sampling.
			return errStillChanging
		}
		if info.Size() == last {
			return nil
		}
		last = info.Size()
		return errStillChanging
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(c.quiesceInterval),
			uint64(c.quiesceAttempts),
		),
		ctx,
	)
	_ = backoff.Retry(op, b)
}

// quiet reports whether the file still exists after quiescence; a document
// deleted mid-wait is simply not a candidate anymore.
func (c *Coordinator) quiet(ctx context.Context, path string) bool {
	c.waitForQuiet(ctx, path)
	ok, err := afero.Exists(c.fs, path)
	return err == nil && ok
}
