package extern

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Runner executes external commands. It exists so tool-backed capabilities
// can be exercised in tests without the tools installed.
type Runner interface {
	// Run executes name with args, with the working directory set to dir
	// when dir is non-empty, and returns captured stdout and stderr.
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger hclog.Logger
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner(logger hclog.Logger) Runner {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &execRunner{logger: logger.Named("exec")}
}

func (r *execRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		r.logger.Debug("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		r.logger.Trace("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// notFound reports whether err means the binary itself is absent, as
// opposed to the tool running and exiting non-zero.
func notFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}
