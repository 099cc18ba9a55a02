package extern

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Toolset names the external binaries. Zero values select the defaults on
// PATH; packagers can point individual entries at absolute paths.
type Toolset struct {
	Mutool   string
	Pdfsig   string
	Exiftool string
	Otfinfo  string
	FcScan   string
}

// WithDefaults fills unset tool names.
func (t Toolset) WithDefaults() Toolset {
	if t.Mutool == "" {
		t.Mutool = "mutool"
	}
	if t.Pdfsig == "" {
		t.Pdfsig = "pdfsig"
	}
	if t.Exiftool == "" {
		t.Exiftool = "exiftool"
	}
	if t.Otfinfo == "" {
		t.Otfinfo = "otfinfo"
	}
	if t.FcScan == "" {
		t.FcScan = "fc-scan"
	}
	return t
}

// Probe verifies tool availability. A missing extractor is fatal since the
// pipeline cannot do anything without it; missing metadata tools are logged
// once and their capabilities degrade to blank fields.
func Probe(ctx context.Context, runner Runner, tools Toolset, logger hclog.Logger) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	tools = tools.WithDefaults()

	if _, _, err := runner.Run(ctx, "", tools.Mutool, "-v"); notFound(err) {
		return fmt.Errorf("required external tool not found: %s", tools.Mutool)
	}

	optional := []struct {
		name string
		args []string
	}{
		{tools.Pdfsig, []string{"-v"}},
		{tools.Exiftool, []string{"-ver"}},
		{tools.Otfinfo, []string{"--version"}},
		{tools.FcScan, []string{"--version"}},
	}
	for _, tool := range optional {
		if _, _, err := runner.Run(ctx, "", tool.name, tool.args...); notFound(err) {
			logger.Warn("optional tool not found, its metadata will be blank", "tool", tool.name)
		}
	}
	return nil
}

// SHA256Hasher is the default content hasher.
type SHA256Hasher struct{}

func (SHA256Hasher) Sum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MutoolExtractor explodes documents with `mutool extract`. mutool writes
// into its working directory, so extraction runs with cwd set to destDir.
type MutoolExtractor struct {
	Runner Runner
	Tool   string
}

func (e *MutoolExtractor) Extract(ctx context.Context, docPath, destDir string) error {
	tool := e.Tool
	if tool == "" {
		tool = "mutool"
	}
	_, stderr, err := e.Runner.Run(ctx, destDir, tool, "extract", docPath)
	if err != nil {
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("mutool extract: %s", msg)
	}
	return nil
}

// ExiftoolInfoReader reads Author and Creator via exiftool. With -s -s -s
// exiftool prints bare values in the order the tags were requested.
type ExiftoolInfoReader struct {
	Runner Runner
	Tool   string

	warnOnce sync.Once
	Logger   hclog.Logger
}

func (r *ExiftoolInfoReader) AuthorCreator(ctx context.Context, docPath string) (string, string) {
	tool := r.Tool
	if tool == "" {
		tool = "exiftool"
	}
	out, _, err := r.Runner.Run(ctx, "", tool, "-s", "-s", "-s", "-Author", "-Creator", docPath)
	if err != nil {
		r.warn(err)
		return "", ""
	}
	var author, creator string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if author == "" {
			author = line
		} else if creator == "" {
			creator = line
		}
	}
	return author, creator
}

func (r *ExiftoolInfoReader) warn(err error) {
	if !notFound(err) {
		return
	}
	r.warnOnce.Do(func() {
		if r.Logger != nil {
			r.Logger.Warn("exiftool unavailable, author/creator will be blank", "error", err)
		}
	})
}

// PdfsigReader captures the raw pdfsig report for later parsing.
type PdfsigReader struct {
	Runner Runner
	Tool   string
}

func (r *PdfsigReader) Report(ctx context.Context, docPath string) string {
	tool := r.Tool
	if tool == "" {
		tool = "pdfsig"
	}
	out, _, err := r.Runner.Run(ctx, "", tool, docPath)
	if err != nil || len(out) == 0 {
		return ""
	}
	return string(out)
}

// OtfinfoFontNamer resolves font display names with otfinfo, falling back
// to fc-scan when otfinfo yields nothing.
type OtfinfoFontNamer struct {
	Runner Runner
	Tool   string
	FcScan string
}

func (n *OtfinfoFontNamer) FontName(ctx context.Context, fontPath string) string {
	tool := n.Tool
	if tool == "" {
		tool = "otfinfo"
	}
	out, _, err := n.Runner.Run(ctx, "", tool, "-i", fontPath)
	if err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			if strings.HasPrefix(line, "Full name:") {
				return strings.TrimSpace(strings.TrimPrefix(line, "Full name:"))
			}
		}
	}

	fcScan := n.FcScan
	if fcScan == "" {
		fcScan = "fc-scan"
	}
	out, _, err = n.Runner.Run(ctx, "", fcScan, "--format", "%{family}\n", fontPath)
	if err == nil {
		if s := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0]); s != "" {
			return s
		}
	}
	return ""
}
