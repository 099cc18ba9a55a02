package base

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/docforge/reliquary/internal/config"
	"github.com/docforge/reliquary/pkg/dedup"
	"github.com/docforge/reliquary/pkg/extern"
	"github.com/docforge/reliquary/pkg/ingest"
	"github.com/docforge/reliquary/pkg/scanner"
	"github.com/docforge/reliquary/pkg/table"
	"github.com/docforge/reliquary/pkg/workdir"
)

// Pipeline is the fully wired ingestion stack a command runs.
type Pipeline struct {
	Layout  workdir.Layout
	Tables  *table.Set
	Scanner *scanner.Scanner
}

// Bootstrap builds the pipeline from configuration: verifies tools, creates
// the directory layout, seeds and migrates the tables, and wires the
// coordinator and scanner. Tool or table failures here are fatal for the
// invocation; nothing can be processed safely without them.
func Bootstrap(ctx context.Context, cfg *config.Config, log hclog.Logger) (*Pipeline, error) {
	fs := afero.NewOsFs()
	runner := extern.NewRunner(log)

	var tools extern.Toolset
	if cfg.Tools != nil {
		tools = extern.Toolset{
			Mutool:   cfg.Tools.Mutool,
			Pdfsig:   cfg.Tools.Pdfsig,
			Exiftool: cfg.Tools.Exiftool,
			Otfinfo:  cfg.Tools.Otfinfo,
			FcScan:   cfg.Tools.FcScan,
		}
	}
	tools = tools.WithDefaults()
	if err := extern.Probe(ctx, runner, tools, log); err != nil {
		return nil, err
	}

	layout := workdir.NewLayout(cfg.Root)
	if err := layout.Ensure(fs); err != nil {
		return nil, fmt.Errorf("prepare working directory: %w", err)
	}

	tables := table.NewSet(fs, layout.MainTablePath, layout.LedgerPath, layout.CountPath, log)
	if err := tables.Init(); err != nil {
		return nil, fmt.Errorf("prepare tables: %w", err)
	}

	blobs := dedup.NewStore(fs, layout.BlobsDir, log)

	coord, err := ingest.New(layout, tables, blobs,
		ingest.WithFs(fs),
		ingest.WithLogger(log),
		ingest.WithExtractor(&extern.MutoolExtractor{Runner: runner, Tool: tools.Mutool}),
		ingest.WithDocInfoReader(&extern.ExiftoolInfoReader{Runner: runner, Tool: tools.Exiftool, Logger: log}),
		ingest.WithSignatureReader(&extern.PdfsigReader{Runner: runner, Tool: tools.Pdfsig}),
		ingest.WithFontNamer(&extern.OtfinfoFontNamer{Runner: runner, Tool: tools.Otfinfo, FcScan: tools.FcScan}),
		ingest.WithQuiescence(cfg.QuiescenceAttempts, cfg.QuiescenceIntervalDuration()),
		ingest.WithStaleGuardTTL(cfg.StaleGuardTTLDuration()),
	)
	if err != nil {
		return nil, fmt.Errorf("build coordinator: %w", err)
	}

	sc := scanner.New(fs, layout, coord, log)
	sc.PollInterval = cfg.PollIntervalDuration()
	sc.Debounce = cfg.DebounceDuration()

	return &Pipeline{Layout: layout, Tables: tables, Scanner: sc}, nil
}
