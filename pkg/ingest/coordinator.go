// Package ingest contains the processing coordinator: the component that
// owns the exactly-once guarantee for document ingestion. Any number of
// coordinators may run concurrently against one working directory;
// correctness rests entirely on the in-flight guard, the ledger, the
// completion stamp, and write-then-rename atomicity, never on a global
// lock.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"

	"github.com/docforge/reliquary/pkg/dedup"
	"github.com/docforge/reliquary/pkg/extern"
	"github.com/docforge/reliquary/pkg/metadata"
	"github.com/docforge/reliquary/pkg/table"
	"github.com/docforge/reliquary/pkg/workdir"
)

// Outcome is the terminal state of one processing attempt.
type Outcome string

const (
	// OutcomeDone: the document was extracted, recorded, and ledgered.
	OutcomeDone Outcome = "done"
	// OutcomeSkippedInFlight: another worker owns this hash right now.
	OutcomeSkippedInFlight Outcome = "skipped-in-flight"
	// OutcomeSkippedProcessed: the ledger already records this hash.
	OutcomeSkippedProcessed Outcome = "skipped-processed"
	// OutcomeSkippedStampReconciled: a completion stamp matched but the
	// ledger entry was missing; the entry was written and the document
	// skipped without re-extraction.
	OutcomeSkippedStampReconciled Outcome = "skipped-stamp-reconciled"
	// OutcomeSkippedGone: the file disappeared before processing began.
	OutcomeSkippedGone Outcome = "skipped-gone"
	// OutcomeFailed: extraction or recording failed; the document stays
	// un-ledgered and eligible for retry on the next scan.
	OutcomeFailed Outcome = "failed"
)

// Result reports what happened to one candidate document.
type Result struct {
	Outcome Outcome
	SHA256  string
	Rows    int
}

// fontExtensions are the object extensions that get a font-name lookup.
var fontExtensions = map[string]struct{}{
	".ttf": {}, ".otf": {}, ".ttc": {}, ".woff": {}, ".woff2": {}, ".pfb": {}, ".pfa": {},
}

// maxExtLen caps recorded object extensions (dot included).
const maxExtLen = 11

// Coordinator processes candidate documents exactly once each.
type Coordinator struct {
	fs     afero.Fs
	logger hclog.Logger
	layout workdir.Layout
	tables *table.Set
	blobs  *dedup.Store

	hasher    extern.Hasher
	extractor extern.Extractor
	docInfo   extern.DocInfoReader
	sigReader extern.SignatureReader
	fontNamer extern.FontNamer

	clock           func() time.Time
	quiesceAttempts int
	quiesceInterval time.Duration
	staleGuardTTL   time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger hclog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithFs sets the filesystem.
func WithFs(fs afero.Fs) Option {
	return func(c *Coordinator) { c.fs = fs }
}

// WithHasher sets the content hasher.
func WithHasher(h extern.Hasher) Option {
	return func(c *Coordinator) { c.hasher = h }
}

// WithExtractor sets the object extractor.
func WithExtractor(e extern.Extractor) Option {
	return func(c *Coordinator) { c.extractor = e }
}

// WithDocInfoReader sets the author/creator reader.
func WithDocInfoReader(r extern.DocInfoReader) Option {
	return func(c *Coordinator) { c.docInfo = r }
}

// WithSignatureReader sets the signature report reader.
func WithSignatureReader(r extern.SignatureReader) Option {
	return func(c *Coordinator) { c.sigReader = r }
}

// WithFontNamer sets the font name resolver.
func WithFontNamer(n extern.FontNamer) Option {
	return func(c *Coordinator) { c.fontNamer = n }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithQuiescence tunes the size-stability poll.
func WithQuiescence(attempts int, interval time.Duration) Option {
	return func(c *Coordinator) {
		c.quiesceAttempts = attempts
		c.quiesceInterval = interval
	}
}

// WithStaleGuardTTL sets the age past which a leaked in-flight guard is
// reclaimed. Zero disables reclamation.
func WithStaleGuardTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.staleGuardTTL = ttl }
}

// New creates a Coordinator over the given layout, tables, and blob store.
func New(layout workdir.Layout, tables *table.Set, blobs *dedup.Store, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		fs:              afero.NewOsFs(),
		logger:          hclog.NewNullLogger(),
		layout:          layout,
		tables:          tables,
		blobs:           blobs,
		hasher:          extern.SHA256Hasher{},
		clock:           time.Now,
		quiesceAttempts: 10,
		quiesceInterval: 300 * time.Millisecond,
		staleGuardTTL:   time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tables == nil {
		return nil, fmt.Errorf("table set is required")
	}
	if c.blobs == nil {
		return nil, fmt.Errorf("dedup store is required")
	}
	if c.extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	c.logger = c.logger.Named("ingest")
	return c, nil
}

// Process runs one candidate document through the pipeline. Per-document
// failures are returned (and reflected in the Result) but never poison
// other candidates; the caller logs and moves on.
func (c *Coordinator) Process(ctx context.Context, docPath string) (Result, error) {
	docName := filepath.Base(docPath)

	if !c.quiet(ctx, docPath) {
		return Result{Outcome: OutcomeSkippedGone}, nil
	}

	sha, size, modTime, err := c.fingerprint(docPath)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("fingerprint %s: %w", docName, err)
	}
	log := c.logger.With("document", docName, "hash", sha)

	// Admission: in-flight guard, then ledger. Stamp reconciliation runs
	// under the guard below so two invocations cannot both observe the
	// stamp-without-ledger crash window and double-append the entry.
	held, err := c.guardHeld(sha)
	if err != nil {
		return Result{Outcome: OutcomeFailed, SHA256: sha}, err
	}
	if held {
		log.Info("skipping, another worker owns this document")
		return Result{Outcome: OutcomeSkippedInFlight, SHA256: sha}, nil
	}

	ledgered, err := c.tables.HasLedgerEntry(sha)
	if err != nil {
		return Result{Outcome: OutcomeFailed, SHA256: sha}, err
	}
	if ledgered {
		log.Debug("skipping, already processed")
		return Result{Outcome: OutcomeSkippedProcessed, SHA256: sha}, nil
	}

	release, acquired, err := c.acquireGuard(sha)
	if err != nil {
		return Result{Outcome: OutcomeFailed, SHA256: sha}, err
	}
	if !acquired {
		log.Info("skipping, another worker won the guard")
		return Result{Outcome: OutcomeSkippedInFlight, SHA256: sha}, nil
	}
	defer release()

	if matched, err := c.stampMatches(docName, sha); err != nil {
		return Result{Outcome: OutcomeFailed, SHA256: sha}, err
	} else if matched {
		// A crash after the stamp but before the ledger left this document
		// half-recorded; write the missing ledger entry instead of
		// re-extracting.
		entry := table.LedgerEntry{
			SHA256: sha, Name: docName, Size: size,
			ModTime: modTime, CompletedAt: c.clock(),
		}
		if err := c.tables.AppendLedger(entry); err != nil {
			return Result{Outcome: OutcomeFailed, SHA256: sha}, fmt.Errorf("reconcile ledger for %s: %w", docName, err)
		}
		log.Info("skipping, stamp matched; ledger entry reconciled")
		return Result{Outcome: OutcomeSkippedStampReconciled, SHA256: sha}, nil
	}

	rows, err := c.ingest(ctx, docPath, docName, sha, size, modTime, log)
	if err != nil {
		return Result{Outcome: OutcomeFailed, SHA256: sha}, err
	}
	return Result{Outcome: OutcomeDone, SHA256: sha, Rows: rows}, nil
}

// ingest performs extraction and recording under an acquired guard.
func (c *Coordinator) ingest(ctx context.Context, docPath, docName, sha string, size int64, modTime time.Time, log hclog.Logger) (int, error) {
	destDir := c.layout.DestDir(docName)
	if err := c.fs.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("create extraction dir: %w", err)
	}

	log.Info("extracting objects")
	if err := c.extractor.Extract(ctx, docPath, destDir); err != nil {
		return 0, fmt.Errorf("extract %s: %w", docName, err)
	}

	// Document-level metadata is computed once and stamped onto every row.
	doc := c.documentMetadata(ctx, docPath, docName)

	rows := 0
	err := afero.Walk(c.fs, destDir, func(objPath string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() || info.Name() == workdir.StampName {
			return nil
		}
		if err := c.recordObject(ctx, objPath, doc); err != nil {
			return err
		}
		rows++
		return nil
	})
	if err != nil {
		return rows, fmt.Errorf("record objects of %s: %w", docName, err)
	}

	// Stamp strictly before ledger: a crash in between is recovered by
	// admission-time reconciliation without re-extracting.
	if err := c.writeStamp(docName, sha); err != nil {
		return rows, fmt.Errorf("write stamp for %s: %w", docName, err)
	}
	entry := table.LedgerEntry{
		SHA256: sha, Name: docName, Size: size,
		ModTime: modTime, CompletedAt: c.clock(),
	}
	if err := c.tables.AppendLedger(entry); err != nil {
		return rows, fmt.Errorf("append ledger for %s: %w", docName, err)
	}
	if err := c.tables.RebuildCountProjection(); err != nil {
		return rows, fmt.Errorf("rebuild projection: %w", err)
	}

	if total, err := c.tables.CountRowsForDocument(docName); err == nil {
		log.Info("document processed", "rows_added", rows, "rows_total", total)
	} else {
		log.Info("document processed", "rows_added", rows)
	}
	return rows, nil
}

// documentCtx carries the per-document fields shared by every object row.
type documentCtx struct {
	name    string
	filing  metadata.FilingAttributes
	sigs    metadata.SignatureReport
	author  string
	creator string
}

func (c *Coordinator) documentMetadata(ctx context.Context, docPath, docName string) documentCtx {
	doc := documentCtx{
		name:   docName,
		filing: metadata.ParseFilename(docName),
	}
	if c.sigReader != nil {
		doc.sigs = metadata.ParseSignatureReport(c.sigReader.Report(ctx, docPath))
	}
	if c.docInfo != nil {
		doc.author, doc.creator = c.docInfo.AuthorCreator(ctx, docPath)
	}
	return doc
}

// recordObject hashes one extracted file, appends its main-table row, and
// submits it to the dedup store.
func (c *Coordinator) recordObject(ctx context.Context, objPath string, doc documentCtx) error {
	f, err := c.fs.Open(objPath)
	if err != nil {
		return fmt.Errorf("open object %s: %w", objPath, err)
	}
	sum, err := c.hasher.Sum(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("hash object %s: %w", objPath, err)
	}

	ext := strings.ToLower(filepath.Ext(objPath))
	if len(ext) > maxExtLen {
		ext = ""
	}

	fontName := ""
	if _, isFont := fontExtensions[ext]; isFont && c.fontNamer != nil {
		fontName = c.fontNamer.FontName(ctx, objPath)
	}

	row := table.ObjectRow{
		CaseNumber:   doc.filing.CaseNumber,
		FilingType:   doc.filing.FilingType,
		FilingDate:   doc.filing.FilingDate,
		SHA256:       sum,
		DocumentName: doc.name,
		ObjectPath:   c.layout.RelObjectPath(objPath),
		ObjectType:   ext,
		FontName:     fontName,
		Author:       doc.author,
		Creator:      doc.creator,
	}
	for i := 0; i < metadata.MaxSignatureBlocks; i++ {
		row.SigCommonNames[i] = doc.sigs.Blocks[i].CommonName
		row.SigSigningTimes[i] = doc.sigs.Blocks[i].SigningTime
		row.SigByteRanges[i] = doc.sigs.Blocks[i].ByteRanges
	}
	if err := c.tables.AppendObjectRow(row); err != nil {
		return err
	}

	if _, err := c.blobs.Put(sum, objPath); err != nil {
		return err
	}
	return nil
}

// fingerprint hashes the whole document and captures its size and mtime.
func (c *Coordinator) fingerprint(docPath string) (string, int64, time.Time, error) {
	info, err := c.fs.Stat(docPath)
	if err != nil {
		return "", 0, time.Time{}, err
	}
	f, err := c.fs.Open(docPath)
	if err != nil {
		return "", 0, time.Time{}, err
	}
	defer f.Close()
	sum, err := c.hasher.Sum(f)
	if err != nil {
		return "", 0, time.Time{}, err
	}
	return sum, info.Size(), info.ModTime(), nil
}

// stampMatches reports whether the colocated stamp records this hash.
func (c *Coordinator) stampMatches(docName, sha string) (bool, error) {
	data, err := afero.ReadFile(c.fs, c.layout.StampPath(docName))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read stamp: %w", err)
	}
	return strings.TrimSpace(string(data)) == sha, nil
}

func (c *Coordinator) writeStamp(docName, sha string) error {
	return afero.WriteFile(c.fs, c.layout.StampPath(docName), []byte(sha+"\n"), 0o644)
}
