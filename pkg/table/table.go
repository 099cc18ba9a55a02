package table

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// ErrWrite marks a failed write to one of the append-only tables (disk
// full, permissions, rename failure). Such failures compromise the
// durability guarantees, so callers abort the invocation instead of
// retrying per document.
var ErrWrite = errors.New("table write failure")

// Set bundles the three tables. Every method is safe for concurrent use;
// each table is guarded by its own mutex.
type Set struct {
	fs     afero.Fs
	logger hclog.Logger

	mainPath   string
	ledgerPath string
	countPath  string

	mainMu   sync.Mutex
	ledgerMu sync.Mutex
	countMu  sync.Mutex
}

// LedgerEntry records one fully processed document. Its presence in the
// ledger is the authoritative exactly-once marker.
type LedgerEntry struct {
	SHA256      string
	Name        string
	Size        int64
	ModTime     time.Time
	CompletedAt time.Time
}

// NewSet returns a table set over the given file paths.
func NewSet(fs afero.Fs, mainPath, ledgerPath, countPath string, logger hclog.Logger) *Set {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Set{
		fs:         fs,
		logger:     logger.Named("table"),
		mainPath:   mainPath,
		ledgerPath: ledgerPath,
		countPath:  countPath,
	}
}

// Init seeds missing table files and runs the main-table schema migration.
// It must be called before the first append of an invocation.
func (s *Set) Init() error {
	s.mainMu.Lock()
	err := s.migrateLocked()
	s.mainMu.Unlock()
	if err != nil {
		return err
	}

	for _, p := range []string{s.ledgerPath, s.countPath} {
		ok, err := afero.Exists(s.fs, p)
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		if !ok {
			if err := afero.WriteFile(s.fs, p, nil, 0o644); err != nil {
				return fmt.Errorf("seed %s: %w", p, err)
			}
		}
	}
	return nil
}

// Migrate widens a main table still carrying the legacy 5-column header by
// inserting blank leading and trailing fields in every data row, atomically
// (temp file + rename) and preserving row order. A current header, and any
// unrecognized custom header, are left untouched. Running it twice is a
// no-op.
func (s *Set) Migrate() error {
	s.mainMu.Lock()
	defer s.mainMu.Unlock()
	return s.migrateLocked()
}

func (s *Set) migrateLocked() error {
	ok, err := afero.Exists(s.fs, s.mainPath)
	if err != nil {
		return fmt.Errorf("stat main table: %w", err)
	}
	if !ok {
		return afero.WriteFile(s.fs, s.mainPath, []byte(MainHeader+"\n"), 0o644)
	}

	data, err := afero.ReadFile(s.fs, s.mainPath)
	if err != nil {
		return fmt.Errorf("read main table: %w", err)
	}
	if len(data) == 0 {
		return afero.WriteFile(s.fs, s.mainPath, []byte(MainHeader+"\n"), 0o644)
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	switch lines[0] {
	case MainHeader:
		return nil
	case legacyHeader:
		// fall through to the rewrite below
	default:
		s.logger.Warn("main table has an unrecognized header, leaving it untouched",
			"path", s.mainPath)
		return nil
	}

	var b strings.Builder
	b.WriteString(MainHeader)
	b.WriteByte('\n')
	leading := strings.Repeat("\t", migrateLeadingBlanks)
	trailing := strings.Repeat("\t", migrateTrailingBlanks)
	for _, line := range lines[1:] {
		b.WriteString(leading)
		b.WriteString(line)
		b.WriteString(trailing)
		b.WriteByte('\n')
	}

	tmp := s.mainPath + ".tmp." + uuid.NewString()[:8]
	if err := afero.WriteFile(s.fs, tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write migrated table: %w: %w", ErrWrite, err)
	}
	if err := s.fs.Rename(tmp, s.mainPath); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("publish migrated table: %w: %w", ErrWrite, err)
	}

	s.logger.Info("migrated main table from legacy schema",
		"path", s.mainPath, "rows", len(lines)-1)
	return nil
}

// AppendObjectRow appends one row to the main table.
func (s *Set) AppendObjectRow(row ObjectRow) error {
	fields := row.fields()
	for i, f := range fields {
		fields[i] = sanitizeField(f)
	}
	line := strings.Join(fields, "\t") + "\n"

	s.mainMu.Lock()
	defer s.mainMu.Unlock()
	return s.appendLine(s.mainPath, line)
}

// AppendLedger appends one completed-document entry to the ledger.
func (s *Set) AppendLedger(e LedgerEntry) error {
	line := strings.Join([]string{
		e.SHA256,
		sanitizeField(e.Name),
		strconv.FormatInt(e.Size, 10),
		strconv.FormatInt(e.ModTime.Unix(), 10),
		e.CompletedAt.UTC().Format(time.RFC3339),
	}, "\t") + "\n"

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()
	return s.appendLine(s.ledgerPath, line)
}

// ProcessedHashes returns the set of document hashes present in the ledger.
func (s *Set) ProcessedHashes() (map[string]struct{}, error) {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	hashes := make(map[string]struct{})
	ok, err := afero.Exists(s.fs, s.ledgerPath)
	if err != nil || !ok {
		return hashes, err
	}
	data, err := afero.ReadFile(s.fs, s.ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		if sha := strings.SplitN(line, "\t", 2)[0]; sha != "" {
			hashes[sha] = struct{}{}
		}
	}
	return hashes, nil
}

// HasLedgerEntry reports whether the ledger already records sha.
func (s *Set) HasLedgerEntry(sha string) (bool, error) {
	hashes, err := s.ProcessedHashes()
	if err != nil {
		return false, err
	}
	_, ok := hashes[sha]
	return ok, nil
}

// CountRowsForDocument returns how many main-table rows carry the given
// document name.
func (s *Set) CountRowsForDocument(name string) (int, error) {
	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	data, err := afero.ReadFile(s.fs, s.mainPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read main table: %w", err)
	}
	n := 0
	for i, line := range strings.Split(string(data), "\n") {
		if i == 0 || line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) > nameColumn && parts[nameColumn] == name {
			n++
		}
	}
	return n, nil
}

func (s *Set) appendLine(path, line string) error {
	f, err := s.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for append: %w: %w", path, ErrWrite, err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w: %w", path, ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s after append: %w: %w", path, ErrWrite, err)
	}
	return nil
}
