// Package workdir describes the on-disk layout the pipeline operates in:
// the watched inbox, per-document extraction directories, the dedup blob
// directory, the tables, and the in-flight lock directory.
package workdir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// File and directory names, relative to the working-directory root.
const (
	InboxDirName    = "pdf"
	ObjectsDirName  = "pdf-objects"
	BlobsDirName    = "hashed-objects"
	LockDirName     = ".locks"
	InflightDirName = "inflight"

	MainTableName  = "objects.tsv"
	LedgerName     = "processed.tsv"
	CountName      = "hash-count.tsv"
	StampName      = ".processed.sha"
	GuardExtension = ".lock"
)

var pdfExtRe = regexp.MustCompile(`(?i)\.pdf$`)

// Layout holds the absolute paths of everything the pipeline touches.
type Layout struct {
	Root        string
	InboxDir    string
	ObjectsDir  string
	BlobsDir    string
	InflightDir string

	MainTablePath string
	LedgerPath    string
	CountPath     string
}

// NewLayout derives the standard layout under root.
func NewLayout(root string) Layout {
	return Layout{
		Root:          root,
		InboxDir:      filepath.Join(root, InboxDirName),
		ObjectsDir:    filepath.Join(root, ObjectsDirName),
		BlobsDir:      filepath.Join(root, BlobsDirName),
		InflightDir:   filepath.Join(root, LockDirName, InflightDirName),
		MainTablePath: filepath.Join(root, MainTableName),
		LedgerPath:    filepath.Join(root, LedgerName),
		CountPath:     filepath.Join(root, CountName),
	}
}

// Ensure creates every directory the layout needs.
func (l Layout) Ensure(fs afero.Fs) error {
	for _, dir := range []string{l.InboxDir, l.ObjectsDir, l.BlobsDir, l.InflightDir} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// DestDir returns the extraction destination for a document name.
func (l Layout) DestDir(docName string) string {
	return filepath.Join(l.ObjectsDir, SafeName(docName))
}

// StampPath returns the completion-stamp path for a document name.
func (l Layout) StampPath(docName string) string {
	return filepath.Join(l.DestDir(docName), StampName)
}

// GuardPath returns the in-flight guard path for a document hash.
func (l Layout) GuardPath(sha string) string {
	return filepath.Join(l.InflightDir, sha+GuardExtension)
}

// IsPDF reports whether name carries a .pdf extension, case-insensitively.
func IsPDF(name string) bool {
	return pdfExtRe.MatchString(name)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeName turns a document name into a filesystem-safe directory name.
// Unsafe characters collapse to underscores, and a short digest of the
// original name is appended so two differently named documents can never
// share an extraction directory after sanitization.
func SafeName(docName string) string {
	base := filepath.Base(pdfExtRe.ReplaceAllString(docName, ""))
	base = unsafeChars.ReplaceAllString(base, "_")
	if base == "" || base == "." || base == ".." {
		base = "document"
	}

	sum := sha256.Sum256([]byte(docName))
	return base + "-" + hex.EncodeToString(sum[:])[:8]
}

// RelObjectPath returns an object's path relative to the objects root, the
// form recorded in the main table. Falls back to the full path when rel
// fails.
func (l Layout) RelObjectPath(objPath string) string {
	rel, err := filepath.Rel(l.ObjectsDir, objPath)
	if err != nil {
		return objPath
	}
	return strings.ReplaceAll(rel, string(filepath.Separator), "/")
}
