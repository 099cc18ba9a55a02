// Package extern defines the capability interfaces the pipeline consumes
// and their implementations backed by external command-line tools. The
// pipeline never shells out directly; everything goes through these
// interfaces so tests can substitute stubs and missing tools degrade to
// blank metadata instead of failures.
package extern

import (
	"context"
	"io"
)

// Hasher produces a content digest for a byte stream.
type Hasher interface {
	Sum(r io.Reader) (string, error)
}

// Extractor explodes a document into constituent files under destDir.
// Partial results on internal failure are acceptable; an error means the
// document could not be extracted at all.
type Extractor interface {
	Extract(ctx context.Context, docPath, destDir string) error
}

// DocInfoReader reads document-level author and creator strings. Both are
// blank when the underlying tool is missing or the document carries
// neither.
type DocInfoReader interface {
	AuthorCreator(ctx context.Context, docPath string) (author, creator string)
}

// SignatureReader returns the raw line-oriented signature report for a
// document, or an empty string when unavailable.
type SignatureReader interface {
	Report(ctx context.Context, docPath string) string
}

// FontNamer resolves a font file to its display name, or blank when
// unavailable.
type FontNamer interface {
	FontName(ctx context.Context, fontPath string) string
}
