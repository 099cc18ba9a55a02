// Package dedup implements a content-addressed blob store: one retained
// file per distinct content hash, regardless of how many extracted objects
// share that hash.
package dedup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
)

// ErrWrite marks a failed write into the blob directory. Like table write
// failures it is fatal for the invocation; a store that cannot persist
// blobs cannot honor the one-object-per-hash guarantee.
var ErrWrite = errors.New("blob store write failure")

// maxExtLen caps blob extensions (dot included); anything longer is
// treated as no extension at all.
const maxExtLen = 11

// Store copies unique objects into a flat directory keyed by hash.
type Store struct {
	fs     afero.Fs
	dir    string
	logger hclog.Logger
}

// NewStore returns a store rooted at dir. The directory must exist.
func NewStore(fs afero.Fs, dir string, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{fs: fs, dir: dir, logger: logger.Named("dedup")}
}

// Put stores src under <hash><ext> unless a blob for hash already exists
// under any extension. The first extension seen for a hash wins; later
// submissions with a different extension are discarded. Returns true when
// a new blob was written.
//
// Writes go to a uniquely named temp file and are renamed into place, so
// readers never observe a partial blob and concurrent writers cannot
// clobber each other. Writers racing on the same hash under different
// extensions are settled after publish: one blob survives.
func (s *Store) Put(hash, src string) (bool, error) {
	if hash == "" {
		return false, fmt.Errorf("empty content hash")
	}

	exists, err := s.Has(hash)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	ext := strings.ToLower(filepath.Ext(src))
	if len(ext) > maxExtLen {
		ext = ""
	}
	dest := filepath.Join(s.dir, hash+ext)
	// Dot-prefixed so an in-progress stage never satisfies Has for the hash.
	tmp := filepath.Join(s.dir, "."+hash+ext+".tmp."+uuid.NewString()[:8])

	if err := s.copyFile(src, tmp); err != nil {
		return false, fmt.Errorf("stage blob %s: %w: %w", hash, ErrWrite, err)
	}
	if err := s.fs.Rename(tmp, dest); err != nil {
		_ = s.fs.Remove(tmp)
		return false, fmt.Errorf("publish blob %s: %w: %w", hash, ErrWrite, err)
	}

	kept, err := s.settle(hash, dest)
	if err != nil {
		return false, err
	}
	if !kept {
		s.logger.Debug("lost publish race for blob, discarded", "hash", hash, "ext", ext)
		return false, nil
	}
	s.logger.Debug("stored blob", "hash", hash, "ext", ext)
	return true, nil
}

// settle resolves the window where two writers pass the existence check
// together and publish blobs for one hash under different extensions: the
// lexically smallest name is kept and the rest are removed. Every racer
// runs the same rule, so exactly one blob survives no matter the
// interleaving. Reports whether dest is the survivor.
func (s *Store) settle(hash, dest string) (bool, error) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.dir, hash+".*"))
	if err != nil {
		return false, fmt.Errorf("glob blobs for %s: %w", hash, err)
	}
	if ok, eerr := afero.Exists(s.fs, filepath.Join(s.dir, hash)); eerr == nil && ok {
		matches = append(matches, filepath.Join(s.dir, hash))
	}
	if len(matches) <= 1 {
		return true, nil
	}
	sort.Strings(matches)
	for _, m := range matches[1:] {
		if err := s.fs.Remove(m); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("settle blobs for %s: %w: %w", hash, ErrWrite, err)
		}
	}
	return matches[0] == dest, nil
}

// Has reports whether any blob exists for hash, with or without an
// extension.
func (s *Store) Has(hash string) (bool, error) {
	if ok, err := afero.Exists(s.fs, filepath.Join(s.dir, hash)); err != nil || ok {
		return ok, err
	}
	matches, err := afero.Glob(s.fs, filepath.Join(s.dir, hash+".*"))
	if err != nil {
		return false, fmt.Errorf("glob blobs for %s: %w", hash, err)
	}
	return len(matches) > 0, nil
}

func (s *Store) copyFile(src, dst string) error {
	in, err := s.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := s.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = s.fs.Remove(dst)
		return err
	}
	return out.Close()
}
