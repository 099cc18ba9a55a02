package table

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// RebuildCountProjection recomputes the hash-count projection from the main
// table's content-hash column and replaces the projection file atomically.
// The projection is derived state: it is rebuilt in full rather than
// maintained incrementally, and is never consulted as a source of truth.
//
// Rows are ordered by count descending; equal counts order by ascending
// hash string so rebuilds are deterministic.
func (s *Set) RebuildCountProjection() error {
	counts, err := s.hashCounts()
	if err != nil {
		return err
	}

	type entry struct {
		hash  string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for h, c := range counts {
		entries = append(entries, entry{h, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].hash < entries[j].hash
	})

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.hash)
		b.WriteByte('\t')
		b.WriteString(strconv.Itoa(e.count))
		b.WriteByte('\n')
	}

	s.countMu.Lock()
	defer s.countMu.Unlock()

	tmp := s.countPath + ".tmp." + uuid.NewString()[:8]
	if err := afero.WriteFile(s.fs, tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write projection: %w: %w", ErrWrite, err)
	}
	if err := s.fs.Rename(tmp, s.countPath); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("publish projection: %w: %w", ErrWrite, err)
	}
	return nil
}

// hashCounts tallies the main table's hash column, skipping the header and
// rows too narrow to carry one.
func (s *Set) hashCounts() (map[string]int, error) {
	s.mainMu.Lock()
	defer s.mainMu.Unlock()

	counts := make(map[string]int)
	ok, err := afero.Exists(s.fs, s.mainPath)
	if err != nil || !ok {
		return counts, err
	}
	data, err := afero.ReadFile(s.fs, s.mainPath)
	if err != nil {
		return nil, fmt.Errorf("read main table: %w", err)
	}
	for i, line := range strings.Split(string(data), "\n") {
		if i == 0 || line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) > hashColumn && parts[hashColumn] != "" {
			counts[parts[hashColumn]]++
		}
	}
	return counts, nil
}
