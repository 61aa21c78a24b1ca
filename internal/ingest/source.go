// Package ingest discovers and parses the pharmacy claim input corpus.
//
// Input is one or more CSV files matching a filename pattern. Files are
// consumed in lexicographic name order so that split shards replay in their
// natural sequence. Rows that fail to parse are warned and skipped; a
// missing required column is fatal for the whole file.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/rxops/rxsim/internal/claim"
)

// ErrNoInput is returned when the input directory exists but no file
// matches the configured pattern.
var ErrNoInput = errors.New("no input files match pattern")

// Source streams claims out of a directory of CSV shards.
type Source struct {
	dir     string
	pattern string

	files   []string
	skipped atomic.Int64
	loaded  atomic.Int64

	// Progress and warning destinations, overridable in tests.
	out io.Writer
	err io.Writer
}

// New creates a Source over dir for files matching pattern
// (e.g. "pharmacy_claims_simulation_*.csv").
func New(dir, pattern string) *Source {
	return &Source{dir: dir, pattern: pattern, out: os.Stdout, err: os.Stderr}
}

// Discover resolves and orders the input file list. Deterministic: shards
// sort by filename. A missing directory or an empty match set is fatal.
func (s *Source) Discover() ([]string, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return nil, fmt.Errorf("input directory %s: %w", s.dir, err)
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		return nil, fmt.Errorf("bad input pattern %q: %w", s.pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoInput, s.pattern, s.dir)
	}
	sort.Strings(matches)
	s.files = matches
	return matches, nil
}

// LoadAll materializes every claim from every discovered file, in order.
// Calls Discover itself if it has not run yet.
func (s *Source) LoadAll(ctx context.Context) ([]*claim.Claim, error) {
	var all []*claim.Claim
	err := s.each(ctx, func(c *claim.Claim) error {
		all = append(all, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// Stream emits claims to out in the same order LoadAll would return them,
// blocking when the channel is full. It closes out on return, so the
// consumer can range over the channel. Memory stays bounded by the channel
// capacity instead of the corpus size.
func (s *Source) Stream(ctx context.Context, out chan<- *claim.Claim) error {
	defer close(out)
	return s.each(ctx, func(c *claim.Claim) error {
		select {
		case out <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Skipped reports the number of rows dropped by per-row parse failures.
func (s *Source) Skipped() int64 { return s.skipped.Load() }

// Loaded reports the number of claims successfully parsed so far.
func (s *Source) Loaded() int64 { return s.loaded.Load() }

// each walks every file and hands each parsed claim to fn.
func (s *Source) each(ctx context.Context, fn func(*claim.Claim) error) error {
	if s.files == nil {
		if _, err := s.Discover(); err != nil {
			return err
		}
	}
	for i, path := range s.files {
		n, err := s.loadFile(ctx, path, fn)
		if err != nil {
			return fmt.Errorf("file %s: %w", filepath.Base(path), err)
		}
		fmt.Fprintf(s.out, "Loaded %d claims from file %d\n", n, i+1)
	}
	return nil
}

// loadFile parses one CSV shard, returning the number of claims emitted.
func (s *Source) loadFile(ctx context.Context, path string, fn func(*claim.Claim) error) (int, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from Discover's glob
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return 0, err
	}

	count := 0
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed CSV row (bad quoting, wrong field count): skip it
			// like any other row-level failure.
			s.warnRow(path, line, err)
			continue
		}
		c, err := parseRow(cols, record)
		if err != nil {
			s.warnRow(path, line, err)
			continue
		}
		if err := fn(c); err != nil {
			return count, err
		}
		count++
		s.loaded.Add(1)
	}
	return count, nil
}

func (s *Source) warnRow(path string, line int, err error) {
	s.skipped.Add(1)
	fmt.Fprintf(s.err, "Warning: %s line %d: skipping row: %v\n", filepath.Base(path), line, err)
}
