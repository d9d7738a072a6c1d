// Package mapping reads the counter map that ties archive files to counter names.
//
// Each non-empty line holds "COUNTERID counter.name [gauge|counter]",
// whitespace separated. Lines starting with '#' are comments.
package mapping

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nicktill/rrdimport/pkg/resample"
)

// ErrInvalidMapping marks a corrupt mapping file; it aborts the whole run
var ErrInvalidMapping = errors.New("invalid mapping")

// Entry is one counter to import
type Entry struct {
	ID   string
	Name string

	// Kind overrides the run-wide kind when HasKind is set
	Kind    resample.Kind
	HasKind bool

	Line int
}

// KindOr returns the entry's kind, or def when the line did not name one
func (e Entry) KindOr(def resample.Kind) resample.Kind {
	if e.HasKind {
		return e.Kind
	}
	return def
}

// StreamPath returns root/<name with dots as slashes>/<tier>
func (e Entry) StreamPath(root, tier string) string {
	parts := strings.Split(e.Name, ".")
	return filepath.Join(append(append([]string{root}, parts...), tier)...)
}

// Parse reads all entries. The first bad line fails the whole file.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: missing counter name", ErrInvalidMapping, lineNo)
		}
		if len(fields) > 3 {
			return nil, fmt.Errorf("%w: line %d: too many fields", ErrInvalidMapping, lineNo)
		}

		e := Entry{ID: fields[0], Name: fields[1], Line: lineNo}
		if err := validateName(e.Name); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidMapping, lineNo, err)
		}
		if len(fields) == 3 {
			kind, err := resample.ParseKind(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidMapping, lineNo, err)
			}
			e.Kind = kind
			e.HasKind = true
		}

		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}

	return entries, nil
}

// Load parses the mapping file at path
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// validateName rejects names that would escape the store root
func validateName(name string) error {
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return fmt.Errorf("empty component in %q", name)
		}
		if strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("path separator in %q", name)
		}
	}
	return nil
}
