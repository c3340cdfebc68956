// Package inventory discovers pre-split upload parts on disk and validates
// that they form a complete, gap-free sequence before any bytes go over the wire.
package inventory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"
)

// Part is a single on-disk part candidate, ordered by its numeric suffix.
type Part struct {
	Number    int32
	LocalPath string
	SizeBytes int64
}

var (
	// ErrNoParts is returned when the scan finds no matching part files.
	ErrNoParts = errors.New("no part files found")
	// ErrPartGap is returned when part numbering is not contiguous starting at 1.
	ErrPartGap = errors.New("part numbers are not contiguous")
	// ErrDuplicatePart is returned when two files parse to the same part number.
	ErrDuplicatePart = errors.New("duplicate part number")
	// ErrEmptyPart is returned when a part file has zero bytes.
	ErrEmptyPart = errors.New("empty part file")
)

// Part files carry a purely numeric extension (leading zeroes allowed),
// e.g. archive.tar.01, archive.tar.02.
var partSuffixRegexp = regexp.MustCompile(`\.([0-9]+)$`)

// Build scans dir for part files matching basePattern and returns them ordered
// by part number. basePattern is a glob without the numeric suffix; an empty
// pattern matches every file in the directory. The scan is read-only.
func Build(dir string, basePattern string) ([]Part, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat parts dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	if basePattern == "" {
		basePattern = "*"
	}
	pattern := basePattern + ".*"

	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("glob part pattern %s: %w", pattern, err)
	}

	byNumber := map[int32]Part{}
	for _, match := range matches {
		submatch := partSuffixRegexp.FindStringSubmatch(match)
		if submatch == nil {
			continue
		}
		number, err := strconv.ParseInt(submatch[1], 10, 32)
		if err != nil || number < 1 {
			continue
		}

		path := filepath.Join(dir, match)
		stat, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat part file: %w", err)
		}
		if stat.IsDir() {
			continue
		}
		if stat.Size() == 0 {
			return nil, fmt.Errorf("part file %s: %w", match, ErrEmptyPart)
		}

		if existing, ok := byNumber[int32(number)]; ok {
			return nil, fmt.Errorf("part number %d claimed by both %s and %s: %w",
				number, filepath.Base(existing.LocalPath), match, ErrDuplicatePart)
		}
		byNumber[int32(number)] = Part{
			Number:    int32(number),
			LocalPath: path,
			SizeBytes: stat.Size(),
		}
	}

	if len(byNumber) == 0 {
		return nil, fmt.Errorf("no files matching %s in %s: %w", pattern, dir, ErrNoParts)
	}

	parts := make([]Part, 0, len(byNumber))
	for _, part := range byNumber {
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].Number < parts[j].Number
	})

	for i, part := range parts {
		if part.Number != int32(i+1) {
			return nil, fmt.Errorf("expected part %d, found part %d: %w", i+1, part.Number, ErrPartGap)
		}
	}

	return parts, nil
}

// TotalSize returns the summed size of all parts in bytes.
func TotalSize(parts []Part) int64 {
	var total int64
	for _, part := range parts {
		total += part.SizeBytes
	}
	return total
}

// IsInventoryError reports whether err belongs to the part validation error
// class, as opposed to a filesystem failure.
func IsInventoryError(err error) bool {
	return errors.Is(err, ErrNoParts) ||
		errors.Is(err, ErrPartGap) ||
		errors.Is(err, ErrDuplicatePart) ||
		errors.Is(err, ErrEmptyPart)
}
