package compose

import (
	"errors"
	"os"
)

// ErrNoCandidate is returned when no manual exposure can be selected.
var ErrNoCandidate = errors.New("no canonical candidate")

// Selector picks the canonical image among manual exposures.
type Selector interface {
	Select(paths []string) (string, error)
}

// LargestFile treats the largest file as the one carrying the most detail.
// It is a size heuristic, not a histogram analysis. Ties go to the
// lexicographically smallest path, so the choice never depends on input order.
type LargestFile struct {
	// Stat defaults to os.Stat.
	Stat func(name string) (os.FileInfo, error)
}

func (s LargestFile) Select(paths []string) (string, error) {
	stat := s.Stat
	if stat == nil {
		stat = os.Stat
	}

	var (
		best     string
		bestSize int64 = -1
	)
	for _, p := range paths {
		fi, err := stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		size := fi.Size()
		if size > bestSize || (size == bestSize && p < best) {
			best, bestSize = p, size
		}
	}
	if bestSize < 0 {
		return "", ErrNoCandidate
	}
	return best, nil
}
