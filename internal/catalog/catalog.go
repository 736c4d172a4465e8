// Package catalog maps processing dates and layers onto the data directory.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

// StateFileName is the per-run state record inside a date's processed directory.
const StateFileName = "run_state.yaml"

// Layout resolves raw and processed paths.
type Layout struct {
	RawDir       string
	ProcessedDir string
}

// RawPath returns data/raw/<date>/<name>.
func (l Layout) RawPath(date domain.Date, name string) string {
	return filepath.Join(l.RawDir, date.String(), name)
}

// RunDir returns the processed directory owned by date's run.
func (l Layout) RunDir(date domain.Date) string {
	return filepath.Join(l.ProcessedDir, date.String())
}

// LayerPath returns the output path of layer for date.
func (l Layout) LayerPath(date domain.Date, layer domain.Layer) string {
	return filepath.Join(l.RunDir(date), layer.FileName())
}

// StatePath returns the state record path for date.
func (l Layout) StatePath(date domain.Date) string {
	return filepath.Join(l.RunDir(date), StateFileName)
}

// Dates lists processed date directories in ascending order. Entries that
// are not YYYY-MM-DD directories are ignored; a missing processed root is
// an empty catalog.
func (l Layout) Dates() ([]domain.Date, error) {
	entries, err := os.ReadDir(l.ProcessedDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", l.ProcessedDir, err)
	}
	var dates []domain.Date
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d, err := domain.ParseDate(e.Name())
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b domain.Date) int { return a.Time().Compare(b.Time()) })
	return dates, nil
}

// CompletedDates lists dates whose composite index exists, ascending.
func (l Layout) CompletedDates() ([]domain.Date, error) {
	dates, err := l.Dates()
	if err != nil {
		return nil, err
	}
	out := dates[:0]
	for _, d := range dates {
		if _, err := os.Stat(l.LayerPath(d, domain.LayerTCHI)); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}
