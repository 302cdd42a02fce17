// Package export writes export documents to disk and prunes old copies.
package export

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/man4korea/kdv-erp/internal/clock"
	"github.com/man4korea/kdv-erp/internal/model"
)

const (
	filePrefix      = "kdv-logs-"
	defaultKeepLast = 20
)

// Source produces an export document for a filter. model.DashboardReader
// satisfies it.
type Source interface {
	Export(filter model.LogFilter) ([]byte, error)
}

// Config controls where exports are written.
type Config struct {
	Dir string
	// KeepLast is how many export files are kept after each write.
	KeepLast int
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Writer saves export documents as timestamped files.
type Writer struct {
	cfg Config
}

// New validates cfg and creates the export directory.
func New(cfg Config) (*Writer, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("export: export-dir is required")
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create export-dir: %w", err)
	}
	return &Writer{cfg: cfg}, nil
}

// Export fetches the document for filter from src and saves it.
func (w *Writer) Export(src Source, filter model.LogFilter) (string, error) {
	data, err := src.Export(filter)
	if err != nil {
		return "", fmt.Errorf("export: build document: %w", err)
	}
	return w.Save(data)
}

// Save writes data to a new kdv-logs-YYYYMMDD-HHMMSS.json file and prunes
// older files beyond KeepLast.
func (w *Writer) Save(data []byte) (string, error) {
	name := FileName(w.cfg.Clock.Now())
	path, err := writeNew(w.cfg.Dir, name, data)
	if err != nil {
		return "", fmt.Errorf("export: write %s: %w", name, err)
	}
	w.cfg.Logger.Info("export: wrote log export", "path", path, "bytes", len(data))

	if err := prune(w.cfg.Dir, w.cfg.KeepLast); err != nil {
		w.cfg.Logger.Warn("export: pruning old exports failed", "dir", w.cfg.Dir, "error", err)
	}
	return path, nil
}

// FileName is the export file name for t, in UTC.
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format("20060102-150405") + ".json"
}

// writeNew creates name in dir without replacing an existing file. Exports
// within the same second get a numeric suffix that still sorts after the
// first one.
func writeNew(dir, name string, data []byte) (string, error) {
	base := strings.TrimSuffix(name, ".json")
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d.json", base, i)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", err
		}
		return path, f.Close()
	}
}

func prune(dir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*.json"))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	sort.Slice(matches, func(i, j int) bool {
		// timestamp is embedded in the name, so lexical order is chronological
		return matches[i] > matches[j]
	})

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
