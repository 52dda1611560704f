// Package buffer spools reports to disk as timestamped JSON files so an
// external transport can pick them up later. Files survive restarts and
// the oldest are dropped once the size limit is reached.
package buffer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vitalis-app/rescontrol/internal/models"
)

// Buffer is a size-capped directory of report files.
type Buffer struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	mu       sync.Mutex
}

// New creates a buffer at dir, creating the directory if needed.
func New(dir string, maxSizeMB int, logger *zap.Logger) (*Buffer, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		dir:      dir,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		logger:   logger.Named("buffer"),
	}, nil
}

// Store writes a report to its own file. Oldest files are dropped until
// the new one fits under the size limit.
func (b *Buffer) Store(report models.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.currentSize()+int64(len(data)) > b.maxBytes {
		if !b.dropOldest() {
			break
		}
	}

	return os.WriteFile(filepath.Join(b.dir, fileName(report)), data, 0640)
}

// Reports reads every spooled report in chronological order without
// removing them. Unreadable files are skipped.
func (b *Buffer) Reports() ([]models.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(false)
}

// RetrieveAll reads every spooled report and removes the files.
// Corrupted files are removed and logged.
func (b *Buffer) RetrieveAll() ([]models.Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(true)
}

// Count returns the number of spooled reports.
func (b *Buffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	files, _ := b.files()
	return len(files)
}

func (b *Buffer) read(remove bool) ([]models.Report, error) {
	files, err := b.files()
	if err != nil {
		return nil, err
	}

	var reports []models.Report
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			b.logger.Warn("Failed to read buffer file",
				zap.String("file", path),
				zap.Error(err))
			continue
		}

		var r models.Report
		if err := json.Unmarshal(data, &r); err != nil {
			b.logger.Warn("Failed to parse buffer file, removing corrupted file",
				zap.String("file", path),
				zap.Error(err))
			os.Remove(path)
			continue
		}

		reports = append(reports, r)
		if remove {
			os.Remove(path)
		}
	}
	return reports, nil
}

// files lists report files oldest first. Must be called with b.mu held.
func (b *Buffer) files() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			out = append(out, filepath.Join(b.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// currentSize returns the total size of all report files in bytes.
// Must be called with b.mu held.
func (b *Buffer) currentSize() int64 {
	files, err := b.files()
	if err != nil {
		return 0
	}
	var total int64
	for _, path := range files {
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	return total
}

// dropOldest removes the oldest report file and reports whether one was
// removed. Must be called with b.mu held.
func (b *Buffer) dropOldest() bool {
	files, err := b.files()
	if err != nil || len(files) == 0 {
		return false
	}
	b.logger.Warn("Buffer full, dropping oldest report", zap.String("file", files[0]))
	if err := os.Remove(files[0]); err != nil {
		b.logger.Warn("Failed to remove oldest buffer file",
			zap.String("file", files[0]),
			zap.Error(err))
		return false
	}
	return true
}

func fileName(r models.Report) string {
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return r.GeneratedAt.UTC().Format("20060102T150405.000") + "-" + id + ".json"
}
