// Package history persists the wakeup history log: an append-only,
// deduplicated, size-bounded JSON record of orchestrated wakeups.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mlewan01/codex-cockpit/internal/logger"
	"github.com/mlewan01/codex-cockpit/internal/models"
)

const (
	// FileName is the history file name inside the data directory.
	FileName = "codex_wakeup_history.json"
	// MaxItems bounds the retained history.
	MaxItems = 100
)

// Log is the wakeup history log backed by one JSON file. Appends are
// serialized by a single lock; writes are atomic (temp file + rename) so a
// reader never observes a partially written file.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog creates a history log stored under dataDir.
func NewLog(dataDir string) *Log {
	return &Log{path: filepath.Join(dataDir, FileName)}
}

// Load reads all history items. An absent file yields an empty list.
func (l *Log) Load() ([]models.WakeupHistoryItem, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.WakeupHistoryItem{}, nil
		}
		return nil, fmt.Errorf("failed to read wakeup history: %w", err)
	}

	if len(data) == 0 {
		return []models.WakeupHistoryItem{}, nil
	}

	var items []models.WakeupHistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse wakeup history: %w", err)
	}
	return items, nil
}

// Append merges new items into the log: items whose id already exists are
// discarded, the rest are merged newest-first by timestamp, and the log is
// truncated to the most recent MaxItems entries.
func (l *Log) Append(newItems []models.WakeupHistoryItem) error {
	if len(newItems) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Unreadable or absent file is treated as empty, never a failure.
	existing, err := l.Load()
	if err != nil {
		logger.Warn("failed to load wakeup history, starting fresh", "error", err)
		existing = nil
	}

	existingIDs := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		existingIDs[item.ID] = struct{}{}
	}

	var filtered []models.WakeupHistoryItem
	for _, item := range newItems {
		if _, ok := existingIDs[item.ID]; !ok {
			filtered = append(filtered, item)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	merged := append(filtered, existing...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})
	if len(merged) > MaxItems {
		merged = merged[:MaxItems]
	}

	if err := l.save(merged); err != nil {
		return err
	}

	logger.Info("wakeup history updated", "added", len(filtered), "total", len(merged))
	return nil
}

// Clear persists an empty history list.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.save([]models.WakeupHistoryItem{}); err != nil {
		return err
	}
	logger.Info("wakeup history cleared")
	return nil
}

// save writes items atomically: serialize to a temp file in the same
// directory, then rename it over the target.
func (l *Log) save(items []models.WakeupHistoryItem) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize wakeup history: %w", err)
	}

	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary history file: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil {
			logger.Error("failed to remove temp history file", "error", removeErr)
		}
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}
