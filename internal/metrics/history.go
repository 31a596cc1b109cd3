package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kamilpajak/heisenberg-heal/internal/fileutil"
	"go.uber.org/zap"
)

// Snapshot is one entry of the history file.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Summary   Summary   `json:"summary"`
}

// StoreHistory appends a snapshot of the current summary to the JSON array
// at path, creating the file when needed. The read-append-write cycle holds
// a file lock so concurrent runs do not drop each other's snapshots.
func (m *Metrics) StoreHistory(path string) error {
	lock, err := fileutil.LockFile(path)
	if err != nil {
		return fmt.Errorf("Failed to store history: %w", err)
	}
	defer lock.Unlock()

	history, err := readHistory(path)
	if err != nil {
		return fmt.Errorf("Failed to store history: %w", err)
	}

	history = append(history, Snapshot{Timestamp: m.now(), Summary: m.GenerateSummary()})
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("Failed to store history: %w", err)
	}
	if err := fileutil.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("Failed to store history: %w", err)
	}

	m.log.Info("metrics history stored", zap.String("path", path), zap.Int("snapshots", len(history)))
	return nil
}

// LoadHistory returns every stored snapshot, or an empty slice when path
// does not exist.
func LoadHistory(path string) ([]Snapshot, error) {
	history, err := readHistory(path)
	if err != nil {
		return nil, fmt.Errorf("Failed to load history: %w", err)
	}
	return history, nil
}

// LoadHistory is the method form of the package-level LoadHistory.
func (m *Metrics) LoadHistory(path string) ([]Snapshot, error) {
	return LoadHistory(path)
}

func readHistory(path string) ([]Snapshot, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []Snapshot{}, nil
	}

	var history []Snapshot
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("invalid history file %s: %w", path, err)
	}
	if history == nil {
		history = []Snapshot{}
	}
	return history, nil
}
