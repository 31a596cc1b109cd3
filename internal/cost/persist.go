package cost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kamilpajak/heisenberg-heal/internal/fileutil"
	"go.uber.org/zap"
)

type ledgerFile struct {
	Entries []LedgerEntry `json:"entries"`
}

// SaveLedger writes the ledger to path so spend carries across runs.
func (o *Optimizer) SaveLedger(path string) error {
	lock, err := fileutil.LockFile(path)
	if err != nil {
		return fmt.Errorf("Failed to save ledger: %w", err)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(ledgerFile{Entries: o.Ledger()}, "", "  ")
	if err != nil {
		return fmt.Errorf("Failed to save ledger: %w", err)
	}
	if err := fileutil.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("Failed to save ledger: %w", err)
	}
	return nil
}

// LoadLedger replaces the ledger with the one stored at path. A missing
// file leaves an empty ledger.
func (o *Optimizer) LoadLedger(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		o.Reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("Failed to load ledger: %w", err)
	}

	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("Failed to load ledger: %w", err)
	}

	o.mu.Lock()
	o.ledger = f.Entries
	o.reserved = make(map[string]float64)
	o.warned = false
	o.mu.Unlock()

	o.log.Debug("ledger loaded", zap.String("path", path), zap.Int("entries", len(f.Entries)))
	return nil
}
