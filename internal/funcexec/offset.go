package funcexec

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tabsdata/tdworker/internal/protocol"
	"github.com/tabsdata/tdworker/internal/turi"
)

// Offset is the opaque mapping a function persists at the end of a run
// and receives at the start of the next, carried in the reserved
// $td.initial_values slot (spec.md §3).
type Offset map[string]any

// LoadOffset reads the prior Offset from input slot zero. A Table with
// no URI (first run, no prior state) yields an empty Offset.
func LoadOffset(ctx context.Context, slot protocol.InputSlot) (Offset, error) {
	if slot.Kind != protocol.InputSlotTable {
		return nil, fmt.Errorf("funcexec: %s must be a single table, not a version list", protocol.InitialValuesSlotName)
	}
	table := slot.Table
	if !table.HasData() {
		return Offset{}, nil
	}

	path, err := turi.ToPath(*table.URI)
	if err != nil {
		return nil, fmt.Errorf("funcexec: resolve offset path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Offset{}, nil
		}
		return nil, fmt.Errorf("funcexec: read offset: %w", err)
	}
	var offset Offset
	if err := json.Unmarshal(data, &offset); err != nil {
		return nil, fmt.Errorf("funcexec: parse offset: %w", err)
	}
	return offset, nil
}

// SaveOffset persists offset to the output table's URI as JSON.
func SaveOffset(ctx context.Context, table protocol.Table, offset Offset) error {
	if table.URI == nil || *table.URI == "" {
		return fmt.Errorf("funcexec: offset output slot has no URI")
	}
	path, err := turi.ToPath(*table.URI)
	if err != nil {
		return fmt.Errorf("funcexec: resolve offset path: %w", err)
	}
	data, err := json.Marshal(offset)
	if err != nil {
		return fmt.Errorf("funcexec: encode offset: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("funcexec: create offset dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("funcexec: write offset: %w", err)
	}
	return nil
}
