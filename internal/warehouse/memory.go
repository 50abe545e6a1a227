package warehouse

import (
	"context"
	"fmt"
	"sync"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// Memory is an in-memory warehouse for local development and tests.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]pipeline.Row
	specs  map[string]pipeline.TableSpec
}

var _ pipeline.Warehouse = (*Memory)(nil)

// NewMemory creates an empty in-memory warehouse.
func NewMemory() *Memory {
	return &Memory{
		tables: make(map[string][]pipeline.Row),
		specs:  make(map[string]pipeline.TableSpec),
	}
}

// EnsureTable registers the spec; rows are validated against it on load.
func (m *Memory) EnsureTable(_ context.Context, spec pipeline.TableSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("table name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specs[spec.Name]; !ok {
		m.specs[spec.Name] = spec
		m.tables[spec.Name] = nil
	}
	return nil
}

// Load appends rows, rejecting rows missing required columns.
func (m *Memory) Load(_ context.Context, spec pipeline.TableSpec, rows []pipeline.Row) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.specs[spec.Name]
	if !ok {
		return 0, fmt.Errorf("table %s not created", spec.Name)
	}
	for i, row := range rows {
		for _, col := range stored.Columns {
			if !col.Required {
				continue
			}
			if v, present := row[col.Name]; !present || v == nil || v == "" {
				return 0, fmt.Errorf("row %d missing required column %q", i, col.Name)
			}
		}
	}
	m.tables[spec.Name] = append(m.tables[spec.Name], rows...)
	return len(rows), nil
}

// ExistingKeys scans loaded rows for matching row_key values.
func (m *Memory) ExistingKeys(_ context.Context, spec pipeline.TableSpec, keys []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	existing := make(map[string]bool)
	for _, row := range m.tables[spec.Name] {
		if k, _ := row[pipeline.ColRowKey].(string); k != "" && want[k] {
			existing[k] = true
		}
	}
	return existing, nil
}

// Rows returns a copy of the stored rows for a table.
func (m *Memory) Rows(table string) []pipeline.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]pipeline.Row, len(m.tables[table]))
	copy(out, m.tables[table])
	return out
}

// Close implements pipeline.Warehouse.
func (m *Memory) Close() error { return nil }
