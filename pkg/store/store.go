// Package store provides in-memory storage for datasets and a history of
// evaluations.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lemonberrylabs/mexpr/pkg/types"
)

var (
	// ErrNotFound reports a dataset that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists reports a dataset name that is taken.
	ErrAlreadyExists = errors.New("already exists")
	// ErrRowOutOfRange reports a row index outside a dataset.
	ErrRowOutOfRange = errors.New("row out of range")
)

// Row is one record of a dataset: variable name to literal value.
type Row map[string]types.Value

// Dataset is a named table of rows used to resolve expression variables.
type Dataset struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	RevisionID  string    `json:"revisionId"`
	Rows        []Row     `json:"rows"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`
}

// Columns returns the union of column names over all rows, sorted.
func (d *Dataset) Columns() []string {
	seen := make(map[string]bool)
	for _, row := range d.Rows {
		for k := range row {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Row returns the row at index i.
func (d *Dataset) Row(i int) (Row, error) {
	if i < 0 || i >= len(d.Rows) {
		return nil, fmt.Errorf("%w: row %d (dataset '%s' has %d rows)", ErrRowOutOfRange, i, d.Name, len(d.Rows))
	}
	return d.Rows[i], nil
}

// Store is a thread-safe in-memory storage for datasets.
type Store struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset

	revCounter int64
}

// New creates a new empty store.
func New() *Store {
	return &Store{
		datasets: make(map[string]*Dataset),
	}
}

// CreateDataset stores a new dataset. It fails if the name is taken.
func (s *Store) CreateDataset(name, description string, rows []Row) (*Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.datasets[name]; exists {
		return nil, fmt.Errorf("dataset '%s' %w", name, ErrAlreadyExists)
	}

	s.revCounter++
	now := time.Now()
	ds := &Dataset{
		Name:        name,
		Description: description,
		RevisionID:  fmt.Sprintf("%06d-000", s.revCounter),
		Rows:        copyRows(rows),
		CreateTime:  now,
		UpdateTime:  now,
	}
	s.datasets[name] = ds
	return ds, nil
}

// PutDataset creates the dataset or replaces its rows and description.
func (s *Store) PutDataset(name, description string, rows []Row) *Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revCounter++
	now := time.Now()
	ds, ok := s.datasets[name]
	if !ok {
		ds = &Dataset{Name: name, CreateTime: now}
	} else {
		// Readers may hold the old pointer.
		cp := *ds
		ds = &cp
	}
	ds.Description = description
	ds.Rows = copyRows(rows)
	ds.RevisionID = fmt.Sprintf("%06d-000", s.revCounter)
	ds.UpdateTime = now
	s.datasets[name] = ds
	return ds
}

// GetDataset retrieves a dataset by name.
func (s *Store) GetDataset(name string) (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ds, ok := s.datasets[name]
	if !ok {
		return nil, fmt.Errorf("dataset '%s' %w", name, ErrNotFound)
	}
	return ds, nil
}

// ListDatasets returns all datasets sorted by name.
func (s *Store) ListDatasets() []*Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Dataset, 0, len(s.datasets))
	for _, ds := range s.datasets {
		result = append(result, ds)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// DeleteDataset removes a dataset.
func (s *Store) DeleteDataset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.datasets[name]; !ok {
		return fmt.Errorf("dataset '%s' %w", name, ErrNotFound)
	}
	delete(s.datasets, name)
	return nil
}

func copyRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

// RowLookup resolves a variable from a Row passed as data.
func RowLookup(name string, data any) (types.Value, bool) {
	row, ok := data.(Row)
	if !ok {
		return types.Null, false
	}
	v, ok := row[name]
	return v, ok
}
