package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EvaluationState is the outcome of an evaluation.
type EvaluationState string

const (
	EvaluationSucceeded EvaluationState = "SUCCEEDED"
	EvaluationFailed    EvaluationState = "FAILED"
)

// Evaluation is one recorded run of the expression pipeline.
type Evaluation struct {
	Name       string          `json:"name"`
	Expression string          `json:"expression"`
	Grammar    string          `json:"grammar"`
	Dataset    string          `json:"dataset,omitempty"`
	Row        int             `json:"row,omitempty"`
	State      EvaluationState `json:"state"`
	Result     string          `json:"result,omitempty"`
	ResultType string          `json:"resultType,omitempty"`
	Error      string          `json:"error,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	CreateTime time.Time       `json:"createTime"`
}

// History records evaluations and prunes old ones.
type History interface {
	// Record stores e, assigning Name and CreateTime when they are empty.
	Record(ctx context.Context, e *Evaluation) error
	// List returns up to limit evaluations, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Evaluation, error)
	// Prune removes evaluations created before the cutoff and returns how
	// many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)
	// Close releases any resources held by the history.
	Close() error
}

// MemoryHistory is a History kept in process memory.
type MemoryHistory struct {
	mu      sync.RWMutex
	entries []*Evaluation
	counter int64
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Record(_ context.Context, e *Evaluation) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counter++
	if e.Name == "" {
		e.Name = fmt.Sprintf("evaluations/eval-%d", h.counter)
	}
	if e.CreateTime.IsZero() {
		e.CreateTime = time.Now()
	}
	cp := *e
	h.entries = append(h.entries, &cp)
	return nil
}

func (h *MemoryHistory) List(_ context.Context, limit int) ([]*Evaluation, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]*Evaluation, 0, n)
	for i := len(h.entries) - 1; i >= 0 && len(result) < n; i-- {
		cp := *h.entries[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (h *MemoryHistory) Prune(_ context.Context, before time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.entries[:0]
	removed := 0
	for _, e := range h.entries {
		if e.CreateTime.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(h.entries); i++ {
		h.entries[i] = nil
	}
	h.entries = kept
	return removed, nil
}

func (h *MemoryHistory) Close() error { return nil }
