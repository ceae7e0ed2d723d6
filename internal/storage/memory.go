package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store for development and tests. Contents are lost
// on restart.
type Memory struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	order       []string
	submissions []*Submission
	byID        map[string]*Submission
}

func NewMemory() *Memory {
	return &Memory{
		experiments: make(map[string]*Experiment),
		byID:        make(map[string]*Submission),
	}
}

func (m *Memory) ListExperiments(_ context.Context) ([]ExperimentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ExperimentSummary, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.experiments[id].Summary())
	}
	return out, nil
}

func (m *Memory) GetExperiment(_ context.Context, id string) (*Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[id]
	if !ok {
		return nil, fmt.Errorf("experiment %s: %w", id, ErrNotFound)
	}
	return cloneExperiment(exp), nil
}

func (m *Memory) CreateExperiment(_ context.Context, exp *Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.experiments[exp.ID]; ok {
		return fmt.Errorf("experiment %s: %w", exp.ID, ErrDuplicate)
	}
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = time.Now().UTC()
	}
	m.experiments[exp.ID] = cloneExperiment(exp)
	m.order = append(m.order, exp.ID)
	return nil
}

func (m *Memory) AppendSubmission(_ context.Context, sub *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[sub.ID]; ok {
		return fmt.Errorf("submission %s: %w", sub.ID, ErrDuplicate)
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	cp := *sub
	m.submissions = append(m.submissions, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

func (m *Memory) GetSubmission(_ context.Context, id string) (*Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	cp := *sub
	return &cp, nil
}

// ListSubmissions returns matching entries newest first.
func (m *Memory) ListSubmissions(_ context.Context, filter SubmissionFilter) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Submission
	for _, sub := range m.submissions {
		if filter.UserID != "" && sub.UserID != filter.UserID {
			continue
		}
		if filter.ExperimentID != "" && sub.ExperimentID != filter.ExperimentID {
			continue
		}
		matched = append(matched, *sub)
	}

	// Stable keeps append order for equal timestamps; reverse it below.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if filter.Offset >= len(matched) {
		return []Submission{}, nil
	}
	matched = matched[max(filter.Offset, 0):]
	if limit := filter.limit(); len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (m *Memory) Healthy(_ context.Context) bool {
	return true
}

func (m *Memory) Close() {}

func cloneExperiment(e *Experiment) *Experiment {
	cp := *e
	cp.TestCases = append([]TestCase(nil), e.TestCases...)
	return &cp
}
