package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Visibility controls whether a test case's content may be shown to students.
type Visibility string

const (
	VisibilityPublic Visibility = "PUBLIC"
	VisibilityHidden Visibility = "HIDDEN"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityHidden
}

// Verdict is the final classification of a graded submission.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictFail  Verdict = "FAIL"
	VerdictError Verdict = "ERROR"
)

// TestCase belongs to exactly one experiment. Order within the experiment is
// the display and evaluation order.
type TestCase struct {
	Input          string     `json:"input" yaml:"input"`
	ExpectedOutput string     `json:"expected_output" yaml:"expected_output"`
	Visibility     Visibility `json:"visibility" yaml:"visibility"`
	Marks          int        `json:"marks" yaml:"marks"`
}

type Experiment struct {
	ID               string     `json:"id" yaml:"id" db:"id"`
	Title            string     `json:"title" yaml:"title" db:"title"`
	ProblemStatement string     `json:"problem_statement" yaml:"problem_statement" db:"problem_statement"`
	Theory           string     `json:"theory,omitempty" yaml:"theory" db:"theory"`
	StarterCode      string     `json:"starter_code,omitempty" yaml:"starter_code" db:"starter_code"`
	TestCases        []TestCase `json:"test_cases" yaml:"test_cases" db:"test_cases"`
	CreatedAt        time.Time  `json:"created_at" yaml:"-" db:"created_at"`
}

// MaxScore is the sum of marks over all test cases.
func (e *Experiment) MaxScore() int {
	total := 0
	for _, tc := range e.TestCases {
		total += tc.Marks
	}
	return total
}

// Summary drops the test cases.
func (e *Experiment) Summary() ExperimentSummary {
	return ExperimentSummary{
		ID:        e.ID,
		Title:     e.Title,
		MaxScore:  e.MaxScore(),
		CreatedAt: e.CreatedAt,
	}
}

// ExperimentSummary is the list view of an experiment.
type ExperimentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	MaxScore  int       `json:"max_score"`
	CreatedAt time.Time `json:"created_at"`
}

// Submission is an append-only ledger entry.
type Submission struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	ExperimentID string    `json:"experiment_id" db:"experiment_id"`
	Code         string    `json:"code" db:"code"`
	Verdict      Verdict   `json:"verdict" db:"verdict"`
	Score        int       `json:"score" db:"score"`
	MaxScore     int       `json:"max_score" db:"max_score"`
	Summary      string    `json:"summary" db:"summary"` // One character per test case
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// SubmissionFilter provides criteria for querying the ledger. Empty fields
// match everything.
type SubmissionFilter struct {
	UserID       string
	ExperimentID string
	Limit        int
	Offset       int
}

func (f SubmissionFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return 100
	}
	return f.Limit
}

// ExperimentStore holds experiment definitions.
type ExperimentStore interface {
	ListExperiments(ctx context.Context) ([]ExperimentSummary, error)
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	CreateExperiment(ctx context.Context, exp *Experiment) error
}

// Ledger persists graded submissions. Entries are never updated.
type Ledger interface {
	AppendSubmission(ctx context.Context, sub *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]Submission, error)
}

// Store is everything the judge needs from persistence.
type Store interface {
	ExperimentStore
	Ledger
	Healthy(ctx context.Context) bool
	Close()
}
