package judge

import (
	"strings"
	"time"

	"prayukti-judge/internal/sandbox"
	"prayukti-judge/internal/storage"
)

// Placeholders shown in place of hidden test case content.
const (
	HiddenPlaceholder = "[hidden]"
	HiddenPassed      = "[hidden: output matched]"
	HiddenFailed      = "[hidden: output did not match]"
)

// Summary characters, one per test case.
const (
	summaryPass = 'P'
	summaryFail = 'F'
)

// CaseOutcome is the graded result of one test case, in experiment order.
type CaseOutcome struct {
	Index          int                `json:"index"`
	Visibility     storage.Visibility `json:"visibility"`
	Input          string             `json:"input"`
	ExpectedOutput string             `json:"expected_output"`
	ActualOutput   string             `json:"actual_output"`
	Passed         bool               `json:"passed"`
	Marks          int                `json:"marks"`
	Status         sandbox.Status     `json:"status"`
	ExecutionTime  time.Duration      `json:"execution_time"`
}

// Report is returned to the student after a submit.
type Report struct {
	SubmissionID string          `json:"submission_id"`
	ExperimentID string          `json:"experiment_id"`
	Verdict      storage.Verdict `json:"verdict"`
	Score        int             `json:"score"`
	MaxScore     int             `json:"max_score"`
	Summary      string          `json:"summary"`
	CompileError string          `json:"compile_error,omitempty"`
	Cases        []CaseOutcome   `json:"cases"`
}

// outputsMatch compares trimmed outputs byte for byte. Interior whitespace
// is significant.
func outputsMatch(actual, expected string) bool {
	return strings.TrimSpace(actual) == strings.TrimSpace(expected)
}

// tally computes verdict, score, max score and summary from ordered outcomes.
func tally(cases []CaseOutcome) (storage.Verdict, int, int, string) {
	verdict := storage.VerdictPass
	score, maxScore := 0, 0
	var sb strings.Builder
	sb.Grow(len(cases))

	for _, c := range cases {
		maxScore += c.Marks
		if c.Passed {
			score += c.Marks
			sb.WriteByte(summaryPass)
			continue
		}
		verdict = storage.VerdictFail
		sb.WriteByte(summaryFail)
	}
	return verdict, score, maxScore, sb.String()
}

// redact replaces hidden content in place. The pass flag survives.
func redact(cases []CaseOutcome) {
	for i := range cases {
		c := &cases[i]
		if c.Visibility != storage.VisibilityHidden {
			continue
		}
		c.Input = HiddenPlaceholder
		c.ExpectedOutput = HiddenPlaceholder
		if c.Passed {
			c.ActualOutput = HiddenPassed
		} else {
			c.ActualOutput = HiddenFailed
		}
	}
}

// StudentView returns a copy of exp safe to show students: hidden test cases
// keep their marks and position but not their content.
func StudentView(exp *storage.Experiment) *storage.Experiment {
	cp := *exp
	cp.TestCases = make([]storage.TestCase, len(exp.TestCases))
	for i, tc := range exp.TestCases {
		if tc.Visibility == storage.VisibilityHidden {
			tc.Input = HiddenPlaceholder
			tc.ExpectedOutput = HiddenPlaceholder
		}
		cp.TestCases[i] = tc
	}
	return &cp
}
