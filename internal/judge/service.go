// Package judge grades submitted source against an experiment's test cases
// and records each graded attempt in the submission ledger.
package judge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"prayukti-judge/internal/guard"
	"prayukti-judge/internal/monitor"
	"prayukti-judge/internal/sandbox"
	"prayukti-judge/internal/storage"
)

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidExperiment  = errors.New("invalid experiment")
	ErrInvalidSubmission  = errors.New("invalid submission")
)

var experimentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Builder compiles and runs source.
type Builder interface {
	Build(ctx context.Context, code string) (sandbox.Program, error)
	Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error)
}

var _ Builder = (*sandbox.Engine)(nil)

// Service is the judge boundary consumed by the HTTP layer and the CLI.
type Service struct {
	experiments storage.ExperimentStore
	ledger      storage.Ledger
	builder     Builder
	metrics     *monitor.Metrics
	tracer      *monitor.Tracer
	newID       func() string
}

// NewService wires the judge. metrics may be nil.
func NewService(experiments storage.ExperimentStore, ledger storage.Ledger, builder Builder, metrics *monitor.Metrics) *Service {
	return &Service{
		experiments: experiments,
		ledger:      ledger,
		builder:     builder,
		metrics:     metrics,
		tracer:      monitor.NewTracer(),
		newID:       func() string { return uuid.New().String() },
	}
}

func (s *Service) ListExperiments(ctx context.Context) ([]storage.ExperimentSummary, error) {
	return s.experiments.ListExperiments(ctx)
}

// GetExperiment returns the full experiment, hidden test cases included.
// Callers facing students should pass it through StudentView.
func (s *Service) GetExperiment(ctx context.Context, id string) (*storage.Experiment, error) {
	exp, err := s.experiments.GetExperiment(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, id)
	}
	return exp, err
}

// CreateExperiment validates and stores a new experiment. An empty ID is
// generated; an empty visibility defaults to PUBLIC.
func (s *Service) CreateExperiment(ctx context.Context, exp *storage.Experiment) (*storage.Experiment, error) {
	if exp.ID == "" {
		exp.ID = "exp-" + strings.ReplaceAll(s.newID(), "-", "")[:12]
	}
	for i := range exp.TestCases {
		if exp.TestCases[i].Visibility == "" {
			exp.TestCases[i].Visibility = storage.VisibilityPublic
		}
	}
	if err := validateExperiment(exp); err != nil {
		return nil, err
	}

	if err := s.experiments.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	log.Info().
		Str("experiment_id", exp.ID).
		Int("test_cases", len(exp.TestCases)).
		Int("max_score", exp.MaxScore()).
		Msg("experiment created")
	return exp, nil
}

func validateExperiment(exp *storage.Experiment) error {
	if !experimentIDPattern.MatchString(exp.ID) {
		return fmt.Errorf("%w: id %q must be 1-64 letters, digits, '-' or '_'", ErrInvalidExperiment, exp.ID)
	}
	if strings.TrimSpace(exp.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidExperiment)
	}
	if len(exp.TestCases) == 0 {
		return fmt.Errorf("%w: at least one test case is required", ErrInvalidExperiment)
	}
	for i, tc := range exp.TestCases {
		if tc.Marks <= 0 {
			return fmt.Errorf("%w: test case %d: marks must be positive", ErrInvalidExperiment, i)
		}
		if !tc.Visibility.Valid() {
			return fmt.Errorf("%w: test case %d: visibility must be PUBLIC or HIDDEN", ErrInvalidExperiment, i)
		}
	}
	return nil
}

// RunCode is the ungraded path: one execution with the caller's input and no
// ledger entry. A zero timeout uses the engine default. The result is non-nil
// whenever the experiment exists.
func (s *Service) RunCode(ctx context.Context, experimentID, code, input string, timeout time.Duration) (*sandbox.ExecutionResult, error) {
	ctx, span := s.tracer.StartSpan(ctx, "run", monitor.AttrExperimentID.String(experimentID))
	var spanErr error
	defer func() { monitor.EndSpan(span, spanErr) }()

	if _, err := s.GetExperiment(ctx, experimentID); err != nil {
		spanErr = err
		return nil, err
	}

	s.trackActive(1)
	defer s.trackActive(-1)
	s.observeCode(code)

	// Runs are bounded by their own deadline, not by the caller.
	res, err := s.builder.Execute(context.WithoutCancel(ctx), sandbox.ExecutionRequest{
		Code:    code,
		Stdin:   input,
		Timeout: timeout,
	})
	s.observeRun("run", res, err)
	if err != nil && !isStudentFault(err) {
		spanErr = err
	}
	return res, err
}

// SubmitCode grades code against every test case of the experiment and
// appends exactly one submission to the ledger. A guard rejection or an
// invalid request returns an error and records nothing.
func (s *Service) SubmitCode(ctx context.Context, userID, experimentID, code string) (*Report, error) {
	ctx, span := s.tracer.StartSpan(ctx, "submit",
		monitor.AttrExperimentID.String(experimentID),
		monitor.AttrUserID.String(userID),
	)
	var spanErr error
	defer func() { monitor.EndSpan(span, spanErr) }()

	if strings.TrimSpace(userID) == "" {
		spanErr = fmt.Errorf("%w: user_id is required", ErrInvalidSubmission)
		return nil, spanErr
	}

	exp, err := s.GetExperiment(ctx, experimentID)
	if err != nil {
		spanErr = err
		return nil, err
	}

	s.trackActive(1)
	defer s.trackActive(-1)
	s.observeCode(code)

	// Once grading starts it runs to completion and is recorded.
	ctx = context.WithoutCancel(ctx)

	logger := log.With().
		Str("experiment_id", exp.ID).
		Str("user_id", userID).
		Logger()

	cases, compileErr, err := s.grade(ctx, exp, code)
	if err != nil {
		if sandbox.IsSecurityRejection(err) {
			logger.Warn().Msg("submission rejected by guard, nothing recorded")
		} else {
			logger.Error().Err(err).Msg("submission could not be graded")
		}
		spanErr = err
		return nil, err
	}

	verdict, score, maxScore, summary := tally(cases)
	sub := &storage.Submission{
		ID:           s.newID(),
		UserID:       userID,
		ExperimentID: exp.ID,
		Code:         code,
		Verdict:      verdict,
		Score:        score,
		MaxScore:     maxScore,
		Summary:      summary,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.ledger.AppendSubmission(ctx, sub); err != nil {
		spanErr = err
		return nil, fmt.Errorf("recording submission: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordSubmission(string(verdict), score, maxScore)
	}

	span.SetAttributes(
		monitor.AttrSubmissionID.String(sub.ID),
		monitor.AttrVerdict.String(string(verdict)),
		monitor.AttrScore.Int(score),
		monitor.AttrCaseCount.Int(len(cases)),
	)
	logger.Info().
		Str("submission_id", sub.ID).
		Str("verdict", string(verdict)).
		Int("score", score).
		Int("max_score", maxScore).
		Str("summary", summary).
		Msg("submission graded")

	redact(cases)
	return &Report{
		SubmissionID: sub.ID,
		ExperimentID: exp.ID,
		Verdict:      verdict,
		Score:        score,
		MaxScore:     maxScore,
		Summary:      summary,
		CompileError: compileErr,
		Cases:        cases,
	}, nil
}

// grade builds once and runs every test case in order against the same
// artifact. A compilation failure fails every case with the diagnostics.
func (s *Service) grade(ctx context.Context, exp *storage.Experiment, code string) ([]CaseOutcome, string, error) {
	cases := make([]CaseOutcome, len(exp.TestCases))
	for i, tc := range exp.TestCases {
		cases[i] = CaseOutcome{
			Index:          i,
			Visibility:     tc.Visibility,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			Marks:          tc.Marks,
		}
	}

	prog, err := s.builder.Build(ctx, code)
	var ce *sandbox.CompilationError
	switch {
	case errors.As(err, &ce):
		s.observeRun("submit", nil, err)
		for i := range cases {
			cases[i].ActualOutput = ce.Diagnostics
			cases[i].Status = sandbox.StatusCompileError
		}
		return cases, ce.Diagnostics, nil
	case err != nil:
		s.observeRun("submit", nil, err)
		return nil, "", err
	}
	defer prog.Release()
	monitor.SpanFromContext(ctx).SetAttributes(monitor.AttrUnit.String(prog.Unit()))

	for i, tc := range exp.TestCases {
		res, err := prog.Run(ctx, tc.Input, 0)
		s.observeRun("submit", res, err)
		if errors.Is(err, sandbox.ErrClosed) {
			// A half-graded submission is not recorded.
			return nil, "", err
		}

		c := &cases[i]
		if res != nil {
			c.ActualOutput = res.Output
			c.Status = res.Status
			c.ExecutionTime = res.ExecutionTime
			if !res.Success && res.Error != "" && res.Output == "" {
				c.ActualOutput = res.Error
			}
		}
		c.Passed = err == nil && res != nil && res.Success && outputsMatch(res.Output, tc.ExpectedOutput)
	}
	return cases, "", nil
}

// GetSubmission returns one ledger entry.
func (s *Service) GetSubmission(ctx context.Context, id string) (*storage.Submission, error) {
	sub, err := s.ledger.GetSubmission(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, id)
	}
	return sub, err
}

func (s *Service) ListSubmissions(ctx context.Context, filter storage.SubmissionFilter) ([]storage.Submission, error) {
	return s.ledger.ListSubmissions(ctx, filter)
}

func (s *Service) trackActive(delta float64) {
	if s.metrics != nil {
		s.metrics.ActiveExecutions.Add(delta)
	}
}

func (s *Service) observeCode(code string) {
	if s.metrics != nil {
		s.metrics.CodeSizeBytes.Observe(float64(len(code)))
	}
}

func (s *Service) observeRun(mode string, res *sandbox.ExecutionResult, err error) {
	if s.metrics == nil {
		return
	}

	var rej *guard.RejectionError
	if errors.As(err, &rej) {
		s.metrics.RecordSecurityRejection(string(rej.Detection.Category))
	}

	if res == nil {
		res = sandbox.FailureResult(err)
	}
	s.metrics.RecordExecution(mode, string(res.Status), res.ExecutionTime.Seconds(), len(res.Output))
	if res.Status != sandbox.StatusCompleted {
		s.metrics.RecordError(string(res.Status))
	}
}

// isStudentFault reports errors caused by the submitted program rather than
// by the judge.
func isStudentFault(err error) bool {
	return sandbox.IsSecurityRejection(err) ||
		sandbox.IsCompilationError(err) ||
		sandbox.IsTimeout(err) ||
		sandbox.IsRuntimeError(err) ||
		errors.Is(err, sandbox.ErrInvalidRequest)
}
