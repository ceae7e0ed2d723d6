package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"prayukti-judge/internal/judge"
	"prayukti-judge/internal/sandbox"
	"prayukti-judge/internal/storage"
)

// Judge is the service the handlers call into. *judge.Service satisfies it.
type Judge interface {
	ListExperiments(ctx context.Context) ([]storage.ExperimentSummary, error)
	GetExperiment(ctx context.Context, id string) (*storage.Experiment, error)
	CreateExperiment(ctx context.Context, exp *storage.Experiment) (*storage.Experiment, error)
	RunCode(ctx context.Context, experimentID, code, input string, timeout time.Duration) (*sandbox.ExecutionResult, error)
	SubmitCode(ctx context.Context, userID, experimentID, code string) (*judge.Report, error)
	GetSubmission(ctx context.Context, id string) (*storage.Submission, error)
	ListSubmissions(ctx context.Context, filter storage.SubmissionFilter) ([]storage.Submission, error)
}

var _ Judge = (*judge.Service)(nil)

type Handlers struct {
	judge Judge
}

func NewHandlers(j Judge) *Handlers {
	return &Handlers{judge: j}
}

func (h *Handlers) HandleListExperiments(w http.ResponseWriter, r *http.Request) {
	list, err := h.judge.ListExperiments(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGetExperiment returns the student view: hidden test cases are
// redacted.
func (h *Handlers) HandleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := h.judge.GetExperiment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, judge.StudentView(exp))
}

func (h *Handlers) HandleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var exp storage.Experiment
	if !decodeJSON(w, r, &exp) {
		return
	}

	created, err := h.judge.CreateExperiment(r.Context(), &exp)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleRun answers 200 for every outcome caused by the student's program,
// including guard rejections and compile errors, so the client can show the
// result as is.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	res, err := h.judge.RunCode(r.Context(), r.PathValue("id"), req.Code, req.Input, req.Timeout.Duration)
	if err != nil {
		switch {
		case errors.Is(err, judge.ErrExperimentNotFound),
			errors.Is(err, sandbox.ErrInvalidRequest),
			errors.Is(err, sandbox.ErrClosed):
			writeServiceError(w, r, err)
			return
		case res == nil || res.Status == sandbox.StatusSystemError:
			requestLogger(r.Context()).Error().Err(err).Msg("execution failed")
			writeError(w, "execution failed", "EXECUTION_FAILED", http.StatusInternalServerError, r)
			return
		}
	}

	writeJSON(w, http.StatusOK, newExecutionResponse(res))
}

func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	report, err := h.judge.SubmitCode(r.Context(), req.UserID, r.PathValue("id"), req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) HandleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.judge.GetSubmission(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.SubmissionFilter{
		UserID:       q.Get("user_id"),
		ExperimentID: q.Get("experiment_id"),
		Limit:        100,
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, name+" must be a non-negative integer", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		*dst = n
	}

	subs, err := h.judge.ListSubmissions(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// writeServiceError maps judge and storage errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case sandbox.IsSecurityRejection(err):
		writeError(w, err.Error(), "SECURITY_REJECTED", http.StatusUnprocessableEntity, r)
	case errors.Is(err, judge.ErrExperimentNotFound), errors.Is(err, judge.ErrSubmissionNotFound):
		writeError(w, err.Error(), "NOT_FOUND", http.StatusNotFound, r)
	case errors.Is(err, judge.ErrInvalidExperiment),
		errors.Is(err, judge.ErrInvalidSubmission),
		errors.Is(err, sandbox.ErrInvalidRequest):
		writeError(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest, r)
	case errors.Is(err, storage.ErrDuplicate):
		writeError(w, err.Error(), "CONFLICT", http.StatusConflict, r)
	case errors.Is(err, sandbox.ErrClosed):
		writeError(w, "judge is shutting down", "UNAVAILABLE", http.StatusServiceUnavailable, r)
	default:
		requestLogger(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, "internal server error", "INTERNAL", http.StatusInternalServerError, r)
	}
}

// decodeJSON reads the request body into v, answering 413 or 400 itself
// when it cannot.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, r)
		return false
	}
	writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
