package api

import (
	"encoding/json"
	"testing"
	"time"

	"prayukti-judge/internal/sandbox"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{`"2s"`, 2 * time.Second, false},
		{`"500ms"`, 500 * time.Millisecond, false},
		{`"1m"`, time.Minute, false},
		{`"not-a-duration"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalJSON(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && d.Duration != tt.want {
				t.Errorf("UnmarshalJSON(%s) = %s, want %s", tt.input, d.Duration, tt.want)
			}
		})
	}
}

func TestRunRequest_OptionalTimeout(t *testing.T) {
	var req RunRequest
	if err := json.Unmarshal([]byte(`{"code":"class A {}","input":"1 2"}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.Timeout.Duration != 0 {
		t.Errorf("Timeout = %s, want 0 when omitted", req.Timeout.Duration)
	}
	if req.Input != "1 2" {
		t.Errorf("Input = %q", req.Input)
	}
}

func TestNewExecutionResponse(t *testing.T) {
	res := &sandbox.ExecutionResult{
		ID:            "r1",
		Output:        "partial",
		Error:         sandbox.TimeLimitMessage,
		ExitCode:      -1,
		Status:        sandbox.StatusTimeout,
		ExecutionTime: 2 * time.Second,
	}
	resp := newExecutionResponse(res)
	if resp.ExecutionTimeMS != 2000 {
		t.Errorf("ExecutionTimeMS = %d, want 2000", resp.ExecutionTimeMS)
	}
	if resp.Success || resp.Output != "partial" || resp.Error != sandbox.TimeLimitMessage {
		t.Errorf("response = %+v", resp)
	}
}
