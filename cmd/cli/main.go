package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	serverURL    string
	experimentID string
	userID       string
	input        string
	runTimeout   time.Duration
	limit        int
)

func main() {
	root := &cobra.Command{
		Use:          "judgectl",
		Short:        "CLI client for the Prayukti judge",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("JUDGE_SERVER", "http://localhost:8080"), "Server URL")

	root.AddCommand(&cobra.Command{
		Use:   "experiments",
		Short: "List experiments",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/experiments", nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "experiment [id]",
		Short: "Show one experiment as a student sees it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call(http.MethodGet, "/experiments/"+url.PathEscape(args[0]), nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "create [file]",
		Short: "Create an experiment from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE:  runCreate,
	})

	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Compile and run a source file once with custom input (not graded)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "Experiment ID")
	runCmd.Flags().StringVarP(&input, "input", "i", "", "Standard input for the program")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Run timeout (0 uses the server default)")
	_ = runCmd.MarkFlagRequired("experiment")
	root.AddCommand(runCmd)

	submitCmd := &cobra.Command{
		Use:   "submit [file]",
		Short: "Submit a source file for grading",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "Experiment ID")
	submitCmd.Flags().StringVarP(&userID, "user", "u", envOr("JUDGE_USER", ""), "User ID")
	_ = submitCmd.MarkFlagRequired("experiment")
	root.AddCommand(submitCmd)

	submissionsCmd := &cobra.Command{
		Use:   "submissions [id]",
		Short: "List submissions, or show one by ID",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSubmissions,
	}
	submissionsCmd.Flags().StringVarP(&experimentID, "experiment", "e", "", "Filter by experiment ID")
	submissionsCmd.Flags().StringVarP(&userID, "user", "u", "", "Filter by user ID")
	submissionsCmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of submissions")
	root.AddCommand(submissionsCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return call(http.MethodGet, "/health", nil)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCreate(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	// YAML is a superset of JSON, so one decoder handles both.
	var exp map[string]any
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}
	return call(http.MethodPost, "/experiments", exp)
}

func runRun(_ *cobra.Command, args []string) error {
	code, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	payload := map[string]any{
		"code":  string(code),
		"input": input,
	}
	if runTimeout > 0 {
		payload["timeout"] = runTimeout.String()
	}
	return call(http.MethodPost, "/experiments/"+url.PathEscape(experimentID)+"/run", payload)
}

func runSubmit(_ *cobra.Command, args []string) error {
	code, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	if userID == "" {
		return fmt.Errorf("--user is required (or set JUDGE_USER)")
	}

	payload := map[string]any{
		"user_id": userID,
		"code":    string(code),
	}
	return call(http.MethodPost, "/experiments/"+url.PathEscape(experimentID)+"/submit", payload)
}

func runSubmissions(_ *cobra.Command, args []string) error {
	if len(args) == 1 {
		return call(http.MethodGet, "/submissions/"+url.PathEscape(args[0]), nil)
	}

	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if experimentID != "" {
		q.Set("experiment_id", experimentID)
	}
	q.Set("limit", strconv.Itoa(limit))
	return call(http.MethodGet, "/submissions?"+q.Encode(), nil)
}

// call sends a request and pretty-prints the JSON response. Non-2xx
// responses are printed too, then reported as an error.
func call(method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
