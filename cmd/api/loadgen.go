package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/config"
	httpserver "github.com/iago/resume-analyzer-back/internal/http"
	"github.com/iago/resume-analyzer-back/internal/http/handlers"
	"github.com/iago/resume-analyzer-back/internal/http/middleware"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/resume"
)

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type dedupResult struct {
	Submissions  int `json:"submissions"`
	DistinctJobs int `json:"distinct_jobs"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	Dedup          dedupResult      `json:"dedup"`
	CompletionMS   float64          `json:"completion_ms"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

var (
	loadSubmissions        int
	loadSubmitConcurrency  int
	loadDuplicates         int
	loadPolls              int
	loadPollConcurrency    int
	loadCompletionDeadline time.Duration
	loadOutputPath         string
)

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Benchmark the API against an in-process engine",
	RunE:  runLoadgen,
}

func init() {
	flags := loadgenCmd.Flags()
	flags.IntVar(&loadSubmissions, "submissions", 200, "distinct resumes to submit")
	flags.IntVar(&loadSubmitConcurrency, "submit-concurrency", 24, "concurrency for submissions")
	flags.IntVar(&loadDuplicates, "duplicates", 64, "concurrent submissions of one identical resume")
	flags.IntVar(&loadPolls, "polls", 400, "status requests")
	flags.IntVar(&loadPollConcurrency, "poll-concurrency", 32, "concurrency for status requests")
	flags.DurationVar(&loadCompletionDeadline, "completion-deadline", time.Minute, "time allowed for every job to finish")
	flags.StringVar(&loadOutputPath, "output", "", "optional path to persist benchmark results JSON")
}

func runLoadgen(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.OpenRouterAPIKey = ""
	cfg.StageRateLimitRPS = 0

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	resumes := resume.NewMemorySource()
	for i := 0; i < loadSubmissions; i++ {
		resumes.Put(fmt.Sprintf("load-%d.txt", i), syntheticResume(i))
	}
	resumes.Put("duplicate.txt", syntheticResume(-1))

	log := logger.NewNop()
	eng, err := buildEngine(ctx, cfg, log, engineOptions{InProcess: true, Resumes: resumes})
	if err != nil {
		return err
	}
	defer eng.Close()
	go eng.processor.Start(ctx)
	defer eng.processor.Wait()
	defer cancel()

	server := httptest.NewServer(httpserver.NewRouter(httpserver.RouterDependencies{
		API:         handlers.NewAPI(eng.analyses, eng.statuses, log),
		RateLimiter: middleware.NewRateLimiter(1e6, 1e6),
	}))
	defer server.Close()
	client := &http.Client{Timeout: 10 * time.Second}

	var mu sync.Mutex
	jobIDs := make([]string, 0, loadSubmissions)
	started := time.Now()
	submitScenario := runScenario("submit_unique", loadSubmissions, loadSubmitConcurrency, func(index int) error {
		payload := map[string]any{"resume_ref": fmt.Sprintf("load-%d.txt", index), "industry_code": "software_engineering"}
		body, err := postJSON(client, server.URL+"/v1/analyses", payload, http.StatusAccepted)
		if err != nil {
			return err
		}
		mu.Lock()
		jobIDs = append(jobIDs, body["job_id"].(string))
		mu.Unlock()
		return nil
	})

	duplicateIDs := make(map[string]bool)
	duplicateScenario := runScenario("submit_duplicate", loadDuplicates, loadDuplicates, func(int) error {
		payload := map[string]any{"resume_ref": "duplicate.txt", "industry_code": "software_engineering"}
		body, err := postJSON(client, server.URL+"/v1/analyses", payload, 0)
		if err != nil {
			return err
		}
		mu.Lock()
		duplicateIDs[body["job_id"].(string)] = true
		mu.Unlock()
		return nil
	})

	pollScenario := runScenario("poll_status", loadPolls, loadPollConcurrency, func(index int) error {
		mu.Lock()
		if len(jobIDs) == 0 {
			mu.Unlock()
			return apperr.New("no job ids to poll")
		}
		jobID := jobIDs[index%len(jobIDs)]
		mu.Unlock()
		_, err := getJSON(client, server.URL+"/v1/analyses/"+jobID, http.StatusOK)
		return err
	})

	completionMS := waitForCompletion(client, server.URL, jobIDs, loadCompletionDeadline)
	elapsed := float64(time.Since(started).Milliseconds())
	if completionMS < 0 {
		elapsed = -1
	}

	report := runResult{
		GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Environment:    "local-httptest",
		Results:        []scenarioResult{submitScenario, duplicateScenario, pollScenario},
		Dedup:          dedupResult{Submissions: loadDuplicates, DistinctJobs: len(duplicateIDs)},
		CompletionMS:   elapsed,
		SLOEvaluation: map[string]bool{
			"submit_p95_le_250ms":      submitScenario.P95MS <= 250,
			"poll_p95_le_100ms":        pollScenario.P95MS <= 100,
			"duplicates_share_one_job": len(duplicateIDs) == 1,
			"all_jobs_terminal":        completionMS >= 0,
		},
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return apperr.Wrap(err, "marshal benchmark report")
	}
	if loadOutputPath != "" {
		if err := os.WriteFile(loadOutputPath, encoded, 0o644); err != nil {
			return apperr.Wrap(err, "write output file")
		}
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

func syntheticResume(seed int) string {
	return fmt.Sprintf(`Candidate %d
Software Engineer

Summary
Backend engineer building distributed services, APIs and data pipelines for high traffic products.

Experience
- Designed a payment service handling %d requests per second with 99.9%% availability
- Reduced p95 latency by %d%% through caching and query tuning
- Mentored 4 engineers and led code review practices across two teams

Education
BSc Computer Engineering

Skills
Go, Kubernetes, PostgreSQL, Redis, CI/CD, testing`, seed, 1000+seed, 10+seed%50)
}

func waitForCompletion(client *http.Client, baseURL string, jobIDs []string, deadline time.Duration) float64 {
	started := time.Now()
	pending := append([]string(nil), jobIDs...)
	for time.Since(started) < deadline {
		remaining := pending[:0]
		for _, jobID := range pending {
			body, err := getJSON(client, baseURL+"/v1/analyses/"+jobID, http.StatusOK)
			if err != nil {
				remaining = append(remaining, jobID)
				continue
			}
			if state, _ := body["status"].(string); state != "completed" && state != "failed" {
				remaining = append(remaining, jobID)
			}
		}
		pending = remaining
		if len(pending) == 0 {
			return float64(time.Since(started).Milliseconds())
		}
		time.Sleep(50 * time.Millisecond)
	}
	return -1
}

func runScenario(name string, total, concurrency int, requestFn func(index int) error) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	startedAt := time.Now()
	type sample struct {
		durationMS float64
		err        string
	}

	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success, errorsCount := 0, 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		errorsCount++
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	elapsedSeconds := time.Since(startedAt).Seconds()
	throughput := 0.0
	if elapsedSeconds > 0 {
		throughput = float64(total) / elapsedSeconds
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        errorsCount,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

// postJSON accepts any 2xx status when expectedStatus is zero.
func postJSON(client *http.Client, url string, payload any, expectedStatus int) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(err, "marshal payload")
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, apperr.Wrap(err, "new request")
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	return doRequest(client, request, expectedStatus)
}

func getJSON(client *http.Client, url string, expectedStatus int) (map[string]any, error) {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(err, "new request")
	}
	request.Header.Set("Accept", "application/json")
	return doRequest(client, request, expectedStatus)
}

func doRequest(client *http.Client, request *http.Request, expectedStatus int) (map[string]any, error) {
	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	statusOK := response.StatusCode == expectedStatus ||
		(expectedStatus == 0 && response.StatusCode >= 200 && response.StatusCode < 300)
	if !statusOK {
		return nil, apperr.Newf("unexpected status %d (expected %d): %.512s", response.StatusCode, expectedStatus, string(raw))
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apperr.Wrap(err, "decode response")
	}
	return decoded, nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	rank = max(0, min(rank, len(values)-1))
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
