package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/resume-analyzer-back/internal/aggregate"
	"github.com/iago/resume-analyzer-back/internal/fingerprint"
	"github.com/iago/resume-analyzer-back/internal/http/handlers"
	"github.com/iago/resume-analyzer-back/internal/http/middleware"
	"github.com/iago/resume-analyzer-back/internal/orchestrator"
	"github.com/iago/resume-analyzer-back/internal/queue"
	"github.com/iago/resume-analyzer-back/internal/repository"
	"github.com/iago/resume-analyzer-back/internal/resume"
	"github.com/iago/resume-analyzer-back/internal/retry"
	"github.com/iago/resume-analyzer-back/internal/service"
	"github.com/iago/resume-analyzer-back/internal/stage"
	"github.com/iago/resume-analyzer-back/internal/status"
	"github.com/iago/resume-analyzer-back/internal/worker"
)

const sampleResume = `Ana Souza
Senior Technology Consultant

Summary
Consultant focused on cloud strategy, stakeholder alignment and delivery of digital transformation programs.

Experience
- Led a 6 person team delivering a cloud migration for a retail client, cutting infrastructure costs by 30%
- Built reporting dashboards used by 200 analysts across three business units
- Managed stakeholder workshops and roadmap planning for a $2M transformation program

Education
BSc Computer Science, 2015

Skills
Agile, architecture, AWS, SQL, Python`

type runtime struct {
	server *httptest.Server
	cancel context.CancelFunc
}

func startRuntime(t *testing.T, authToken string) runtime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	store := repository.NewMemoryJobStore()
	index := fingerprint.NewMemoryIndex(fingerprint.MemoryConfig{TTL: 10 * time.Minute})
	localQueue := queue.NewLocalQueue(queue.LocalConfig{BufferSize: 64})
	resumes := resume.NewMemorySource()
	resumes.Put("ana.txt", sampleResume)

	executors := stage.NewRegistry()
	require.NoError(t, executors.RegisterAll(stage.NewHeuristicExecutor()))
	aggregator, err := aggregate.NewWeightedAggregator(aggregate.DefaultPolicy())
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.Config{
		Store:      store,
		Index:      index,
		Executors:  executors,
		Aggregator: aggregator,
		Retry:      retry.DefaultPolicy(),
	})
	require.NoError(t, err)

	processor, err := worker.NewProcessor(worker.Config{
		Consumer: localQueue,
		Producer: localQueue,
		Runner:   orch,
		Store:    store,
		Index:    index,
	})
	require.NoError(t, err)
	go processor.Start(ctx)

	analyses, err := service.NewAnalysisService(service.AnalysisDependencies{
		Store:    store,
		Index:    index,
		Producer: localQueue,
		Resumes:  resumes,
	})
	require.NoError(t, err)

	router := NewRouter(RouterDependencies{
		API:         handlers.NewAPI(analyses, status.NewService(store), nil),
		AuthToken:   authToken,
		RateLimiter: middleware.NewRateLimiter(20000, 20000),
	})
	server := httptest.NewServer(router)
	return runtime{
		server: server,
		cancel: func() {
			cancel()
			server.Close()
			processor.Wait()
		},
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, payload any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := client.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()

	raw, _ := io.ReadAll(response.Body)
	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body (%d): %s", response.StatusCode, string(raw))
	}
	return response, decoded
}

func waitForTerminal(t *testing.T, client *http.Client, baseURL, jobID string) map[string]any {
	t.Helper()

	var last map[string]any
	require.Eventually(t, func() bool {
		response, body := doJSON(t, client, http.MethodGet, fmt.Sprintf("%s/v1/analyses/%s", baseURL, jobID), nil, nil)
		if response.StatusCode != http.StatusOK {
			return false
		}
		last = body
		state, _ := body["status"].(string)
		return state == "completed" || state == "failed"
	}, 3*time.Second, 10*time.Millisecond)
	return last
}

func TestAnalysisLifecycle(t *testing.T) {
	rt := startRuntime(t, "")
	defer rt.cancel()
	client := rt.server.Client()
	baseURL := rt.server.URL
	payload := map[string]any{"resume_ref": "ana.txt", "industry_code": "tech_consulting"}

	response, body := doJSON(t, client, http.MethodPost, baseURL+"/v1/analyses", payload, nil)
	require.Equal(t, http.StatusAccepted, response.StatusCode, body)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, false, body["deduplicated"])
	assert.Equal(t, "/v1/analyses/"+jobID, response.Header.Get("Location"))
	assert.Equal(t, "2", response.Header.Get("Retry-After"))

	final := waitForTerminal(t, client, baseURL, jobID)
	assert.Equal(t, "completed", final["status"])
	assert.EqualValues(t, 100, final["progress"])
	results, ok := final["stage_results"].([]any)
	require.True(t, ok)
	assert.Len(t, results, 2)
	aggregated, ok := final["aggregate"].(map[string]any)
	require.True(t, ok, final)
	assert.NotEmpty(t, aggregated["market_tier"])
	assert.NotContains(t, final, "resume_text")

	response, body = doJSON(t, client, http.MethodPost, baseURL+"/v1/analyses", payload, nil)
	require.Equal(t, http.StatusOK, response.StatusCode, body)
	assert.Equal(t, jobID, body["job_id"])
	assert.Equal(t, true, body["deduplicated"])
	assert.Equal(t, "completed", body["status"])
	assert.NotNil(t, body["result"])
}

func TestAnalysisValidationErrors(t *testing.T) {
	rt := startRuntime(t, "")
	defer rt.cancel()
	client := rt.server.Client()
	baseURL := rt.server.URL

	cases := []map[string]any{
		{"resume_ref": "ana.txt", "industry_code": "astrology"},
		{"resume_ref": "", "industry_code": "tech_consulting"},
		{"resume_ref": "unknown.txt", "industry_code": "tech_consulting"},
		{"resume_ref": "ana.txt", "industry_code": "tech_consulting", "priority": "high"},
	}
	for _, payload := range cases {
		response, body := doJSON(t, client, http.MethodPost, baseURL+"/v1/analyses", payload, nil)
		assert.Equal(t, http.StatusBadRequest, response.StatusCode, payload)
		envelope, _ := body["error"].(map[string]any)
		assert.Equal(t, "invalid_request", envelope["code"], payload)
		assert.NotEmpty(t, body["request_id"])
	}
}

func TestAnalysisStatusNotFoundAndMethods(t *testing.T) {
	rt := startRuntime(t, "")
	defer rt.cancel()
	client := rt.server.Client()
	baseURL := rt.server.URL

	response, body := doJSON(t, client, http.MethodGet, baseURL+"/v1/analyses/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, response.StatusCode, body)

	response, _ = doJSON(t, client, http.MethodGet, baseURL+"/v1/analyses", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, response.StatusCode)

	response, _ = doJSON(t, client, http.MethodDelete, baseURL+"/v1/analyses/abc", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, response.StatusCode)
}

func TestIndustriesAndHealth(t *testing.T) {
	rt := startRuntime(t, "token-123")
	defer rt.cancel()
	client := rt.server.Client()
	baseURL := rt.server.URL

	response, body := doJSON(t, client, http.MethodGet, baseURL+"/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "ok", body["status"])

	response, _ = doJSON(t, client, http.MethodGet, baseURL+"/v1/industries", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)

	response, body = doJSON(t, client, http.MethodGet, baseURL+"/v1/industries", nil,
		map[string]string{"Authorization": "Bearer token-123"})
	require.Equal(t, http.StatusOK, response.StatusCode)
	industries, ok := body["industries"].([]any)
	require.True(t, ok)
	assert.Len(t, industries, 10)
}
