package handlers

import (
	"net/http"
	"strings"

	"github.com/iago/resume-analyzer-back/internal/domain"
)

const (
	analysesPath = "/v1/analyses"
	pollAfter    = "2"
)

type analysisRequest struct {
	ResumeRef    string `json:"resume_ref"`
	IndustryCode string `json:"industry_code"`
}

type analysisAccepted struct {
	JobID        string              `json:"job_id"`
	Status       domain.JobStatus    `json:"status"`
	Deduplicated bool                `json:"deduplicated"`
	StatusURL    string              `json:"status_url"`
	Result       *domain.JobSnapshot `json:"result,omitempty"`
}

// Analyses accepts a submission. New and in-flight jobs answer 202; a
// submission served from a cached terminal job answers 200 with its snapshot.
func (api *API) Analyses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request analysisRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	submission, err := api.analyses.Submit(r.Context(), request.ResumeRef, request.IndustryCode)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	statusURL := analysesPath + "/" + submission.JobID
	response := analysisAccepted{
		JobID:        submission.JobID,
		Status:       domain.JobStatusPending,
		Deduplicated: submission.Deduplicated,
		StatusURL:    statusURL,
	}
	if submission.Snapshot != nil {
		response.Status = submission.Snapshot.Status
	}

	w.Header().Set("Location", statusURL)
	if response.Status.IsTerminal() {
		response.Result = submission.Snapshot
		writeJSON(w, http.StatusOK, response)
		return
	}
	w.Header().Set("Retry-After", pollAfter)
	writeJSON(w, http.StatusAccepted, response)
}

// AnalysisStatus serves GET /v1/analyses/{id}.
func (api *API) AnalysisStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, analysesPath+"/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	snapshot, err := api.statuses.GetStatus(r.Context(), jobID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	if !snapshot.Status.IsTerminal() {
		w.Header().Set("Retry-After", pollAfter)
	}
	writeJSON(w, http.StatusOK, snapshot)
}
