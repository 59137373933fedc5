package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/iago/resume-analyzer-back/internal/apperr"
	"github.com/iago/resume-analyzer-back/internal/http/middleware"
	"github.com/iago/resume-analyzer-back/internal/logger"
	"github.com/iago/resume-analyzer-back/internal/service"
	"github.com/iago/resume-analyzer-back/internal/status"
)

const maxRequestBodyBytes = 16 * 1024

var errInvalidPayload = apperr.Validation("invalid JSON payload")

type API struct {
	analyses *service.AnalysisService
	statuses *status.Service
	log      *logger.Logger
}

func NewAPI(analyses *service.AnalysisService, statuses *status.Service, log *logger.Logger) *API {
	return &API{
		analyses: analyses,
		statuses: statuses,
		log:      logger.OrNop(log).With("component", "api"),
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	middleware.WriteError(w, r, statusCode, code, message)
}

// writeServiceError exposes only the error kind and its public summary; the
// full chain is logged.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind, summary := apperr.Public(err)
	switch kind {
	case apperr.KindValidation:
		writeError(w, r, http.StatusBadRequest, "invalid_request", summary)
	case apperr.KindNotFound:
		writeError(w, r, http.StatusNotFound, "not_found", summary)
	default:
		api.log.Error("request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}
