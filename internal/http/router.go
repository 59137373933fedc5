package httpserver

import (
	"net/http"

	"github.com/iago/resume-analyzer-back/internal/http/handlers"
	"github.com/iago/resume-analyzer-back/internal/http/middleware"
	"github.com/iago/resume-analyzer-back/internal/logger"
)

type RouterDependencies struct {
	API         *handlers.API
	Logger      *logger.Logger
	AuthToken   string
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/industries", deps.API.Industries)
	mux.HandleFunc("/v1/analyses", deps.API.Analyses)
	mux.HandleFunc("/v1/analyses/", deps.API.AnalysisStatus)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	if deps.RateLimiter != nil {
		handler = deps.RateLimiter.Middleware(handler)
	}
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
