package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/defra"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/providers"
	"github.com/jackzampolin/audiodoc/internal/svcctx"
)

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Liveness check
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Router		/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Readiness check including the job store
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Store: "ok"}

	jm := svcctx.JobManagerFrom(r.Context())
	switch {
	case jm == nil:
		resp.Status = "degraded"
		resp.Store = "not_initialized"
	case jm.HealthCheck(r.Context()) != nil:
		resp.Status = "degraded"
		resp.Store = "unhealthy"
	}
	if resp.Status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (includes the job store)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/ready", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string             `json:"server"`
	Providers ProvidersStatus    `json:"providers"`
	Store     StoreStatus        `json:"store"`
	Runner    *jobs.RunnerStatus `json:"runner,omitempty"`
}

// ProvidersStatus shows registered providers and their rate limiters.
type ProvidersStatus struct {
	OCR      []string                               `json:"ocr"`
	TTS      []string                               `json:"tts"`
	Limiters map[string]providers.RateLimiterStatus `json:"limiters,omitempty"`
}

// StoreStatus describes the job store and, for defra, its container.
type StoreStatus struct {
	Backend   string `json:"backend"`
	Health    string `json:"health"`
	Container string `json:"container,omitempty"`
	URL       string `json:"url,omitempty"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Detailed server status
//	@Tags		health
//	@Produce	json
//	@Success	200	{object}	StatusResponse
//	@Router		/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{Server: "running"}

	if registry := svcctx.RegistryFrom(ctx); registry != nil {
		resp.Providers.OCR = registry.ListExtractors()
		resp.Providers.TTS = registry.ListTTS()
		resp.Providers.Limiters = registry.LimiterStatus()
	}

	resp.Store.Backend = svcctx.ConfigFrom(ctx).Store.Backend
	if jm := svcctx.JobManagerFrom(ctx); jm != nil {
		if err := jm.HealthCheck(ctx); err != nil {
			resp.Store.Health = "unhealthy"
		} else {
			resp.Store.Health = "healthy"
		}
	} else {
		resp.Store.Health = "not_initialized"
	}

	if s := svcctx.ServicesFrom(ctx); s != nil && s.DefraNode != nil {
		state, err := s.DefraNode.State(ctx)
		if err != nil {
			state = "error"
		}
		resp.Store.Container = string(state)
		resp.Store.URL = s.DefraNode.URL()
	}

	if runner := svcctx.RunnerFrom(ctx); runner != nil {
		st := runner.Status()
		resp.Runner = &st
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeErr maps known errors to status codes. Provider failures keep the
// provider's status code.
func writeErr(w http.ResponseWriter, err error) {
	var statusErr *providers.StatusError
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.As(err, &statusErr) && statusErr.StatusCode >= 400:
		writeError(w, statusErr.StatusCode, err.Error())
	case errors.Is(err, defra.ErrUnhealthy):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
