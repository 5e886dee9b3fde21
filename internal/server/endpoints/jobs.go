package endpoints

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/svcctx"
)

func jobCommand(cmd *cobra.Command) *cobra.Command {
	cmd.Annotations = map[string]string{"group": "jobs"}
	return cmd
}

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Jobs []*jobs.Record `json:"jobs"`
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	List jobs, newest first
//	@Tags		jobs
//	@Produce	json
//	@Param		status	query		string	false	"Comma-separated statuses"
//	@Param		limit	query		int		false	"Maximum results (default 100)"
//	@Success	200		{object}	ListJobsResponse
//	@Failure	400		{object}	ErrorResponse
//	@Router		/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	var filter jobs.ListFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := jobs.Status(strings.TrimSpace(s))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	records, err := jm.List(r.Context(), filter)
	if err != nil {
		writeErr(w, err)
		return
	}
	if records == nil {
		records = []*jobs.Record{}
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: records})
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/api/jobs"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			// generic decoding keeps raw input and result readable as yaml
			var resp map[string]any
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (comma-separated)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results")
	return jobCommand(cmd)
}

// GetJobEndpoint handles GET /api/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Get a job record
//	@Tags		jobs
//	@Produce	json
//	@Param		id	path		string	true	"Job ID"
//	@Success	200	{object}	jobs.Record
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/jobs/{id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, ok := loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return jobCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec map[string]any
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0]), &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	})
}

// DeleteJobEndpoint handles DELETE /api/jobs/{id}.
type DeleteJobEndpoint struct{}

func (e *DeleteJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/jobs/{id}", e.handler
}

func (e *DeleteJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Cancel and delete a job with its narration
//	@Tags		jobs
//	@Param		id	path	string	true	"Job ID"
//	@Success	204
//	@Failure	404	{object}	ErrorResponse
//	@Router		/api/jobs/{id} [delete]
func (e *DeleteJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	jm := svcctx.JobManagerFrom(ctx)
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}
	if runner := svcctx.RunnerFrom(ctx); runner != nil {
		runner.Cancel(id)
	}
	if err := jm.Delete(ctx, id); err != nil {
		writeErr(w, err)
		return
	}

	if h := svcctx.HomeFrom(ctx); h != nil {
		matches, _ := filepath.Glob(filepath.Join(h.AudioDir(), id+".*"))
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				svcctx.LoggerFrom(ctx).Warn("failed to remove narration", "job_id", id, "path", m, "error", err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return jobCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Cancel and delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := api.NewClient(getServerURL()).Delete(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			cmd.Printf("Deleted job %s\n", args[0])
			return nil
		},
	})
}

// loadJob fetches the {id} job or writes the error response.
func loadJob(w http.ResponseWriter, r *http.Request) (*jobs.Record, bool) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return nil, false
	}
	rec, err := jm.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return rec, true
}
