package endpoints

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/jobs"
)

// JobStatusResponse is what players poll. Result is set once the job has
// completed.
type JobStatusResponse struct {
	Status jobs.Status     `json:"status"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty" swaggertype:"object"`
}

// JobStatusEndpoint handles GET /api/jobs/{id}/status.
type JobStatusEndpoint struct{}

func (e *JobStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/status", e.handler
}

func (e *JobStatusEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Job status
//	@Description	Returns the pipeline status; completed jobs include the narration result.
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	JobStatusResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/status [get]
func (e *JobStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	rec, ok := loadJob(w, r)
	if !ok {
		return
	}
	resp := JobStatusResponse{Status: rec.Status, Error: rec.Error}
	if rec.Status == jobs.StatusCompleted {
		resp.Result = rec.Result
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *JobStatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return jobCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Get a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp JobStatusResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0])+"/status", &resp); err != nil {
				return err
			}
			out := map[string]any{"status": resp.Status}
			if resp.Error != "" {
				out["error"] = resp.Error
			}
			if len(resp.Result) > 0 {
				var result map[string]any
				if err := json.Unmarshal(resp.Result, &result); err == nil {
					// the alignment is long and unreadable in a terminal
					delete(result, "alignment")
					out["result"] = result
				}
			}
			return api.Output(out)
		},
	})
}
