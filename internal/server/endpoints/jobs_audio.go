package endpoints

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/alignment"
	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/generate"
	"github.com/jackzampolin/audiodoc/internal/highlight"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/svcctx"
)

// completedResult loads the {id} job and decodes its result, or writes the
// error response.
func completedResult(w http.ResponseWriter, r *http.Request) (*generate.Result, bool) {
	rec, ok := loadJob(w, r)
	if !ok {
		return nil, false
	}
	if rec.Status != jobs.StatusCompleted {
		writeError(w, http.StatusConflict, "job is "+string(rec.Status))
		return nil, false
	}
	var res generate.Result
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt job result")
		return nil, false
	}
	return &res, true
}

// JobAudioEndpoint handles GET /api/jobs/{id}/audio.
type JobAudioEndpoint struct{}

func (e *JobAudioEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/audio", e.handler
}

func (e *JobAudioEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	Download the narration audio
//	@Tags		jobs
//	@Produce	audio/mpeg
//	@Param		id	path	string	true	"Job ID"
//	@Success	200
//	@Failure	404	{object}	ErrorResponse
//	@Failure	409	{object}	ErrorResponse
//	@Router		/api/jobs/{id}/audio [get]
func (e *JobAudioEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	res, ok := completedResult(w, r)
	if !ok {
		return
	}
	h := svcctx.HomeFrom(r.Context())
	if h == nil {
		writeError(w, http.StatusServiceUnavailable, "home directory not configured")
		return
	}
	path := h.AudioPath(r.PathValue("id"), res.AudioFormat)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "narration file missing")
		return
	}
	http.ServeFile(w, r, path)
}

func (e *JobAudioEndpoint) Command(getServerURL func() string) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "audio <id>",
		Short: "Download a job's narration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = args[0] + ".mp3"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := api.NewClient(getServerURL()).Download(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0])+"/audio", f); err != nil {
				os.Remove(out)
				return err
			}
			cmd.Printf("Saved %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "file", "f", "", "Output path (default <id>.mp3)")
	return jobCommand(cmd)
}

// JobCaptionsEndpoint handles GET /api/jobs/{id}/captions.vtt.
type JobCaptionsEndpoint struct{}

func (e *JobCaptionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/captions.vtt", e.handler
}

func (e *JobCaptionsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary	WebVTT captions built from the word timing
//	@Tags		jobs
//	@Produce	text/vtt
//	@Param		id	path	string	true	"Job ID"
//	@Success	200
//	@Failure	404	{object}	ErrorResponse
//	@Failure	409	{object}	ErrorResponse
//	@Router		/api/jobs/{id}/captions.vtt [get]
func (e *JobCaptionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	res, ok := completedResult(w, r)
	if !ok {
		return
	}
	words := alignment.Process(res.Alignment, svcctx.LoggerFrom(r.Context()))
	w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
	if err := alignment.WriteVTT(w, words, highlight.DefaultWindowSize); err != nil {
		svcctx.LoggerFrom(r.Context()).Warn("failed to write captions", "job_id", r.PathValue("id"), "error", err)
	}
}

func (e *JobCaptionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return jobCommand(&cobra.Command{
		Use:   "captions <id>",
		Short: "Print a job's WebVTT captions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return api.NewClient(getServerURL()).Download(cmd.Context(), "/api/jobs/"+url.PathEscape(args[0])+"/captions.vtt", cmd.OutOrStdout())
		},
	})
}
