package endpoints

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/catalog"
	"github.com/jackzampolin/audiodoc/internal/generate"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/svcctx"
	"github.com/jackzampolin/audiodoc/internal/textclean"
)

// SubmitJobRequest is the JSON form of a submission.
type SubmitJobRequest struct {
	Text        string `json:"text"`
	Video       string `json:"video,omitempty"`
	Music       string `json:"music,omitempty"`
	TTSProvider string `json:"tts_provider,omitempty"`
	Voice       string `json:"voice,omitempty"`
}

// SubmitJobResponse is returned for accepted submissions.
type SubmitJobResponse struct {
	JobID  string      `json:"job_id"`
	Status jobs.Status `json:"status"`
}

// SubmitJobEndpoint handles POST /api/jobs.
type SubmitJobEndpoint struct{}

func (e *SubmitJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *SubmitJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Submit a narration job
//	@Description	Accepts a PDF upload (multipart field "file") or text (multipart field or JSON body).
//	@Tags			jobs
//	@Accept			multipart/form-data,json
//	@Produce		json
//	@Param			file	formData	file	false	"PDF document"
//	@Param			text	formData	string	false	"Text to narrate"
//	@Param			video	formData	string	false	"Background video id (random when empty)"
//	@Param			music	formData	string	false	"Background music id or none"
//	@Success		202		{object}	SubmitJobResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		413		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *SubmitJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runner := svcctx.RunnerFrom(ctx)
	if runner == nil {
		writeError(w, http.StatusServiceUnavailable, "job runner not initialized")
		return
	}
	cfg := svcctx.ConfigFrom(ctx)
	maxBytes := int64(cfg.Defaults.MaxUploadMB) << 20

	var (
		in  generate.Input
		req SubmitJobRequest
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		// leave room for the other form fields
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d MB", cfg.Defaults.MaxUploadMB))
				return
			}
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}
		req = SubmitJobRequest{
			Text:        r.FormValue("text"),
			Video:       r.FormValue("video"),
			Music:       r.FormValue("music"),
			TTSProvider: r.FormValue("tts_provider"),
			Voice:       r.FormValue("voice"),
		}
		file, hdr, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			path, status, err := saveUpload(uploadsDir(ctx), file, hdr.Size, maxBytes, cfg.Defaults.MaxPDFPages)
			if err != nil {
				writeError(w, status, err.Error())
				return
			}
			in.Document = path
			in.Filename = filepath.Base(hdr.Filename)
		case !errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "invalid file field")
			return
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	if in.Document == "" {
		if textclean.IsBlank(textclean.StripMarkdown(req.Text)) {
			writeError(w, http.StatusBadRequest, "text is empty")
			return
		}
		in.Text = req.Text
	} else if req.Text != "" {
		_ = os.Remove(in.Document)
		writeError(w, http.StatusBadRequest, "send either a file or text, not both")
		return
	}

	if msg := checkMedia(svcctx.CatalogFrom(ctx), req.Video, req.Music); msg != "" {
		if in.Document != "" {
			_ = os.Remove(in.Document)
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	in.VideoID = req.Video
	in.MusicID = req.Music
	in.TTSProvider = req.TTSProvider
	in.Voice = req.Voice

	id, err := runner.Submit(ctx, generate.JobType, in)
	if err != nil {
		if in.Document != "" {
			_ = os.Remove(in.Document)
		}
		writeErr(w, err)
		return
	}
	svcctx.LoggerFrom(ctx).Info("job submitted", "job_id", id, "document", in.Filename != "", "video", in.VideoID, "music", in.MusicID)
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: id, Status: jobs.StatusQueued})
}

// saveUpload checks a PDF upload and stores it in dir. The returned
// status is the HTTP code to answer with on error.
func saveUpload(dir string, r io.Reader, size, maxBytes int64, maxPages int) (string, int, error) {
	tooLarge := fmt.Errorf("upload exceeds %d MB", maxBytes>>20)
	if size > maxBytes {
		return "", http.StatusRequestEntityTooLarge, tooLarge
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", http.StatusBadRequest, errors.New("failed to read upload")
	}
	if int64(len(data)) > maxBytes {
		return "", http.StatusRequestEntityTooLarge, tooLarge
	}
	if !generate.IsPDF(data) {
		return "", http.StatusBadRequest, errors.New("only PDF files are accepted")
	}
	pages, err := generate.CountPages(bytes.NewReader(data))
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("invalid PDF: %v", err)
	}
	if maxPages > 0 && pages > maxPages {
		return "", http.StatusBadRequest, fmt.Errorf("document has %d pages (limit %d)", pages, maxPages)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", http.StatusInternalServerError, err
	}
	path := filepath.Join(dir, uuid.NewString()+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("failed to store upload: %w", err)
	}
	return path, 0, nil
}

func uploadsDir(ctx context.Context) string {
	if h := svcctx.HomeFrom(ctx); h != nil {
		return h.UploadsDir()
	}
	return filepath.Join(os.TempDir(), "audiodoc-uploads")
}

// checkMedia returns a client error message for unknown catalog ids.
func checkMedia(c *catalog.Catalog, video, music string) string {
	if c == nil {
		return ""
	}
	if video != "" {
		if _, err := c.Lookup(catalog.KindVideo, video); err != nil {
			return fmt.Sprintf("unknown video %q (available: %s)", video, strings.Join(c.IDs(catalog.KindVideo), ", "))
		}
	}
	if music != "" && music != catalog.NoMusic {
		if _, err := c.Lookup(catalog.KindMusic, music); err != nil {
			return fmt.Sprintf("unknown music %q (available: %s)", music, strings.Join(c.IDs(catalog.KindMusic), ", "))
		}
	}
	return ""
}

func (e *SubmitJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		req          SubmitJobRequest
		useClipboard bool
	)
	cmd := &cobra.Command{
		Use:   "submit [document.pdf]",
		Short: "Submit a PDF or text for narration",
		Long: `Submit a PDF document or plain text for narration.

Text comes from --text, or from the system clipboard with --clipboard.
The background video is random unless --video is set. Use --music none
for narration without music.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp SubmitJobResponse

			if len(args) == 1 {
				if req.Text != "" || useClipboard {
					return fmt.Errorf("pass either a document or text, not both")
				}
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				fields := map[string]string{}
				for k, v := range map[string]string{"video": req.Video, "music": req.Music, "tts_provider": req.TTSProvider, "voice": req.Voice} {
					if v != "" {
						fields[k] = v
					}
				}
				part := &api.FilePart{Field: "file", Filename: filepath.Base(args[0]), Content: f}
				if err := client.PostMultipart(ctx, "/api/jobs", fields, part, &resp); err != nil {
					return err
				}
				return api.Output(resp)
			}

			if useClipboard {
				text, err := clipboard.ReadAll()
				if err != nil {
					return fmt.Errorf("failed to read clipboard: %w", err)
				}
				req.Text = text
			}
			if strings.TrimSpace(req.Text) == "" {
				return fmt.Errorf("nothing to submit: pass a PDF, --text or --clipboard")
			}
			if err := client.Post(ctx, "/api/jobs", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&req.Text, "text", "", "Text to narrate")
	cmd.Flags().BoolVar(&useClipboard, "clipboard", false, "Narrate the clipboard contents")
	cmd.Flags().StringVar(&req.Video, "video", "", "Background video id")
	cmd.Flags().StringVar(&req.Music, "music", "", "Background music id, or none")
	cmd.Flags().StringVar(&req.TTSProvider, "tts", "", "Speech provider (defaults to config)")
	cmd.Flags().StringVar(&req.Voice, "voice", "", "Voice id override")
	cmd.Annotations = map[string]string{"group": "jobs"}
	return cmd
}
