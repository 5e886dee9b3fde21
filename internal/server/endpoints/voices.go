package endpoints

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/providers"
	"github.com/jackzampolin/audiodoc/internal/svcctx"
)

// VoicesResponse lists the voices of one speech provider.
type VoicesResponse struct {
	Provider string            `json:"provider"`
	Voices   []providers.Voice `json:"voices"`
}

// VoicesEndpoint handles GET /api/voices.
type VoicesEndpoint struct{}

func (e *VoicesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/voices", e.handler
}

func (e *VoicesEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	List narration voices
//	@Tags		media
//	@Produce	json
//	@Param		provider	query		string	false	"Speech provider (default: defaults.tts_provider)"
//	@Success	200			{object}	VoicesResponse
//	@Failure	404			{object}	ErrorResponse
//	@Failure	501			{object}	ErrorResponse
//	@Router		/api/voices [get]
func (e *VoicesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	reg := svcctx.RegistryFrom(r.Context())
	if reg == nil {
		writeError(w, http.StatusServiceUnavailable, "providers not initialized")
		return
	}

	name := r.URL.Query().Get("provider")
	if name == "" {
		name = svcctx.ConfigFrom(r.Context()).Defaults.TTSProvider
	}
	p, _, err := reg.TTS(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	lister, ok := p.(providers.VoicesLister)
	if !ok {
		writeError(w, http.StatusNotImplemented, "provider "+name+" cannot list voices")
		return
	}

	voices, err := lister.ListVoices(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, VoicesResponse{Provider: name, Voices: voices})
}

func (e *VoicesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices a speech provider offers",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/voices"
			if provider != "" {
				path += "?provider=" + url.QueryEscape(provider)
			}
			var resp VoicesResponse
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "speech provider name")
	return cmd
}
