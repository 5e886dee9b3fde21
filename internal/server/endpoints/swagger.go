package endpoints

import (
	"net/http"

	"github.com/spf13/cobra"
	"github.com/swaggo/swag"

	"github.com/jackzampolin/audiodoc/internal/api"
)

// SwaggerEndpoint serves the registered OpenAPI document.
type SwaggerEndpoint struct{}

func (e *SwaggerEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/swagger.json", e.handler
}

func (e *SwaggerEndpoint) RequiresInit() bool { return false }

func (e *SwaggerEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "no OpenAPI document registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte(doc))
}

func (e *SwaggerEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "swagger",
		Short: "Fetch the OpenAPI document from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc map[string]any
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/swagger.json", &doc); err != nil {
				return err
			}
			return api.Output(doc)
		},
	}
}
