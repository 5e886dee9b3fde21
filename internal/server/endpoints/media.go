package endpoints

import (
	"errors"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/audiodoc/internal/api"
	"github.com/jackzampolin/audiodoc/internal/catalog"
	"github.com/jackzampolin/audiodoc/internal/svcctx"
)

// CatalogEndpoint handles GET /api/catalog.
type CatalogEndpoint struct{}

func (e *CatalogEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/catalog", e.handler
}

func (e *CatalogEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	List background videos and music
//	@Tags		media
//	@Produce	json
//	@Success	200	{object}	catalog.Listing
//	@Router		/api/catalog [get]
func (e *CatalogEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	c := svcctx.CatalogFrom(r.Context())
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not initialized")
		return
	}
	writeJSON(w, http.StatusOK, c.List())
}

func (e *CatalogEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List background videos and music",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp catalog.Listing
			if err := api.NewClient(getServerURL()).Get(cmd.Context(), "/api/catalog", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// MediaEndpoint handles GET /media/{kind}/{id}.
type MediaEndpoint struct{}

func (e *MediaEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/media/{kind}/{id}", e.handler
}

func (e *MediaEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary	Serve a catalog video or music file
//	@Tags		media
//	@Param		kind	path	string	true	"video or music"
//	@Param		id		path	string	true	"Catalog id"
//	@Success	200
//	@Failure	404	{object}	ErrorResponse
//	@Router		/media/{kind}/{id} [get]
func (e *MediaEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	c := svcctx.CatalogFrom(r.Context())
	if c == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog not initialized")
		return
	}
	kind := catalog.Kind(r.PathValue("kind"))
	if kind != catalog.KindVideo && kind != catalog.KindMusic {
		writeError(w, http.StatusNotFound, "unknown media kind")
		return
	}
	entry, err := c.Lookup(kind, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	path := c.Path(entry)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		writeError(w, http.StatusNotFound, "media file missing: "+entry.File)
		return
	}
	http.ServeFile(w, r, path)
}

// Command is nil: media files are fetched by the player, not printed.
func (e *MediaEndpoint) Command(getServerURL func() string) *cobra.Command { return nil }
