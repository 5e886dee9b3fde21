package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint is an HTTP route together with the CLI command that calls it.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the job store and
	// runner to be up.
	RequiresInit() bool

	// Command returns the cobra command that calls this endpoint.
	// getServerURL is evaluated when the command runs.
	Command(getServerURL func() string) *cobra.Command
}
