package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates an empty endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds endpoints in order.
func (r *Registry) Register(eps ...Endpoint) {
	r.endpoints = append(r.endpoints, eps...)
}

// RegisterRoutes adds every route to mux. initMiddleware wraps handlers
// that need full initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns the `api` command with one subcommand per
// endpoint that has one.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call a running audiodoc server over HTTP.

Start one with "audiodoc serve". Use --server to target another URL.

Examples:
  audiodoc api health
  audiodoc api jobs list
  audiodoc api jobs status <id>`,
	}

	groups := map[string]*cobra.Command{}
	for _, ep := range r.endpoints {
		cmd := ep.Command(getServerURL)
		if cmd == nil {
			continue
		}
		group, ok := cmd.Annotations["group"]
		if !ok {
			apiCmd.AddCommand(cmd)
			continue
		}
		parent, ok := groups[group]
		if !ok {
			parent = &cobra.Command{Use: group, Short: group + " commands"}
			groups[group] = parent
			apiCmd.AddCommand(parent)
		}
		parent.AddCommand(cmd)
	}
	return apiCmd
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
