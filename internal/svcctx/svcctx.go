// Package svcctx carries the server's services through request contexts.
// It is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/audiodoc/internal/catalog"
	"github.com/jackzampolin/audiodoc/internal/config"
	"github.com/jackzampolin/audiodoc/internal/defra"
	"github.com/jackzampolin/audiodoc/internal/home"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/providers"
)

// Services holds the core services handlers use.
type Services struct {
	Config     *config.Manager
	JobManager *jobs.Manager
	Runner     *jobs.Runner
	Registry   *providers.Registry
	Catalog    *catalog.Catalog
	Home       *home.Dir
	Logger     *slog.Logger
	// DefraNode is set only with the defra store backend.
	DefraNode *defra.Node
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the Services from context, or nil.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// JobManagerFrom extracts the job manager from context.
func JobManagerFrom(ctx context.Context) *jobs.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.JobManager
	}
	return nil
}

// RunnerFrom extracts the job runner from context.
func RunnerFrom(ctx context.Context) *jobs.Runner {
	if s := ServicesFrom(ctx); s != nil {
		return s.Runner
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// CatalogFrom extracts the media catalog from context.
func CatalogFrom(ctx context.Context) *catalog.Catalog {
	if s := ServicesFrom(ctx); s != nil {
		return s.Catalog
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// ConfigFrom returns the current configuration, or the defaults when no
// manager is attached.
func ConfigFrom(ctx context.Context) *config.Config {
	if s := ServicesFrom(ctx); s != nil && s.Config != nil {
		return s.Config.Get()
	}
	return config.DefaultConfig()
}

// LoggerFrom extracts the logger from context, falling back to slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
