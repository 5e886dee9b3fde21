// Package endpoints holds the HTTP handlers of the audiodoc server. Each
// endpoint also builds the CLI command that calls it.
package endpoints

import (
	"github.com/jackzampolin/audiodoc/internal/api"
)

// All returns all endpoint instances in registration order.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Job endpoints
		&SubmitJobEndpoint{},
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&JobStatusEndpoint{},
		&DeleteJobEndpoint{},
		&JobAudioEndpoint{},
		&JobCaptionsEndpoint{},

		// Media endpoints
		&CatalogEndpoint{},
		&MediaEndpoint{},
		&VoicesEndpoint{},

		&SwaggerEndpoint{},
	}
}
