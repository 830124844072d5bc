package endpoints

import "github.com/jackzampolin/glean/internal/api"

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Extraction endpoints
		&ExtractEndpoint{},
		&ScrapeEndpoint{},
	}
}
