package platform

import (
	"context"

	"github.com/rflorenc/oafctl/internal/models"
)

// API is the subset of the framework's HTTP API used by the reconciler and
// the setup commands.
type API interface {
	// Health returns the parsed health body (best effort). Any 2xx is
	// healthy.
	Health(ctx context.Context, path string) (*HealthResponse, error)

	// List returns the identifiers of all resources of a type.
	List(ctx context.Context, rt models.ResourceType) ([]string, error)

	// Delete issues a single DELETE without retry.
	Delete(ctx context.Context, path string) error

	// Post sends a JSON payload and returns the response body and status.
	Post(ctx context.Context, path string, payload interface{}) ([]byte, int, error)
}

var _ API = (*Client)(nil)
