package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// HealthResponse holds the fields of a /health body we care about.
// The framework returns e.g. {"status": "healthy", "version": "1.4.0"}.
type HealthResponse struct {
	Status  string
	Version string
}

// ParseHealthResponse extracts status and version from a /health body.
func ParseHealthResponse(body []byte) (*HealthResponse, error) {
	var obj map[string]interface{}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&obj); err != nil {
		return nil, fmt.Errorf("parsing health response: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("health response is null")
	}
	return &HealthResponse{
		Status:  stringField(obj, "status"),
		Version: stringField(obj, "version"),
	}, nil
}

// Health calls the health endpoint. If the body can't be parsed but HTTP
// succeeded, it returns an empty HealthResponse (reachable, details unknown).
func (c *Client) Health(ctx context.Context, path string) (*HealthResponse, error) {
	body, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	resp, err := ParseHealthResponse(body)
	if err != nil {
		return &HealthResponse{}, nil
	}
	return resp, nil
}
