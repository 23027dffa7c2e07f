package platform

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rflorenc/oafctl/internal/models"
)

// ProjectIdentifiers parses a list response and returns the idField of each
// entry in response order. Invalid JSON, null and [] all yield an empty
// slice. Entries that are not objects or lack the field are skipped.
func ProjectIdentifiers(body []byte, idField string) []string {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return []string{}
	}

	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		var res models.Resource
		d := json.NewDecoder(bytes.NewReader(item))
		d.UseNumber()
		if err := d.Decode(&res); err != nil || res == nil {
			continue
		}
		if id, ok := identifierField(res, idField); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// List returns the identifiers of every resource of the given type. A
// transport failure is returned as an error; an unparseable body is an empty
// collection.
func (c *Client) List(ctx context.Context, rt models.ResourceType) ([]string, error) {
	body, err := c.Get(ctx, rt.APIPath)
	if err != nil {
		return nil, err
	}
	return ProjectIdentifiers(body, rt.IDField), nil
}
