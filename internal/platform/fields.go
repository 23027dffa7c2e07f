package platform

import (
	"encoding/json"

	"github.com/rflorenc/oafctl/internal/models"
)

// identifierField returns r[field] as an identifier. Strings are returned
// verbatim and numbers as written in the body, which must be decoded with
// UseNumber. Anything else, including an empty string, reports false.
func identifierField(r models.Resource, field string) (string, bool) {
	switch v := r[field].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	}
	return "", false
}

// stringField safely extracts a string field, returning "" if absent.
func stringField(obj map[string]interface{}, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}
