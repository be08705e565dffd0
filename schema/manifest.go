package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ExtensionSchemas maps extension keys of mercure.yml to the JSON Schema of
// their section. Compose merges them into the core schema so editors and the
// loader see one document.
var ExtensionSchemas = map[string]json.RawMessage{
	"logging": json.RawMessage(`{
  "type": "object",
  "description": "Logging configuration",
  "properties": {
    "level": {"type": "string", "enum": ["trace", "debug", "info", "warn", "warning", "error", "fatal", "panic"]},
    "report_caller": {"type": "boolean"},
    "file": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "path": {"type": "string"},
        "format": {"type": "string", "enum": ["text", "json"]},
        "max_size_mb": {"type": "integer", "minimum": 0},
        "max_backups": {"type": "integer", "minimum": 0},
        "max_age_days": {"type": "integer", "minimum": 0}
      },
      "additionalProperties": false
    },
    "format": {
      "type": "object",
      "properties": {
        "preset": {"type": "string", "enum": ["default", "simple", "json"]},
        "disable_timestamp": {"type": "boolean"},
        "disable_component": {"type": "boolean"},
        "structured_to_stderr": {"type": "string", "enum": ["auto", "always", "never"]}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`),
}

// Compose adds every registered extension schema to the properties of base.
func Compose(base []byte) ([]byte, error) {
	var root map[string]interface{}
	if err := json.Unmarshal(base, &root); err != nil {
		return nil, fmt.Errorf("failed to parse base schema: %w", err)
	}

	props, _ := root["properties"].(map[string]interface{})
	if props == nil {
		props = make(map[string]interface{})
	}

	keys := make([]string, 0, len(ExtensionSchemas))
	for key := range ExtensionSchemas {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var ext interface{}
		if err := json.Unmarshal(ExtensionSchemas[key], &ext); err != nil {
			return nil, fmt.Errorf("failed to parse schema for extension '%s': %w", key, err)
		}
		props[key] = ext
	}
	root["properties"] = props

	return json.MarshalIndent(root, "", "  ")
}
