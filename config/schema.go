package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/schema"
)

// GenerateSchema generates the JSON Schema for mercure.yml. Core sections are
// reflected from Config; extension sections come from schema.ExtensionSchemas.
// Unknown top-level keys stay allowed so third-party extensions still load.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
		FieldNameTag:               "yaml",
	}

	// Config without the inline Extensions field.
	type BaseConfig struct {
		Version  string         `yaml:"version,omitempty" jsonschema:"description=Configuration version (e.g. '1.0')"`
		API      APIConfig      `yaml:"api,omitempty" jsonschema:"description=HTTP backend"`
		Realtime RealtimeConfig `yaml:"realtime,omitempty" jsonschema:"description=Realtime websocket channel"`
		Avatar   AvatarConfig   `yaml:"avatar,omitempty" jsonschema:"description=Avatar URL resolution"`
		Session  SessionConfig  `yaml:"session,omitempty" jsonschema:"description=Session persistence"`
	}

	s := r.Reflect(&BaseConfig{})
	s.Title = "Mercure Configuration"
	s.Description = "Schema for mercure.yml."
	s.AdditionalProperties = nil

	base, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return schema.Compose(base)
}

var (
	validatorOnce sync.Once
	docValidator  *schema.Validator
	validatorErr  error
)

func schemaValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		data, err := GenerateSchema()
		if err != nil {
			validatorErr = err
			return
		}
		docValidator, validatorErr = schema.NewValidator(data)
	})
	return docValidator, validatorErr
}

// validateDocument checks a decoded file against the schema. Empty files pass.
func validateDocument(doc map[string]interface{}) error {
	if doc == nil {
		return nil
	}

	v, err := schemaValidator()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}

	if err := v.Validate(doc); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}
	return nil
}
