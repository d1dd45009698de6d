package config

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed config-schema.json
var configSchema []byte

// ValidateSchema checks a substituted configuration document against the
// embedded JSON schema.
func ValidateSchema(doc map[string]any) error {
	schemaLoader := gojsonschema.NewBytesLoader(configSchema)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(details, "; "))
}

// ValidateServiceDocument checks a dynamic service file body against the
// services portion of the schema.
func ValidateServiceDocument(services map[string]any) error {
	return ValidateSchema(map[string]any{"services": services})
}
