package watcher

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/JohnPreston/credproxy/internal/config"
)

// LoadServiceFile parses one dynamic service file (YAML or JSON) into
// service definitions tagged with the given origin. The file must carry a
// non-empty `services:` mapping; other top-level keys are ignored.
// Substitution and schema validation apply the same way they do to the main
// configuration.
func LoadServiceFile(path string, defaults *config.SourceCredentials, origin string) ([]config.ServiceDefinition, error) {
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("unsupported file format %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing service file: %w", err)
	}

	substituted, err := config.Substitute(doc)
	if err != nil {
		return nil, err
	}
	doc, _ = substituted.(map[string]any)

	services, ok := doc["services"].(map[string]any)
	if !ok || len(services) == 0 {
		return nil, fmt.Errorf("no services defined")
	}

	if err := config.ValidateServiceDocument(services); err != nil {
		return nil, err
	}

	return config.ParseServices(services, defaults, origin)
}
