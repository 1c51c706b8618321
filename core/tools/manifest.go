package tools

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest is a declarative list of tools. Each entry names a dispatch
// target, which must be bound to a handler when the manifest is
// registered.
//
//	tools:
//	  - name: open_notes
//	    description: Open the notes application
//	    dispatch: apps.open
//	    parameters:
//	      type: object
//	      properties:
//	        app: {type: string}
type Manifest struct {
	Tools []ManifestEntry `yaml:"tools"`
}

type ManifestEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
	Dispatch    string         `yaml:"dispatch"`
}

func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("failed to parse tool manifest: %w", err)
	}
	return manifest, nil
}

func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read tool manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// RegisterManifest binds every manifest entry to the handler registered
// under its dispatch target and adds it to the registry.
func (r *Registry) RegisterManifest(manifest Manifest, targets map[string]Handler) error {
	for _, entry := range manifest.Tools {
		handler, ok := targets[entry.Dispatch]
		if !ok {
			return fmt.Errorf("tool %s: unknown dispatch target %q", entry.Name, entry.Dispatch)
		}

		var parameters json.RawMessage
		if entry.Parameters != nil {
			encoded, err := json.Marshal(entry.Parameters)
			if err != nil {
				return &SchemaError{Tool: entry.Name, Detail: fmt.Sprintf("cannot encode parameters: %v", err)}
			}
			parameters = encoded
		}

		if err := r.Register(Tool{
			Name:        entry.Name,
			Description: entry.Description,
			Parameters:  parameters,
			Handler:     handler,
		}); err != nil {
			return err
		}
	}
	return nil
}
