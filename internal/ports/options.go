package ports

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Options carries type-specific node or hook settings as parsed from YAML.
type Options map[string]any

// Decode re-marshals the options into a typed struct using its yaml tags.
func (o Options) Decode(v any) error {
	if len(o) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(map[string]any(o))
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := yaml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
