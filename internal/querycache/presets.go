package querycache

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Preset is a named channel query loaded from a YAML file.
type Preset struct {
	Name   string
	Filter Filter
	Sort   Sort
	Limit  int
}

type presetFile struct {
	Queries []rawPreset `yaml:"queries"`
}

type rawPreset struct {
	Name   string         `yaml:"name"`
	Filter map[string]any `yaml:"filter"`
	Sort   Sort           `yaml:"sort"`
	Limit  int            `yaml:"limit"`
}

// LoadPresets reads query presets from a YAML file of the form:
//
//	queries:
//	  - name: inbox
//	    filter:
//	      type: messaging
//	      members: {$in: [alice]}
//	    sort:
//	      - {field: last_message_at, direction: -1}
//	    limit: 30
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading presets: %w", err)
	}

	return ParsePresets(data)
}

// ParsePresets parses the YAML form read by LoadPresets.
func ParsePresets(data []byte) ([]Preset, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing presets: %w", err)
	}

	out := make([]Preset, 0, len(file.Queries))

	for i, raw := range file.Queries {
		if raw.Name == "" {
			return nil, fmt.Errorf("preset %d: missing name", i)
		}

		// The filter goes through JSON so YAML and wire filters share one
		// parser.
		encoded, err := json.Marshal(raw.Filter)
		if err != nil {
			return nil, fmt.Errorf("preset %s: encoding filter: %w", raw.Name, err)
		}

		f := Neutral()
		if len(raw.Filter) > 0 {
			f, err = ParseFilter(encoded)
			if err != nil {
				return nil, fmt.Errorf("preset %s: %w", raw.Name, err)
			}
		}

		out = append(out, Preset{Name: raw.Name, Filter: f, Sort: raw.Sort, Limit: raw.Limit})
	}

	return out, nil
}
