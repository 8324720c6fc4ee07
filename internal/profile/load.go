package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRequest reads a match request from a YAML or JSON file.
func LoadRequest(path string) (*MatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading match request %q: %w", path, err)
	}

	var req MatchRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decoding match request %q: %w", path, err)
	}

	return &req, nil
}
