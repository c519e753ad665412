package lens

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Registration names a lens edge of the graph.
type Registration struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
	Lens Lens   `json:"lens" yaml:"lens"`
}

// ReadFile loads a list of registrations from a YAML (or JSON) file:
//
//	- from: mu
//	  to: project-v1
//	  lens:
//	    - add: {name: title, type: string}
func ReadFile(path string) ([]Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lens file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes registrations from YAML. JSON input is accepted as well.
func Parse(data []byte) ([]Registration, error) {
	var regs []Registration
	if err := yaml.Unmarshal(data, &regs); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLens, err)
	}
	for i, r := range regs {
		if r.From == "" || r.To == "" {
			return nil, fmt.Errorf("%w: registration %d needs from and to", ErrInvalidLens, i)
		}
	}
	return regs, nil
}
