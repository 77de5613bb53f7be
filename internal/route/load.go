package route

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/listing-sync/internal/model"
)

// File is the on-disk route list.
type File struct {
	Routes []model.Route `yaml:"routes"`
}

// LoadRoutes reads the static route list from a YAML file. The file is
// never written back; runtime counters live in a StateStore.
func LoadRoutes(path string) ([]model.Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "route: read %s", path)
	}
	return ParseRoutes(data)
}

// ParseRoutes decodes and validates a YAML route list.
func ParseRoutes(data []byte) ([]model.Route, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "route: parse yaml")
	}

	seen := make(map[string]bool, len(f.Routes))
	for i := range f.Routes {
		r := &f.Routes[i]
		if r.ID == "" {
			return nil, eris.Errorf("route: entry %d has no id", i)
		}
		if seen[r.ID] {
			return nil, eris.Errorf("route: duplicate id %q", r.ID)
		}
		seen[r.ID] = true
		if r.Endpoint == "" {
			return nil, eris.Errorf("route: %s has no endpoint", r.ID)
		}
		if r.Reliability <= 0 {
			r.Reliability = 1.0
		}
	}
	return f.Routes, nil
}
