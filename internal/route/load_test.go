package route

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - id: on-1
    endpoint: http://proxy-on.example.com:8080
    credential: user:secret
    region: ON
    reliability: 0.9
  - id: any-1
    endpoint: http://proxy.example.com:8080
`), 0o600))

	routes, err := LoadRoutes(path)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "on-1", routes[0].ID)
	assert.Equal(t, "user:secret", routes[0].Credential)
	assert.Equal(t, "ON", routes[0].Region)
	assert.InDelta(t, 0.9, routes[0].Reliability, 1e-9)
	assert.InDelta(t, 1.0, routes[1].Reliability, 1e-9, "missing reliability defaults to 1.0")
}

func TestLoadRoutes_MissingFile(t *testing.T) {
	_, err := LoadRoutes(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route: read")
}

func TestParseRoutes_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "routes:\n  - endpoint: http://x\n", "has no id"},
		{"duplicate id", "routes:\n  - {id: a, endpoint: http://x}\n  - {id: a, endpoint: http://y}\n", "duplicate id"},
		{"missing endpoint", "routes:\n  - id: a\n", "has no endpoint"},
		{"bad yaml", "routes: [", "parse yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoutes([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
