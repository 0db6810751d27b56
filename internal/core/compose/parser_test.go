package compose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const minimalValidSpec = `
services:
  app:
    image: nginx:latest
`

const catalogSpec = `
services:
  backend:
    image: example/backend:1.0
    command: ["backend", "--listen=0.0.0.0"]
    ports:
      - name: rpc
        target: 18443
      - name: p2p
        target: 18444
    healthcheck:
      test: ["CMD", "backend-cli", "ping"]
      interval: 2s
      retries: 5
    x-init:
      - ["backend-cli", "init"]

  frontend:
    image: example/frontend:2.0
    command: ["frontend", "--backend=$${BACKEND_HOST}"]
    ports:
      - name: rest
        target: 8080
    depends_on:
      - backend
`

// =============================================================================
// ParseComposeSpec Tests
// =============================================================================

func TestParseComposeSpec_Minimal(t *testing.T) {
	spec, err := ParseComposeSpec(minimalValidSpec)
	require.NoError(t, err)
	require.Len(t, spec.Services, 1)

	svc := spec.Services[0]
	assert.Equal(t, "app", svc.Name)
	assert.Equal(t, "nginx:latest", svc.Image)
	assert.Empty(t, svc.Ports)
	assert.Empty(t, svc.DependsOn)
}

func TestParseComposeSpec_Catalog(t *testing.T) {
	spec, err := ParseComposeSpec(catalogSpec)
	require.NoError(t, err)
	require.Len(t, spec.Services, 2)

	// Sorted by name
	assert.Equal(t, "backend", spec.Services[0].Name)
	assert.Equal(t, "frontend", spec.Services[1].Name)

	backend, ok := spec.Service("backend")
	require.True(t, ok)
	assert.Equal(t, []string{"backend", "--listen=0.0.0.0"}, backend.Command)
	require.Len(t, backend.Ports, 2)
	assert.Equal(t, Port{Name: "rpc", Target: 18443, Protocol: "tcp"}, backend.Ports[0])
	assert.Equal(t, Port{Name: "p2p", Target: 18444, Protocol: "tcp"}, backend.Ports[1])
	require.NotNil(t, backend.HealthCheck)
	assert.Equal(t, []string{"backend-cli", "ping"}, backend.HealthCheck.Command())
	assert.Equal(t, 5, backend.HealthCheck.Retries)

	init, err := StringMatrix(backend.Extensions["x-init"])
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"backend-cli", "init"}}, init)

	frontend, ok := spec.Service("frontend")
	require.True(t, ok)
	assert.Equal(t, []string{"backend"}, frontend.DependsOn)
	assert.Equal(t, []string{"frontend", "--backend=${BACKEND_HOST}"}, frontend.Command)
}

func TestParseComposeSpec_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{"empty", "   ", ErrEmptyInput},
		{"invalid yaml", "services: [", ErrInvalidYAML},
		{
			"unnamed port",
			`
services:
  app:
    image: nginx
    ports:
      - target: 80
`,
			ErrServiceInvalidPort,
		},
		{
			"duplicate port name",
			`
services:
  app:
    image: nginx
    ports:
      - name: web
        target: 80
      - name: web
        target: 81
`,
			ErrServiceInvalidPort,
		},
		{
			"named volume",
			`
services:
  app:
    image: nginx
volumes:
  data:
`,
			ErrUnsupportedFeature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseComposeSpec(tt.yaml)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

// =============================================================================
// detectCircularDependencies Tests
// =============================================================================

func TestDetectCircularDependencies(t *testing.T) {
	assert.NoError(t, detectCircularDependencies([]Service{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b"},
	}))
	assert.ErrorIs(t, detectCircularDependencies([]Service{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	}), ErrCircularDependency)
	assert.ErrorIs(t, detectCircularDependencies([]Service{
		{Name: "a", DependsOn: []string{"a"}},
	}), ErrCircularDependency)
}

// =============================================================================
// HealthCheck / StringMatrix Tests
// =============================================================================

func TestHealthCheck_Command(t *testing.T) {
	var nilCheck *HealthCheck
	assert.Nil(t, nilCheck.Command())
	assert.Nil(t, (&HealthCheck{Test: []string{"NONE"}}).Command())
	assert.Equal(t, []string{"curl", "-f", "x"}, (&HealthCheck{Test: []string{"CMD", "curl", "-f", "x"}}).Command())
	assert.Equal(t, []string{"sh", "-c", "curl -f x"}, (&HealthCheck{Test: []string{"CMD-SHELL", "curl -f x"}}).Command())
}

func TestStringMatrix(t *testing.T) {
	out, err := StringMatrix(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	_, err = StringMatrix("not a list")
	assert.ErrorIs(t, err, ErrInvalidExtension)

	_, err = StringMatrix([]interface{}{[]interface{}{"ok", 3}})
	assert.ErrorIs(t, err, ErrInvalidExtension)
}

func TestStringList(t *testing.T) {
	out, err := StringList(nil)
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = StringList([]interface{}{"bitcoin-cli", "-regtest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bitcoin-cli", "-regtest"}, out)

	_, err = StringList("bitcoin-cli -regtest")
	assert.ErrorIs(t, err, ErrInvalidExtension)

	_, err = StringList([]interface{}{"ok", []interface{}{"nested"}})
	assert.ErrorIs(t, err, ErrInvalidExtension)
}
