package deployment

import (
	"testing"

	"github.com/artpar/lnlab/internal/core/compose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// DependencyLevels Tests
// =============================================================================

func levelNames(levels [][]compose.Service) [][]string {
	out := make([][]string, 0, len(levels))
	for _, level := range levels {
		names := make([]string, 0, len(level))
		for _, s := range level {
			names = append(names, s.Name)
		}
		out = append(out, names)
	}
	return out
}

func TestDependencyLevels_Empty(t *testing.T) {
	levels, err := DependencyLevels(nil)
	require.NoError(t, err)
	assert.Empty(t, levels)
}

func TestDependencyLevels_Chain(t *testing.T) {
	services := []compose.Service{
		{Name: "tapd", DependsOn: []string{"lnd"}},
		{Name: "lnd", DependsOn: []string{"bitcoind"}},
		{Name: "bitcoind"},
	}

	levels, err := DependencyLevels(services)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"bitcoind"}, {"lnd"}, {"tapd"}}, levelNames(levels))
}

func TestDependencyLevels_SiblingsShareLevel(t *testing.T) {
	services := []compose.Service{
		{Name: "lnd", DependsOn: []string{"bitcoind"}},
		{Name: "cln", DependsOn: []string{"bitcoind"}},
		{Name: "bitcoind"},
	}

	levels, err := DependencyLevels(services)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"bitcoind"}, {"cln", "lnd"}}, levelNames(levels))
}

func TestDependencyLevels_Diamond(t *testing.T) {
	services := []compose.Service{
		{Name: "web", DependsOn: []string{"api", "cache"}},
		{Name: "api", DependsOn: []string{"db"}},
		{Name: "cache", DependsOn: []string{"db"}},
		{Name: "db"},
	}

	levels, err := DependencyLevels(services)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"db"}, {"api", "cache"}, {"web"}}, levelNames(levels))
}

func TestDependencyLevels_Cycle(t *testing.T) {
	services := []compose.Service{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
		{Name: "c"},
	}

	_, err := DependencyLevels(services)
	assert.ErrorIs(t, err, compose.ErrCircularDependency)
}

func TestDependencyLevels_MissingDependency(t *testing.T) {
	services := []compose.Service{
		{Name: "lnd", DependsOn: []string{"bitcoind"}},
	}

	_, err := DependencyLevels(services)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service")
}

func TestTopologicalSort_PreservesServiceData(t *testing.T) {
	services := []compose.Service{
		{Name: "lnd", Image: "lnd:1", DependsOn: []string{"bitcoind"}},
		{Name: "bitcoind", Image: "bitcoind:1"},
	}

	sorted, err := TopologicalSort(services)
	require.NoError(t, err)
	require.Len(t, sorted, 2)
	assert.Equal(t, "bitcoind:1", sorted[0].Image)
	assert.Equal(t, "lnd:1", sorted[1].Image)
}
