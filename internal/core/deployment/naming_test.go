package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Naming Tests
// =============================================================================

func TestNetworkName_TableDriven(t *testing.T) {
	tests := []struct {
		network  string
		expected string
	}{
		{"alpha", "lnlab-alpha"},
		{"beta-2", "lnlab-beta-2"},
		{"", "lnlab-"},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			assert.Equal(t, tt.expected, NetworkName(tt.network))
		})
	}
}

func TestContainerName_TableDriven(t *testing.T) {
	tests := []struct {
		network  string
		node     string
		expected string
	}{
		{"alpha", "bitcoind-1", "lnlab-alpha-bitcoind-1"},
		{"alpha", "lnd-2", "lnlab-alpha-lnd-2"},
		{"beta", "carol", "lnlab-beta-carol"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContainerName(tt.network, tt.node))
		})
	}
}
