package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Desired State Tests
// =============================================================================

func TestDesiredState_IsValid(t *testing.T) {
	tests := []struct {
		name    string
		desired DesiredState
		want    bool
	}{
		{"running is valid", DesiredRunning, true},
		{"stopped is valid", DesiredStopped, true},
		{"removed is valid", DesiredRemoved, true},
		{"empty is invalid", DesiredState(""), false},
		{"random is invalid", DesiredState("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.desired.IsValid())
		})
	}
}

// =============================================================================
// Port Block Tests
// =============================================================================

func TestPortBlock_HostPorts_Empty(t *testing.T) {
	assert.Empty(t, PortBlock{}.HostPorts())
}

func TestPortBlock_Lookup(t *testing.T) {
	block := PortBlock{Base: 20004, Bindings: []PortBinding{
		{Purpose: "rest", HostPort: 20004, ContainerPort: 8080},
		{Purpose: "grpc", HostPort: 20005, ContainerPort: 10009},
		{Purpose: "p2p", HostPort: 20006, ContainerPort: 9735},
	}}

	assert.Equal(t, 20006, block.HostPort("p2p"))
	assert.Equal(t, 9735, block.ContainerPort("p2p"))
	assert.Zero(t, block.ContainerPort("rpc"))
	assert.Zero(t, block.HostPort("rpc"))
}

// =============================================================================
// Node Tests
// =============================================================================

func TestNewNode(t *testing.T) {
	block := PortBlock{Base: 20000, Bindings: []PortBinding{{Purpose: "rpc", HostPort: 20000, ContainerPort: 18443}}}

	node, err := NewNode("alpha", "bitcoind-1", KindBitcoind, "polarlightning/bitcoind:27.0", "", block)
	require.NoError(t, err)

	assert.Equal(t, "alpha", node.Network)
	assert.Equal(t, "bitcoind-1", node.Name)
	assert.Equal(t, KindBitcoind, node.Kind)
	assert.Equal(t, NodeDefined, node.State)
	assert.Equal(t, DesiredStopped, node.Desired)
	assert.Equal(t, block, node.Ports)
	assert.Empty(t, node.ContainerID)
	assert.False(t, node.CreatedAt.IsZero())
	assert.Equal(t, node.CreatedAt, node.UpdatedAt)
	assert.Equal(t, "alpha/bitcoind-1", node.Ref())
	assert.False(t, node.IsActive())
}

func TestNewNode_InvalidName(t *testing.T) {
	_, err := NewNode("alpha", "Alice!", KindLND, "lnd", "", PortBlock{})
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Contains(t, err.Error(), `node "Alice!"`)
}
