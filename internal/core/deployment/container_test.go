package deployment

import (
	"testing"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BuildContainerPlan Tests
// =============================================================================

func lndNode() domain.Node {
	return domain.Node{
		Name:    "lnd-1",
		Kind:    domain.KindLND,
		Network: "alpha",
		Image:   "polarlightning/lnd:0.18.5-beta",
		Alias:   "lnlab-node-lnd-1",
		Ports: domain.PortBlock{Base: 20004, Bindings: []domain.PortBinding{
			{Purpose: "rest", HostPort: 20004, ContainerPort: 8080},
			{Purpose: "grpc", HostPort: 20005, ContainerPort: 10009},
			{Purpose: "p2p", HostPort: 20006, ContainerPort: 9735},
		}},
	}
}

func TestBuildContainerPlan_Basic(t *testing.T) {
	plan := BuildContainerPlan(BuildContainerPlanParams{
		Network:      "alpha",
		Node:         lndNode(),
		Command:      []string{"lnd", "--alias=${ALIAS}", "--bitcoind.rpchost=${BITCOIND_HOST}"},
		Dependencies: map[domain.NodeKind]string{domain.KindBitcoind: "bitcoind-1"},
		NetworkName:  "lnlab-alpha",
	})

	assert.Equal(t, "lnlab-alpha-lnd-1", plan.Name)
	assert.Equal(t, "lnd-1", plan.Hostname)
	assert.Equal(t, "polarlightning/lnd:0.18.5-beta", plan.Image)
	assert.Equal(t, "lnlab-alpha", plan.Network)
	assert.Equal(t, []string{
		"lnd",
		"--alias=lnlab-node-lnd-1",
		"--bitcoind.rpchost=lnlab-alpha-bitcoind-1",
	}, plan.Command)
}

func TestBuildContainerPlan_Ports(t *testing.T) {
	plan := BuildContainerPlan(BuildContainerPlanParams{
		Network:   "alpha",
		Node:      lndNode(),
		Protocols: map[string]string{"p2p": "udp"},
	})

	require.Len(t, plan.Ports, 3)
	assert.Equal(t, PortPlan{ContainerPort: 8080, HostPort: 20004, Protocol: "tcp"}, plan.Ports[0])
	assert.Equal(t, PortPlan{ContainerPort: 10009, HostPort: 20005, Protocol: "tcp"}, plan.Ports[1])
	assert.Equal(t, PortPlan{ContainerPort: 9735, HostPort: 20006, Protocol: "udp"}, plan.Ports[2])
}

func TestBuildContainerPlan_Labels(t *testing.T) {
	plan := BuildContainerPlan(BuildContainerPlanParams{Network: "alpha", Node: lndNode()})

	assert.Equal(t, map[string]string{
		LabelManaged: "true",
		LabelNetwork: "alpha",
		LabelNode:    "lnd-1",
		LabelKind:    "lnd",
	}, plan.Labels)
}

func TestNodeVariables_AliasFallsBackToName(t *testing.T) {
	node := lndNode()
	node.Alias = ""

	vars := NodeVariables("alpha", node, nil)
	assert.Equal(t, "lnd-1", vars["ALIAS"])
	assert.Equal(t, "lnd-1", vars["NODE_NAME"])
	assert.Equal(t, "alpha", vars["NETWORK"])
	_, hasHost := vars["BITCOIND_HOST"]
	assert.False(t, hasHost)
}
