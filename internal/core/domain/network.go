package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Network Status
// =============================================================================

// NetworkStatus is derived from the states of a network's nodes.
type NetworkStatus string

const (
	NetworkEmpty   NetworkStatus = "empty"
	NetworkRunning NetworkStatus = "running"
	NetworkStopped NetworkStatus = "stopped"
	NetworkPartial NetworkStatus = "partial"
	NetworkFailed  NetworkStatus = "failed"
)

// DeriveNetworkStatus computes the network status from its nodes.
// Defined nodes count as stopped.
func DeriveNetworkStatus(nodes []Node) NetworkStatus {
	if len(nodes) == 0 {
		return NetworkEmpty
	}

	var running, stopped, failed int
	for _, n := range nodes {
		switch n.State {
		case NodeRunning:
			running++
		case NodeStopped, NodeRemoved, NodeDefined:
			stopped++
		case NodeFailed:
			failed++
		}
	}

	switch {
	case failed > 0 && running == 0:
		return NetworkFailed
	case running == len(nodes):
		return NetworkRunning
	case stopped == len(nodes):
		return NetworkStopped
	default:
		return NetworkPartial
	}
}

// =============================================================================
// Network
// =============================================================================

// Network is one isolated development topology.
type Network struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	DockerNetworkID string              `json:"docker_network_id,omitempty"`
	AliasPrefix     string              `json:"alias_prefix"`
	Images          map[NodeKind]string `json:"images,omitempty"`
	Nodes           []Node              `json:"nodes"`
	Quarantine      string              `json:"quarantine,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// NewNetwork creates an empty network.
func NewNetwork(name, aliasPrefix string, images map[NodeKind]string) (*Network, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if images == nil {
		images = make(map[NodeKind]string)
	}
	now := time.Now().UTC()
	return &Network{
		ID:          uuid.New().String(),
		Name:        name,
		AliasPrefix: aliasPrefix,
		Images:      images,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Status returns the derived status. A quarantined network is failed.
func (n *Network) Status() NetworkStatus {
	if n.Quarantine != "" {
		return NetworkFailed
	}
	return DeriveNetworkStatus(n.Nodes)
}

// Node returns the node with the given name.
func (n *Network) Node(name string) (Node, bool) {
	for _, node := range n.Nodes {
		if node.Name == name {
			return node, true
		}
	}
	return Node{}, false
}

// NodesOfKind returns the nodes of kind in creation order.
func (n *Network) NodesOfKind(kind NodeKind) []Node {
	var out []Node
	for _, node := range n.Nodes {
		if node.Kind == kind {
			out = append(out, node)
		}
	}
	return out
}

// HasActiveNodes reports whether any node needs the bridge network.
func (n *Network) HasActiveNodes() bool {
	for _, node := range n.Nodes {
		if node.IsActive() {
			return true
		}
	}
	return false
}

// WantsRunning reports whether any node's desired state is running.
func (n *Network) WantsRunning() bool {
	for _, node := range n.Nodes {
		if node.Desired == DesiredRunning {
			return true
		}
	}
	return false
}

// NextNodeName returns "<kind>-<n>" with the lowest n not already taken.
func (n *Network) NextNodeName(kind NodeKind) string {
	for i := 1; ; i++ {
		name := string(kind) + "-" + strconv.Itoa(i)
		if _, taken := n.Node(name); !taken {
			return name
		}
	}
}

// NodeAlias returns the alias advertised by a node of this network.
func (n *Network) NodeAlias(nodeName string) string {
	if n.AliasPrefix == "" {
		return nodeName
	}
	return n.AliasPrefix + "-" + nodeName
}
