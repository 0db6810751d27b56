// Package domain contains the core domain types and validation logic.
// This is part of the Functional Core - all functions are pure with no I/O.
package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Node Kind
// =============================================================================

// NodeKind identifies a node template, e.g. "bitcoind" or "lnd".
type NodeKind string

const (
	KindBitcoind NodeKind = "bitcoind"
	KindLND      NodeKind = "lnd"
)

// =============================================================================
// Desired State
// =============================================================================

// DesiredState is the user's persisted intent for a node.
type DesiredState string

const (
	DesiredRunning DesiredState = "running"
	DesiredStopped DesiredState = "stopped"
	DesiredRemoved DesiredState = "removed"
)

// IsValid checks if the desired state is known.
func (d DesiredState) IsValid() bool {
	switch d {
	case DesiredRunning, DesiredStopped, DesiredRemoved:
		return true
	default:
		return false
	}
}

// =============================================================================
// Port Block
// =============================================================================

// PortBinding maps one named container port to a reserved host port.
type PortBinding struct {
	Purpose       string `json:"purpose" yaml:"purpose"`
	HostPort      int    `json:"host_port" yaml:"host_port"`
	ContainerPort int    `json:"container_port" yaml:"container_port"`
}

// PortBlock is the contiguous set of host ports reserved for one node.
type PortBlock struct {
	Base     int           `json:"base" yaml:"base"`
	Bindings []PortBinding `json:"bindings" yaml:"bindings"`
}

// HostPorts returns the reserved host ports in binding order.
func (b PortBlock) HostPorts() []int {
	ports := make([]int, 0, len(b.Bindings))
	for _, p := range b.Bindings {
		ports = append(ports, p.HostPort)
	}
	return ports
}

// HostPort returns the host port bound for purpose, or 0.
func (b PortBlock) HostPort(purpose string) int {
	for _, p := range b.Bindings {
		if p.Purpose == purpose {
			return p.HostPort
		}
	}
	return 0
}

// ContainerPort returns the container port bound for purpose, or 0.
func (b PortBlock) ContainerPort(purpose string) int {
	for _, p := range b.Bindings {
		if p.Purpose == purpose {
			return p.ContainerPort
		}
	}
	return 0
}

// Validate checks that the bindings cover exactly Base..Base+len-1.
func (b PortBlock) Validate() error {
	if len(b.Bindings) == 0 {
		return fmt.Errorf("%w: port block has no bindings", ErrStateCorruption)
	}
	for i, p := range b.Bindings {
		if p.HostPort != b.Base+i {
			return fmt.Errorf("%w: port %d of block %d is %d, want %d", ErrStateCorruption, i, b.Base, p.HostPort, b.Base+i)
		}
	}
	return nil
}

// =============================================================================
// Node
// =============================================================================

// Node is one containerized Lightning-stack component within a Network.
type Node struct {
	Name        string       `json:"name"`
	Kind        NodeKind     `json:"kind"`
	Network     string       `json:"network"`
	Image       string       `json:"image"`
	Alias       string       `json:"alias,omitempty"`
	Ports       PortBlock    `json:"ports"`
	ContainerID string       `json:"container_id,omitempty"`
	State       NodeState    `json:"state"`
	Desired     DesiredState `json:"desired"`
	LastError   string       `json:"last_error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewNode creates a node in the Defined state with its port block assigned.
func NewNode(network, name string, kind NodeKind, image, alias string, ports PortBlock) (Node, error) {
	if err := ValidateName(name); err != nil {
		return Node{}, fmt.Errorf("node %q: %w", name, err)
	}
	now := time.Now().UTC()
	return Node{
		Name:      name,
		Kind:      kind,
		Network:   network,
		Image:     image,
		Alias:     alias,
		Ports:     ports,
		State:     NodeDefined,
		Desired:   DesiredStopped,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Ref returns the "network/node" identity used for locks and log streams.
func (n Node) Ref() string {
	return n.Network + "/" + n.Name
}

// IsActive reports whether the node needs the network's bridge to exist.
func (n Node) IsActive() bool {
	return n.State.IsActive()
}
