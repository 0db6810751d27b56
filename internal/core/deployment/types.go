package deployment

import "github.com/artpar/lnlab/internal/core/domain"

// =============================================================================
// Container Plan Types
// =============================================================================

// ContainerPlan represents a planned container configuration.
// This is the pure output of planning, ready for the shell to execute.
type ContainerPlan struct {
	Name     string
	Hostname string
	Image    string
	Command  []string
	Labels   map[string]string
	Ports    []PortPlan
	Network  string
}

// PortPlan represents a planned port binding.
type PortPlan struct {
	ContainerPort int
	HostPort      int
	Protocol      string
}

// =============================================================================
// Builder Parameter Types
// =============================================================================

// BuildContainerPlanParams contains all inputs for building a container plan.
type BuildContainerPlanParams struct {
	Network      string
	Node         domain.Node
	Command      []string
	Protocols    map[string]string // port purpose -> protocol, default tcp
	Dependencies map[domain.NodeKind]string
	NetworkName  string
}

// =============================================================================
// Container Labels
// =============================================================================

// Label keys used for lnlab container identification.
const (
	LabelManaged = "io.lnlab.managed"
	LabelNetwork = "io.lnlab.network"
	LabelNode    = "io.lnlab.node"
	LabelKind    = "io.lnlab.kind"
)
