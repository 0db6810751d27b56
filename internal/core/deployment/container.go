package deployment

import "github.com/artpar/lnlab/internal/core/domain"

// =============================================================================
// Container Plan Building Functions
// =============================================================================

// BuildContainerPlan builds a ContainerPlan for a node.
//
// The function:
//   - Generates the container name using ContainerName()
//   - Renders the command with the node's variables (see NodeVariables)
//   - Binds every container port of the node's PortBlock to its host port
//   - Labels the container so it can be found again after a restart
//
// Example:
//
//	plan := BuildContainerPlan(BuildContainerPlanParams{
//	    Network:     "alpha",
//	    Node:        node,
//	    Command:     tmpl.Command,
//	    NetworkName: "lnlab-alpha",
//	    Dependencies: map[domain.NodeKind]string{domain.KindBitcoind: "bitcoind-1"},
//	})
func BuildContainerPlan(params BuildContainerPlanParams) ContainerPlan {
	node := params.Node
	name := ContainerName(params.Network, node.Name)

	plan := ContainerPlan{
		Name:     name,
		Hostname: node.Name,
		Image:    node.Image,
		Command:  SubstituteAll(params.Command, NodeVariables(params.Network, node, params.Dependencies)),
		Labels: map[string]string{
			LabelManaged: "true",
			LabelNetwork: params.Network,
			LabelNode:    node.Name,
			LabelKind:    string(node.Kind),
		},
		Network: params.NetworkName,
	}

	for _, b := range node.Ports.Bindings {
		proto := params.Protocols[b.Purpose]
		if proto == "" {
			proto = "tcp"
		}
		plan.Ports = append(plan.Ports, PortPlan{
			ContainerPort: b.ContainerPort,
			HostPort:      b.HostPort,
			Protocol:      proto,
		})
	}

	return plan
}

// NodeVariables returns the placeholder values for a node's command.
// dependencies maps a dependency kind to the name of the node serving it;
// each becomes <KIND>_HOST set to that node's container name.
func NodeVariables(network string, node domain.Node, dependencies map[domain.NodeKind]string) map[string]string {
	vars := map[string]string{
		"NODE_NAME": node.Name,
		"ALIAS":     node.Alias,
		"NETWORK":   network,
	}
	if vars["ALIAS"] == "" {
		vars["ALIAS"] = node.Name
	}
	for kind, depNode := range dependencies {
		vars[HostVariable(string(kind))] = ContainerName(network, depNode)
	}
	return vars
}
