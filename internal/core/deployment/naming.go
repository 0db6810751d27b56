package deployment

import "fmt"

// =============================================================================
// Resource Naming Functions
// =============================================================================

// NetworkName generates the docker network name for a network.
// Pattern: lnlab-{network}
//
// Example:
//
//	NetworkName("alpha") // returns "lnlab-alpha"
func NetworkName(network string) string {
	return fmt.Sprintf("lnlab-%s", network)
}

// ContainerName generates a container name for a node in a network.
// Pattern: lnlab-{network}-{node}
//
// Example:
//
//	ContainerName("alpha", "lnd-1") // returns "lnlab-alpha-lnd-1"
func ContainerName(network, node string) string {
	return fmt.Sprintf("lnlab-%s-%s", network, node)
}
