// Package deployment provides pure functions for node deployment planning.
//
// This package contains the functional core logic for turning node templates
// and persisted node records into Docker execution plans. All functions are
// pure (no I/O, no side effects).
//
// # Functions
//
//   - Naming: Generate consistent resource names (NetworkName, ContainerName)
//   - Ordering: Group template kinds into start levels (DependencyLevels)
//   - Variables: Substitute command placeholders (SubstituteVariables)
//   - Ports: Find the lowest free contiguous port run (FindFreeRun)
//   - Container: Build container plans for nodes (BuildContainerPlan)
//
// # Usage
//
// The imperative shell (internal/shell/orchestrator) uses these pure functions
// to plan node containers, then executes the plans via the Docker API.
//
//	networkName := deployment.NetworkName(network.Name)
//	levels, err := deployment.DependencyLevels(services)
//	plan := deployment.BuildContainerPlan(params)
package deployment
