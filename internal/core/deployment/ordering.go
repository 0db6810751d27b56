package deployment

import (
	"fmt"
	"sort"

	"github.com/artpar/lnlab/internal/core/compose"
)

// =============================================================================
// Service Ordering Functions
// =============================================================================

// DependencyLevels groups services into start levels using Kahn's algorithm.
// Level 0 holds services with no dependencies; every service in level n
// depends only on services in levels below n. Names are sorted within a level
// so the result is deterministic.
//
// A dependency on an unknown service or a cycle is an error.
//
// Example:
//
//	// Services: lnd → bitcoind, tapd → lnd
//	levels, _ := DependencyLevels(services)
//	// Result: [[bitcoind], [lnd], [tapd]]
func DependencyLevels(services []compose.Service) ([][]compose.Service, error) {
	if len(services) == 0 {
		return nil, nil
	}

	serviceMap := make(map[string]compose.Service, len(services))
	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string)

	for _, svc := range services {
		serviceMap[svc.Name] = svc
	}
	for _, svc := range services {
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			if _, ok := serviceMap[dep]; !ok {
				return nil, fmt.Errorf("service %q depends on unknown service %q", svc.Name, dep)
			}
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var current []string
	for name, degree := range inDegree {
		if degree == 0 {
			current = append(current, name)
		}
	}

	var levels [][]compose.Service
	placed := 0
	for len(current) > 0 {
		sort.Strings(current)

		level := make([]compose.Service, 0, len(current))
		var next []string
		for _, name := range current {
			level = append(level, serviceMap[name])
			for _, dep := range dependents[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		levels = append(levels, level)
		placed += len(level)
		current = next
	}

	if placed < len(services) {
		return nil, compose.ErrCircularDependency
	}

	return levels, nil
}

// TopologicalSort flattens DependencyLevels into a single start order.
func TopologicalSort(services []compose.Service) ([]compose.Service, error) {
	levels, err := DependencyLevels(services)
	if err != nil {
		return nil, err
	}
	result := make([]compose.Service, 0, len(services))
	for _, level := range levels {
		result = append(result, level...)
	}
	return result, nil
}
