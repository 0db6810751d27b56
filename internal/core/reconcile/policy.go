// Package reconcile contains the pure reconciliation policy: given a node's
// persisted record and what the runtime reports for its container, it decides
// which corrective action to take. It performs no I/O.
package reconcile

import (
	"fmt"

	"github.com/artpar/lnlab/internal/core/domain"
)

// =============================================================================
// Observation
// =============================================================================

// ContainerState is what the runtime reports for a node's container.
type ContainerState string

const (
	ContainerAbsent  ContainerState = "absent"
	ContainerRunning ContainerState = "running"
	ContainerStopped ContainerState = "stopped"
)

// Observation is the actual state of one node's container.
// Err is set when inspection failed for a reason other than not-found.
type Observation struct {
	Container   ContainerState
	ContainerID string
	Err         error
}

// =============================================================================
// Decision
// =============================================================================

// Action is a corrective step for the shell to execute.
type Action string

const (
	ActionNone         Action = "none"
	ActionAdopt        Action = "adopt"
	ActionRestart      Action = "restart"
	ActionStop         Action = "stop"
	ActionMarkStopped  Action = "mark-stopped"
	ActionFinishRemove Action = "finish-remove"
	ActionMarkFailed   Action = "mark-failed"
)

// Decision is the outcome of Decide.
type Decision struct {
	Action Action
	Reason string
}

func none() Decision {
	return Decision{Action: ActionNone}
}

// Decide applies the reconciliation policy table to one node.
//
//	desired  state             observed         action
//	running  running           running          none
//	running  creating          running          adopt
//	running  running/creating  stopped          restart
//	running  running           absent           restart
//	running  creating          absent           mark-failed
//	stopped  not failed        running          stop
//	stopped  stopping          stopped/absent   mark-stopped
//	removed  removing          any              finish-remove
//	any      failed            any              none
//	any      any               error            mark-failed (ambiguous)
//
// Decisions never remove a node record on an ambiguous observation.
func Decide(node domain.Node, obs Observation) Decision {
	if obs.Err != nil {
		if node.State == domain.NodeFailed {
			return none()
		}
		return Decision{
			Action: ActionMarkFailed,
			Reason: fmt.Sprintf("%s: %v", domain.ErrAmbiguous, obs.Err),
		}
	}

	if node.State == domain.NodeFailed {
		return none()
	}

	switch node.Desired {
	case domain.DesiredRemoved:
		if node.State == domain.NodeRemoving {
			return Decision{Action: ActionFinishRemove, Reason: "pending delete"}
		}
		return none()

	case domain.DesiredRunning:
		return decideRunning(node, obs)

	case domain.DesiredStopped:
		return decideStopped(node, obs)
	}

	return Decision{
		Action: ActionMarkFailed,
		Reason: fmt.Sprintf("%s: unknown desired state %q", domain.ErrStateCorruption, node.Desired),
	}
}

func decideRunning(node domain.Node, obs Observation) Decision {
	switch node.State {
	case domain.NodeRunning:
		switch obs.Container {
		case ContainerRunning:
			return none()
		case ContainerStopped:
			return Decision{Action: ActionRestart, Reason: "container stopped unexpectedly"}
		default:
			return Decision{Action: ActionRestart, Reason: "container missing"}
		}

	case domain.NodeCreating:
		switch obs.Container {
		case ContainerRunning:
			return Decision{Action: ActionAdopt, Reason: "container survived interrupted create"}
		case ContainerStopped:
			return Decision{Action: ActionRestart, Reason: "container created but not started"}
		default:
			return Decision{Action: ActionMarkFailed, Reason: "container lost during create"}
		}

	case domain.NodeStopping:
		return decideStopped(node, obs)
	}

	return none()
}

func decideStopped(node domain.Node, obs Observation) Decision {
	switch {
	case obs.Container == ContainerRunning:
		return Decision{Action: ActionStop, Reason: "orphaned running container"}
	case node.State == domain.NodeStopping:
		return Decision{Action: ActionMarkStopped, Reason: "interrupted stop completed"}
	case node.State == domain.NodeRunning || node.State == domain.NodeCreating:
		return Decision{Action: ActionMarkStopped, Reason: "container not running"}
	}
	return none()
}
