package domain

import (
	"fmt"
	"time"
)

// =============================================================================
// Node State
// =============================================================================

// NodeState is the last-known lifecycle state of a node.
type NodeState string

const (
	NodeDefined  NodeState = "defined"
	NodeCreating NodeState = "creating"
	NodeRunning  NodeState = "running"
	NodeStopping NodeState = "stopping"
	NodeStopped  NodeState = "stopped"
	NodeRemoving NodeState = "removing"
	NodeRemoved  NodeState = "removed"
	NodeFailed   NodeState = "failed"
)

// IsValid checks if the state is known.
func (s NodeState) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsActive reports whether a container is expected to be up or changing.
func (s NodeState) IsActive() bool {
	switch s {
	case NodeCreating, NodeRunning, NodeStopping:
		return true
	default:
		return false
	}
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed state transitions.
var validTransitions = map[NodeState][]NodeState{
	NodeDefined:  {NodeCreating, NodeRemoving, NodeFailed},
	NodeCreating: {NodeRunning, NodeFailed},
	NodeRunning:  {NodeStopping, NodeRemoving, NodeFailed},
	NodeStopping: {NodeStopped, NodeFailed},
	NodeStopped:  {NodeCreating, NodeRemoving, NodeFailed},
	NodeFailed:   {NodeCreating, NodeRemoving},
	NodeRemoving: {NodeRemoved, NodeFailed},
	NodeRemoved:  {}, // Terminal state
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to NodeState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, from)
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// TransitionNode returns a copy of n moved to state to.
// Entering Creating clears the retained error.
func TransitionNode(n Node, to NodeState, now time.Time) (Node, error) {
	if err := ValidateTransition(n.State, to); err != nil {
		return n, err
	}

	n.State = to
	n.UpdatedAt = now.UTC()

	switch to {
	case NodeCreating:
		n.LastError = ""
		n.Desired = DesiredRunning
	case NodeStopping:
		n.Desired = DesiredStopped
	case NodeRemoving:
		n.Desired = DesiredRemoved
	}

	return n, nil
}

// FailNode returns a copy of n in the Failed state with reason retained.
func FailNode(n Node, reason string, now time.Time) (Node, error) {
	if err := ValidateTransition(n.State, NodeFailed); err != nil {
		return n, err
	}
	n.State = NodeFailed
	n.LastError = reason
	n.UpdatedAt = now.UTC()
	return n, nil
}
