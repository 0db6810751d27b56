package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ValidateTransition Tests
// =============================================================================

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from    NodeState
		to      NodeState
		allowed bool
	}{
		{NodeDefined, NodeCreating, true},
		{NodeDefined, NodeRemoving, true},
		{NodeDefined, NodeRunning, false},
		{NodeDefined, NodeFailed, true},
		{NodeCreating, NodeRunning, true},
		{NodeCreating, NodeFailed, true},
		{NodeCreating, NodeStopping, false},
		{NodeRunning, NodeStopping, true},
		{NodeRunning, NodeRemoving, true},
		{NodeRunning, NodeFailed, true},
		{NodeRunning, NodeCreating, false},
		{NodeStopping, NodeStopped, true},
		{NodeStopping, NodeFailed, true},
		{NodeStopped, NodeCreating, true},
		{NodeStopped, NodeRemoving, true},
		{NodeStopped, NodeRunning, false},
		{NodeStopped, NodeFailed, true},
		{NodeStopped, NodeStopping, false},
		{NodeFailed, NodeCreating, true},
		{NodeFailed, NodeRemoving, true},
		{NodeFailed, NodeStopped, false},
		{NodeRemoving, NodeRemoved, true},
		{NodeRemoving, NodeFailed, true},
		{NodeRemoved, NodeCreating, false},
		{NodeState("bogus"), NodeCreating, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestNodeState_IsActive(t *testing.T) {
	assert.True(t, NodeCreating.IsActive())
	assert.True(t, NodeRunning.IsActive())
	assert.True(t, NodeStopping.IsActive())
	assert.False(t, NodeDefined.IsActive())
	assert.False(t, NodeStopped.IsActive())
	assert.False(t, NodeFailed.IsActive())
	assert.False(t, NodeRemoving.IsActive())
}

// =============================================================================
// TransitionNode Tests
// =============================================================================

func TestTransitionNode_FullRoundTrip(t *testing.T) {
	node := Node{Name: "bitcoind-1", State: NodeDefined, Desired: DesiredStopped}
	now := time.Now()

	var err error
	for _, to := range []NodeState{NodeCreating, NodeRunning, NodeStopping, NodeStopped, NodeRemoving, NodeRemoved} {
		node, err = TransitionNode(node, to, now)
		require.NoError(t, err, "transition to %s", to)
		assert.Equal(t, to, node.State)
	}
	assert.Equal(t, DesiredRemoved, node.Desired)
}

func TestTransitionNode_SetsDesired(t *testing.T) {
	now := time.Now()

	node, err := TransitionNode(Node{State: NodeStopped}, NodeCreating, now)
	require.NoError(t, err)
	assert.Equal(t, DesiredRunning, node.Desired)

	node, err = TransitionNode(Node{State: NodeRunning}, NodeStopping, now)
	require.NoError(t, err)
	assert.Equal(t, DesiredStopped, node.Desired)

	node, err = TransitionNode(Node{State: NodeFailed}, NodeRemoving, now)
	require.NoError(t, err)
	assert.Equal(t, DesiredRemoved, node.Desired)
}

func TestTransitionNode_ClearsErrorOnRetry(t *testing.T) {
	node := Node{State: NodeFailed, LastError: "probe timed out"}

	node, err := TransitionNode(node, NodeCreating, time.Now())
	require.NoError(t, err)
	assert.Empty(t, node.LastError)
}

func TestTransitionNode_InvalidLeavesNodeUnchanged(t *testing.T) {
	node := Node{State: NodeStopped, Desired: DesiredStopped}

	got, err := TransitionNode(node, NodeRunning, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, node, got)
}

// =============================================================================
// FailNode Tests
// =============================================================================

func TestFailNode(t *testing.T) {
	node, err := FailNode(Node{State: NodeCreating}, "probe timed out", time.Now())
	require.NoError(t, err)
	assert.Equal(t, NodeFailed, node.State)
	assert.Equal(t, "probe timed out", node.LastError)
}

func TestFailNode_FromIdleStates(t *testing.T) {
	for _, from := range []NodeState{NodeDefined, NodeStopped} {
		node, err := FailNode(Node{State: from, Desired: DesiredStopped}, "no bitcoind node", time.Now())
		require.NoError(t, err, from)
		assert.Equal(t, NodeFailed, node.State)
		assert.Equal(t, DesiredStopped, node.Desired, "failing does not change intent")
		assert.Equal(t, "no bitcoind node", node.LastError)
	}
}

func TestFailNode_FromRemovedIsInvalid(t *testing.T) {
	_, err := FailNode(Node{State: NodeRemoved}, "boom", time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
