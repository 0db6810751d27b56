package domain

import "errors"

// =============================================================================
// Error Taxonomy
// =============================================================================

var (
	ErrPortExhaustion         = errors.New("no contiguous port range available below ceiling")
	ErrNotReserved            = errors.New("port block is not reserved")
	ErrDependencyUnsatisfied  = errors.New("node dependencies are not running")
	ErrRuntimeUnavailable     = errors.New("container runtime unavailable")
	ErrRuntimeOperationFailed = errors.New("container runtime operation failed")
	ErrStateCorruption        = errors.New("persisted state is corrupt")
	ErrAmbiguous              = errors.New("actual state could not be determined")
)

// Validation and lookup errors.
var (
	ErrInvalidName       = errors.New("name must be 1-32 characters of [a-z0-9-] and start with a letter or digit")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNetworkExists     = errors.New("network already exists")
	ErrNetworkNotFound   = errors.New("network not found")
	ErrNodeExists        = errors.New("node already exists")
	ErrNodeNotFound      = errors.New("node not found")
	ErrNodeInUse         = errors.New("node is required by other nodes")
)

// Errors of commands run against live nodes.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUnsupportedKind   = errors.New("operation not supported for this node kind")
	ErrNodeNotRunning    = errors.New("node is not running")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNodeCommandFailed = errors.New("node command failed")
)

// reasons maps each sentinel to the kind name shown to users.
// Order matters: the first match wins.
var reasons = []struct {
	err  error
	name string
}{
	{ErrPortExhaustion, "PortExhaustion"},
	{ErrNotReserved, "NotReserved"},
	{ErrDependencyUnsatisfied, "DependencyUnsatisfied"},
	{ErrRuntimeUnavailable, "RuntimeUnavailable"},
	{ErrStateCorruption, "StateCorruption"},
	{ErrAmbiguous, "Ambiguous"},
	{ErrRuntimeOperationFailed, "RuntimeOperationFailed"},
	{ErrInvalidName, "InvalidName"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrNetworkExists, "NetworkExists"},
	{ErrNetworkNotFound, "NetworkNotFound"},
	{ErrNodeExists, "NodeExists"},
	{ErrNodeNotFound, "NodeNotFound"},
	{ErrNodeInUse, "NodeInUse"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrUnsupportedKind, "UnsupportedKind"},
	{ErrNodeNotRunning, "NodeNotRunning"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrNodeCommandFailed, "NodeCommandFailed"},
}

// Reason returns the error kind name for err, or "Internal" when err does not
// wrap any known sentinel. Returns "" for a nil error.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "Internal"
}
