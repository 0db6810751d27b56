package docker

import (
	"errors"
	"fmt"

	"github.com/artpar/lnlab/internal/core/domain"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Container errors
	ErrContainerNotFound       = errors.New("container not found")
	ErrContainerAlreadyExists  = errors.New("container already exists")
	ErrContainerNotRunning     = errors.New("container is not running")
	ErrContainerAlreadyRunning = errors.New("container is already running")

	// Network errors
	ErrNetworkNotFound = errors.New("network not found")
	ErrNetworkInUse    = errors.New("network has active endpoints")

	// Image errors
	ErrImageNotFound   = errors.New("image not found")
	ErrImagePullFailed = errors.New("image pull failed")

	// Exec errors
	ErrEmptyCommand = errors.New("exec command is empty")

	// Connection errors
	ErrPortAlreadyAllocated = errors.New("port is already allocated")
	ErrConnectionFailed     = fmt.Errorf("docker connection failed: %w", domain.ErrRuntimeUnavailable)
	ErrTimeout              = errors.New("operation timed out")
)

// DockerError wraps errors with additional context.
// Every DockerError that is not a connection failure also matches
// domain.ErrRuntimeOperationFailed.
type DockerError struct {
	Op      string // Operation that failed
	Entity  string // Entity type (container, network, image)
	ID      string // Entity ID if applicable
	Message string
	Err     error
}

func (e *DockerError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DockerError) Unwrap() error {
	return e.Err
}

// Is makes engine failures classify as runtime operation failures.
func (e *DockerError) Is(target error) bool {
	return target == domain.ErrRuntimeOperationFailed && !errors.Is(e.Err, domain.ErrRuntimeUnavailable)
}

// NewDockerError creates a new DockerError.
func NewDockerError(op, entity, id, message string, err error) *DockerError {
	return &DockerError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// IsNotFound reports whether err means the container or network does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrContainerNotFound) || errors.Is(err, ErrNetworkNotFound)
}
