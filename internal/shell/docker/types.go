// Package docker provides a Docker client for container lifecycle management.
package docker

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Container Types
// =============================================================================

// ContainerSpec defines the specification for creating a container.
type ContainerSpec struct {
	Name     string
	Hostname string
	Image    string
	Command  []string
	Labels   map[string]string
	Ports    []PortBinding
	Network  string // network ID or name; "" for the default bridge
}

// PortBinding defines a port mapping.
type PortBinding struct {
	ContainerPort int
	HostPort      int    // 0 for auto-assign
	Protocol      string // "tcp" or "udp"
	HostIP        string // "" for 0.0.0.0
}

// ContainerStatus represents the container state reported by the engine.
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// IsRunning reports whether the container process is up.
func (s ContainerStatus) IsRunning() bool {
	return s == ContainerStatusRunning || s == ContainerStatusRestarting
}

// ContainerInfo contains information about a container.
type ContainerInfo struct {
	ID         string
	Name       string
	Image      string
	Status     ContainerStatus
	Health     string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Ports      []PortBinding
	Labels     map[string]string
	ExitCode   int
}

// =============================================================================
// Network Types
// =============================================================================

// NetworkSpec defines the specification for creating a network.
type NetworkSpec struct {
	Name   string
	Driver string // default "bridge"
	Labels map[string]string
}

// =============================================================================
// Options Types
// =============================================================================

// RemoveOptions defines options for removing a container.
type RemoveOptions struct {
	Force         bool
	RemoveVolumes bool
}

// ListOptions defines options for listing containers.
type ListOptions struct {
	All     bool
	Filters map[string]string // label=key=value style filters
}

// LogOptions defines options for retrieving container logs.
type LogOptions struct {
	Follow     bool
	Tail       string // "all" or number
	Timestamps bool
	Since      time.Time
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// =============================================================================
// Client Interface
// =============================================================================

// Client is the runtime capability the orchestration core consumes.
// Connection failures wrap domain.ErrRuntimeUnavailable; every other engine
// failure wraps domain.ErrRuntimeOperationFailed.
type Client interface {
	Ping(ctx context.Context) error
	Close() error

	// Networks
	CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error)
	RemoveNetwork(ctx context.Context, networkID string) error
	NetworkExists(ctx context.Context, networkID string) (bool, error)

	// Containers
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	KillContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string, opts RemoveOptions) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerInfo, error)
	ListContainers(ctx context.Context, opts ListOptions) ([]ContainerInfo, error)

	// ContainerLogs returns demultiplexed stdout and stderr as plain text.
	ContainerLogs(ctx context.Context, containerID string, opts LogOptions) (io.ReadCloser, error)
	Exec(ctx context.Context, containerID string, cmd []string) (*ExecResult, error)

	// Images
	ImageExists(ctx context.Context, image string) (bool, error)
	PullImage(ctx context.Context, image string) error
}
