// Package orchestrator drives node lifecycles against the container runtime
// while keeping the persisted model consistent with what the runtime reports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/artpar/lnlab/internal/core/deployment"
	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/core/template"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/logs"
	"github.com/artpar/lnlab/internal/shell/portalloc"
	"github.com/artpar/lnlab/internal/shell/store"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds lifecycle timings and limits.
type Config struct {
	StopTimeout            time.Duration
	ProbeTimeout           time.Duration
	ProbeInterval          time.Duration
	DependencyTimeout      time.Duration
	DependencyPollInterval time.Duration
	MaxParallel            int
	RestartAttempts        int
	InitialBackoff         time.Duration
	MaxBackoff             time.Duration
	AliasPrefix            string
	Logs                   logs.Config
}

// DefaultConfig returns the default lifecycle configuration.
func DefaultConfig() Config {
	return Config{
		StopTimeout:            10 * time.Second,
		ProbeTimeout:           90 * time.Second,
		ProbeInterval:          time.Second,
		DependencyTimeout:      2 * time.Minute,
		DependencyPollInterval: 500 * time.Millisecond,
		MaxParallel:            4,
		RestartAttempts:        3,
		InitialBackoff:         time.Second,
		MaxBackoff:             time.Minute,
		AliasPrefix:            "lnlab-node",
		Logs:                   logs.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = d.ProbeInterval
	}
	if c.DependencyTimeout <= 0 {
		c.DependencyTimeout = d.DependencyTimeout
	}
	if c.DependencyPollInterval <= 0 {
		c.DependencyPollInterval = d.DependencyPollInterval
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = d.MaxParallel
	}
	if c.RestartAttempts <= 0 {
		c.RestartAttempts = d.RestartAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the command surface shared by the CLI and the HTTP API.
type Orchestrator struct {
	store     store.Store
	raw       docker.Client
	docker    docker.Client
	gate      *gate
	alloc     *portalloc.Allocator
	templates *template.Registry
	logs      *logs.Multiplexer
	cfg       Config
	logger    *slog.Logger

	netLocks  sync.Map // network name -> *networkLocks
	nodeLocks sync.Map // "network/node" -> *sync.Mutex
}

// networkLocks guards one network. rw is held for writing by network-wide
// mutations and for reading by node transitions. handle serializes changes
// to the docker network handle.
type networkLocks struct {
	rw     sync.RWMutex
	handle sync.Mutex
}

// New creates an orchestrator. Call Init before serving commands.
func New(st store.Store, client docker.Client, alloc *portalloc.Allocator, templates *template.Registry, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	g := newGate(cfg.InitialBackoff, cfg.MaxBackoff)
	gated := &gatedClient{inner: client, gate: g}
	return &Orchestrator{
		store:     st,
		raw:       client,
		docker:    gated,
		gate:      g,
		alloc:     alloc,
		templates: templates,
		logs:      logs.New(gated, cfg.Logs, logger),
		cfg:       cfg,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Init loads persisted port reservations into the allocator.
func (o *Orchestrator) Init(ctx context.Context) error {
	ports, err := o.store.ListReservedPorts(ctx)
	if err != nil {
		return fmt.Errorf("load port reservations: %w", err)
	}
	o.alloc.Load(ports)
	o.logger.Info("port reservations loaded", "ports", len(ports))
	return nil
}

// CheckRuntime pings the runtime, bypassing and then updating the gate.
func (o *Orchestrator) CheckRuntime(ctx context.Context) error {
	err := o.raw.Ping(ctx)
	o.gate.observe(err)
	return err
}

// Allocator returns the port allocator.
func (o *Orchestrator) Allocator() *portalloc.Allocator {
	return o.alloc
}

// =============================================================================
// Locks
// =============================================================================

func (o *Orchestrator) networkLock(name string) *networkLocks {
	v, _ := o.netLocks.LoadOrStore(name, &networkLocks{})
	return v.(*networkLocks)
}

func (o *Orchestrator) nodeLock(ref string) *sync.Mutex {
	v, _ := o.nodeLocks.LoadOrStore(ref, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// =============================================================================
// Store Helpers
// =============================================================================

func (o *Orchestrator) loadNetwork(ctx context.Context, name string) (*domain.Network, error) {
	network, err := o.store.GetNetwork(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, name)
		}
		return nil, err
	}
	return network, nil
}

func (o *Orchestrator) loadNode(ctx context.Context, network, name string) (domain.Node, error) {
	node, err := o.store.GetNode(ctx, network, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Node{}, fmt.Errorf("%w: %s/%s", domain.ErrNodeNotFound, network, name)
		}
		return domain.Node{}, err
	}
	return *node, nil
}

// save persists node even if ctx has been cancelled, so an interrupted
// command still records where it stopped.
func (o *Orchestrator) save(ctx context.Context, node domain.Node) error {
	if err := o.store.UpdateNode(context.WithoutCancel(ctx), &node); err != nil {
		return fmt.Errorf("persist node %s: %w", node.Ref(), err)
	}
	return nil
}

// transition moves node to state to and persists it.
func (o *Orchestrator) transition(ctx context.Context, node domain.Node, to domain.NodeState) (domain.Node, error) {
	next, err := domain.TransitionNode(node, to, time.Now())
	if err != nil {
		return node, err
	}
	if err := o.save(ctx, next); err != nil {
		return node, err
	}
	o.logger.Debug("node transitioned", "network", node.Network, "node", node.Name, "from", node.State, "to", to)
	return next, nil
}

// fail persists node as Failed with reason. If Failed is not reachable from
// the current state, only the reason is recorded.
func (o *Orchestrator) fail(ctx context.Context, node domain.Node, reason string) domain.Node {
	next, err := domain.FailNode(node, reason, time.Now())
	if err != nil {
		next = node
		next.LastError = reason
		next.UpdatedAt = time.Now().UTC()
	}
	if err := o.save(ctx, next); err != nil {
		o.logger.Error("failed to persist node failure", "network", node.Network, "node", node.Name, "error", err)
		return node
	}
	o.logger.Warn("node failed", "network", node.Network, "node", node.Name, "reason", reason)
	return next
}

// =============================================================================
// Docker Network Handle
// =============================================================================

// ensureNetwork makes sure the network's docker network exists, then runs
// mark while still holding the handle lock. mark persists the first
// active state so that a concurrent release never observes an idle network.
func (o *Orchestrator) ensureNetwork(ctx context.Context, name string, mark func() error) error {
	locks := o.networkLock(name)
	locks.handle.Lock()
	defer locks.handle.Unlock()

	network, err := o.store.GetNetwork(ctx, name)
	if err != nil {
		return err
	}

	exists := false
	if network.DockerNetworkID != "" {
		exists, err = o.docker.NetworkExists(ctx, network.DockerNetworkID)
		if err != nil {
			return err
		}
	}

	if !exists {
		id, err := o.docker.CreateNetwork(ctx, docker.NetworkSpec{
			Name: deployment.NetworkName(name),
			Labels: map[string]string{
				deployment.LabelManaged: "true",
				deployment.LabelNetwork: name,
			},
		})
		if err != nil {
			// A leftover network from an earlier run is adopted by name.
			if ok, existsErr := o.docker.NetworkExists(ctx, deployment.NetworkName(name)); existsErr == nil && ok {
				id, err = deployment.NetworkName(name), nil
			}
		}
		if err != nil {
			return fmt.Errorf("create docker network: %w", err)
		}
		network.DockerNetworkID = id
		network.UpdatedAt = time.Now().UTC()
		if err := o.store.UpdateNetwork(context.WithoutCancel(ctx), network); err != nil {
			return err
		}
		o.logger.Info("created docker network", "network", name, "docker_network_id", id)
	}

	if mark != nil {
		return mark()
	}
	return nil
}

// releaseNetworkIfIdle removes the docker network once no node is active.
func (o *Orchestrator) releaseNetworkIfIdle(ctx context.Context, name string) error {
	locks := o.networkLock(name)
	locks.handle.Lock()
	defer locks.handle.Unlock()

	network, err := o.store.GetNetwork(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if network.DockerNetworkID == "" || network.HasActiveNodes() {
		return nil
	}

	err = o.docker.RemoveNetwork(ctx, network.DockerNetworkID)
	switch {
	case err == nil, errors.Is(err, docker.ErrNetworkNotFound):
	case errors.Is(err, docker.ErrNetworkInUse):
		o.logger.Warn("docker network still has endpoints", "network", name, "docker_network_id", network.DockerNetworkID)
		return nil
	default:
		return fmt.Errorf("remove docker network: %w", err)
	}

	network.DockerNetworkID = ""
	network.UpdatedAt = time.Now().UTC()
	if err := o.store.UpdateNetwork(context.WithoutCancel(ctx), network); err != nil {
		return err
	}
	o.logger.Info("removed docker network", "network", name)
	return nil
}
