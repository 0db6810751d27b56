package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/lnlab/internal/core/deployment"
	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/core/template"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/store"
)

// AddNodeParams describes a node to add to an existing network.
type AddNodeParams struct {
	Kind domain.NodeKind
	Name string // optional; defaults to "<kind>-<n>"
}

// =============================================================================
// Add / Remove
// =============================================================================

// AddNode defines a new node with a fresh port block. The node is started
// right away if any node of the network is running.
func (o *Orchestrator) AddNode(ctx context.Context, networkName string, params AddNodeParams) (*domain.Node, error) {
	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}

	tmpl, err := o.templates.Resolve(params.Kind)
	if err != nil {
		return nil, err
	}
	for _, dep := range tmpl.DependsOn {
		if len(network.NodesOfKind(dep)) == 0 {
			return nil, fmt.Errorf("%w: %s needs a %s node in network %s", domain.ErrDependencyUnsatisfied, params.Kind, dep, networkName)
		}
	}

	name := params.Name
	if name == "" {
		name = network.NextNodeName(params.Kind)
	}
	if _, exists := network.Node(name); exists {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNodeExists, networkName, name)
	}

	node, err := o.defineNode(ctx, network, tmpl, name)
	if err != nil {
		return nil, err
	}
	o.logger.Info("node added", "network", networkName, "node", name, "kind", params.Kind, "base_port", node.Ports.Base)

	autoStart := false
	for _, n := range network.Nodes {
		if n.State == domain.NodeRunning {
			autoStart = true
			break
		}
	}
	if !autoStart {
		return &node, nil
	}

	lock := o.nodeLock(node.Ref())
	lock.Lock()
	defer lock.Unlock()
	started, err := o.startNodeLocked(ctx, networkName, name)
	return &started, err
}

// defineNode allocates a port block and persists a Defined node.
func (o *Orchestrator) defineNode(ctx context.Context, network *domain.Network, tmpl template.Template, name string) (domain.Node, error) {
	if err := domain.ValidateName(name); err != nil {
		return domain.Node{}, fmt.Errorf("node %q: %w", name, err)
	}

	ports, err := o.alloc.Allocate(tmpl.PortCount())
	if err != nil {
		return domain.Node{}, err
	}

	node, err := o.newNode(network, tmpl, name, ports)
	if err == nil {
		err = o.store.CreateNode(ctx, &node)
	}
	if err != nil {
		o.releaseUncommitted(ports, err)
		if errors.Is(err, store.ErrDuplicateID) {
			return domain.Node{}, fmt.Errorf("%w: %s/%s: %w", domain.ErrNodeExists, network.Name, name, err)
		}
		return domain.Node{}, err
	}
	return node, nil
}

func (o *Orchestrator) newNode(network *domain.Network, tmpl template.Template, name string, ports []int) (domain.Node, error) {
	block, err := tmpl.BuildPortBlock(ports)
	if err != nil {
		return domain.Node{}, err
	}
	image := tmpl.Image
	if override := network.Images[tmpl.Kind]; override != "" {
		image = override
	}
	return domain.NewNode(network.Name, name, tmpl.Kind, image, network.NodeAlias(name), block)
}

// releaseUncommitted returns ports to the allocator unless the commit
// outcome is unknown, in which case they stay reserved.
func (o *Orchestrator) releaseUncommitted(ports []int, cause error) {
	if errors.Is(cause, store.ErrTxFailed) {
		o.logger.Warn("keeping ports reserved after failed commit", "ports", ports, "error", cause)
		return
	}
	if err := o.alloc.Release(ports); err != nil {
		o.logger.Error("failed to release uncommitted ports", "ports", ports, "error", err)
	}
}

// RemoveNode stops and deletes a node and releases its port block.
func (o *Orchestrator) RemoveNode(ctx context.Context, networkName, nodeName string) error {
	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return err
	}
	node, ok := network.Node(nodeName)
	if !ok {
		return fmt.Errorf("%w: %s/%s", domain.ErrNodeNotFound, networkName, nodeName)
	}

	if len(network.NodesOfKind(node.Kind)) == 1 {
		for _, dependent := range o.templates.Dependents(node.Kind) {
			if len(network.NodesOfKind(dependent)) > 0 {
				return fmt.Errorf("%w: %s nodes depend on %s", domain.ErrNodeInUse, dependent, nodeName)
			}
		}
	}

	lock := o.nodeLock(node.Ref())
	lock.Lock()
	err = o.removeNodeLocked(ctx, networkName, nodeName)
	lock.Unlock()
	if err != nil {
		return err
	}

	return o.releaseNetworkIfIdle(ctx, networkName)
}

// removeNodeLocked drives a node through Removing to Removed. The caller
// holds the node lock.
func (o *Orchestrator) removeNodeLocked(ctx context.Context, networkName, nodeName string) error {
	node, err := o.loadNode(ctx, networkName, nodeName)
	if err != nil {
		return err
	}

	// An interrupted create or stop is failed first so Removing is reachable.
	if node.State == domain.NodeCreating || node.State == domain.NodeStopping {
		node = o.fail(ctx, node, fmt.Sprintf("interrupted while %s", node.State))
	}
	if node.State != domain.NodeRemoving {
		if node, err = o.transition(ctx, node, domain.NodeRemoving); err != nil {
			return err
		}
	}

	if err := o.stopContainer(ctx, o.containerRef(node)); err != nil && !errors.Is(err, domain.ErrRuntimeUnavailable) {
		o.logger.Warn("stop before remove failed", "network", networkName, "node", nodeName, "error", err)
	}
	if err := o.removeContainers(ctx, node); err != nil {
		if errors.Is(err, domain.ErrRuntimeUnavailable) {
			return err
		}
		o.fail(ctx, node, fmt.Sprintf("remove container: %v", err))
		return fmt.Errorf("remove container for %s: %w", node.Ref(), err)
	}

	return o.finishRemove(ctx, node)
}

// removeContainers force-removes the node's container by recorded ID and by
// deterministic name. Missing containers are ignored.
func (o *Orchestrator) removeContainers(ctx context.Context, node domain.Node) error {
	refs := []string{deployment.ContainerName(node.Network, node.Name)}
	if node.ContainerID != "" {
		refs = append([]string{node.ContainerID}, refs...)
	}
	for _, ref := range refs {
		err := o.docker.RemoveContainer(ctx, ref, docker.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !docker.IsNotFound(err) {
			return err
		}
	}
	return nil
}

// finishRemove deletes the node record and then releases its block. If the
// delete fails the block stays reserved and the node stays Removing.
func (o *Orchestrator) finishRemove(ctx context.Context, node domain.Node) error {
	persistCtx := context.WithoutCancel(ctx)
	err := o.store.WithTx(persistCtx, func(tx store.Store) error {
		return tx.DeleteNode(persistCtx, node.Network, node.Name)
	})
	if err != nil {
		return fmt.Errorf("delete node %s: %w", node.Ref(), err)
	}

	if err := o.alloc.Release(node.Ports.HostPorts()); err != nil {
		o.logger.Warn("port block was not reserved", "network", node.Network, "node", node.Name, "error", err)
	}
	o.logs.Terminate(node.Ref())

	o.logger.Info("node removed", "network", node.Network, "node", node.Name, "base_port", node.Ports.Base)
	return nil
}

// =============================================================================
// Start
// =============================================================================

// StartNode starts one node after its dependencies are running.
func (o *Orchestrator) StartNode(ctx context.Context, networkName, nodeName string) (*domain.Node, error) {
	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	if _, err := o.loadNetwork(ctx, networkName); err != nil {
		return nil, err
	}

	lock := o.nodeLock(networkName + "/" + nodeName)
	lock.Lock()
	defer lock.Unlock()

	node, err := o.startNodeLocked(ctx, networkName, nodeName)
	return &node, err
}

// startNodeLocked runs Defined/Stopped/Failed -> Creating -> Running.
// The caller holds the network read lock and the node lock.
func (o *Orchestrator) startNodeLocked(ctx context.Context, networkName, nodeName string) (domain.Node, error) {
	node, err := o.loadNode(ctx, networkName, nodeName)
	if err != nil {
		return node, err
	}
	if node.State == domain.NodeRunning {
		return node, nil
	}
	if err := domain.ValidateTransition(node.State, domain.NodeCreating); err != nil {
		return node, fmt.Errorf("start %s: %w", node.Ref(), err)
	}

	tmpl, err := o.templates.Resolve(node.Kind)
	if err != nil {
		return node, err
	}

	deps, err := o.waitForDependencies(ctx, node, tmpl)
	if err != nil {
		if errors.Is(err, domain.ErrDependencyUnsatisfied) {
			node = o.fail(ctx, node, err.Error())
		}
		return node, err
	}

	if err := o.gate.check(); err != nil {
		return node, err
	}

	err = o.ensureNetwork(ctx, networkName, func() error {
		node, err = o.transition(ctx, node, domain.NodeCreating)
		return err
	})
	if err != nil {
		if !errors.Is(err, domain.ErrRuntimeUnavailable) && node.State != domain.NodeCreating {
			node.LastError = err.Error()
			_ = o.save(ctx, node)
		}
		return node, err
	}

	o.logger.Info("starting node", "network", networkName, "node", nodeName, "kind", node.Kind)

	containerID, err := o.bringUp(ctx, node, tmpl, deps)
	if err != nil {
		if errors.Is(err, domain.ErrRuntimeUnavailable) {
			// Left in Creating for the reconciler to adopt or fail.
			return node, err
		}
		if containerID != "" {
			node.ContainerID = containerID
			if stopErr := o.stopContainer(ctx, containerID); stopErr != nil {
				o.logger.Warn("failed to stop container of failed node", "network", networkName, "node", nodeName, "error", stopErr)
			}
		}
		node = o.fail(ctx, node, err.Error())
		if relErr := o.releaseNetworkIfIdle(ctx, networkName); relErr != nil {
			o.logger.Warn("failed to release docker network", "network", networkName, "error", relErr)
		}
		return node, fmt.Errorf("start %s: %w", node.Ref(), err)
	}

	node.ContainerID = containerID
	if node, err = o.transition(ctx, node, domain.NodeRunning); err != nil {
		return node, err
	}
	o.logger.Info("node running", "network", networkName, "node", nodeName, "container_id", shortID(containerID))
	return node, nil
}

// waitForDependencies checks that the first node of every dependency kind is
// running, waiting for nodes still being created. It returns the dependency
// node per kind.
func (o *Orchestrator) waitForDependencies(ctx context.Context, node domain.Node, tmpl template.Template) (map[domain.NodeKind]string, error) {
	network, err := o.loadNetwork(ctx, node.Network)
	if err != nil {
		return nil, err
	}

	deps := make(map[domain.NodeKind]string, len(tmpl.DependsOn))
	for _, kind := range tmpl.DependsOn {
		candidates := network.NodesOfKind(kind)
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: no %s node in network %s", domain.ErrDependencyUnsatisfied, kind, node.Network)
		}
		dep := candidates[0]
		if err := o.awaitRunning(ctx, dep); err != nil {
			return nil, err
		}
		deps[kind] = dep.Name
	}
	return deps, nil
}

func (o *Orchestrator) awaitRunning(ctx context.Context, dep domain.Node) error {
	deadline := time.Now().Add(o.cfg.DependencyTimeout)
	for {
		switch dep.State {
		case domain.NodeRunning:
			return nil
		case domain.NodeCreating:
			if time.Now().After(deadline) {
				return fmt.Errorf("%w: %s still creating after %s", domain.ErrDependencyUnsatisfied, dep.Name, o.cfg.DependencyTimeout)
			}
		default:
			return fmt.Errorf("%w: %s is %s", domain.ErrDependencyUnsatisfied, dep.Name, dep.State)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.DependencyPollInterval):
		}

		fresh, err := o.loadNode(ctx, dep.Network, dep.Name)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrDependencyUnsatisfied, err)
		}
		dep = fresh
	}
}

// bringUp pulls, creates or reuses, starts, probes and initializes the
// node's container. It returns the container ID once one exists, even on
// failure.
func (o *Orchestrator) bringUp(ctx context.Context, node domain.Node, tmpl template.Template, deps map[domain.NodeKind]string) (string, error) {
	if err := o.ensureImage(ctx, node.Image); err != nil {
		return "", err
	}

	network, err := o.store.GetNetwork(ctx, node.Network)
	if err != nil {
		return "", err
	}
	spec := o.containerSpec(network, node, tmpl, deps)

	containerID, created, err := o.startContainer(ctx, node, spec)
	if err != nil {
		return containerID, err
	}

	if err := o.probe(ctx, containerID, tmpl.Probe); err != nil {
		return containerID, err
	}

	if created {
		o.runInit(ctx, node, containerID, tmpl.Init)
	}
	return containerID, nil
}

func (o *Orchestrator) ensureImage(ctx context.Context, image string) error {
	exists, err := o.docker.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	o.logger.Info("pulling image", "image", image)
	if err := o.docker.PullImage(ctx, image); err != nil {
		return fmt.Errorf("pull %s: %w", image, err)
	}
	return nil
}

func (o *Orchestrator) containerSpec(network *domain.Network, node domain.Node, tmpl template.Template, deps map[domain.NodeKind]string) docker.ContainerSpec {
	plan := deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Network:      network.Name,
		Node:         node,
		Command:      tmpl.Command,
		Protocols:    tmpl.Protocols(),
		Dependencies: deps,
		NetworkName:  network.DockerNetworkID,
	})

	spec := docker.ContainerSpec{
		Name:     plan.Name,
		Hostname: plan.Hostname,
		Image:    plan.Image,
		Command:  plan.Command,
		Labels:   plan.Labels,
		Network:  plan.Network,
	}
	for _, p := range plan.Ports {
		spec.Ports = append(spec.Ports, docker.PortBinding{
			ContainerPort: p.ContainerPort,
			HostPort:      p.HostPort,
			Protocol:      p.Protocol,
		})
	}
	return spec
}

// startContainer reuses the node's container when one exists and creates it
// otherwise. A reused container that fails to start is recreated once.
func (o *Orchestrator) startContainer(ctx context.Context, node domain.Node, spec docker.ContainerSpec) (id string, created bool, err error) {
	info, err := o.inspectContainer(ctx, node)
	switch {
	case err == nil:
		if info.Status.IsRunning() {
			return info.ID, false, nil
		}
		startErr := o.docker.StartContainer(ctx, info.ID)
		if startErr == nil {
			o.logger.Debug("reused container", "network", node.Network, "node", node.Name, "container_id", shortID(info.ID))
			return info.ID, false, nil
		}
		if errors.Is(startErr, domain.ErrRuntimeUnavailable) {
			return "", false, startErr
		}
		o.logger.Warn("reused container failed to start, recreating", "network", node.Network, "node", node.Name, "error", startErr)
		if err := o.docker.RemoveContainer(ctx, info.ID, docker.RemoveOptions{Force: true}); err != nil && !docker.IsNotFound(err) {
			return "", false, fmt.Errorf("remove stale container: %w", err)
		}
	case docker.IsNotFound(err):
	default:
		return "", false, err
	}

	id, err = o.docker.CreateContainer(ctx, spec)
	if err != nil {
		return "", false, fmt.Errorf("create container: %w", err)
	}
	o.logger.Debug("created container", "network", node.Network, "node", node.Name, "container_id", shortID(id))

	if err := o.docker.StartContainer(ctx, id); err != nil {
		return id, true, fmt.Errorf("start container: %w", err)
	}
	return id, true, nil
}

// probe runs the liveness command until it exits 0 or ProbeTimeout passes.
// Without a command a running container is considered live.
func (o *Orchestrator) probe(ctx context.Context, containerID string, cmd []string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
	defer cancel()

	ticker := time.NewTicker(o.cfg.ProbeInterval)
	defer ticker.Stop()

	var last string
	for {
		ok, detail, err := o.probeOnce(ctx, containerID, cmd)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		last = detail

		select {
		case <-ctx.Done():
			return fmt.Errorf("liveness probe timed out after %s: %s", o.cfg.ProbeTimeout, last)
		case <-ticker.C:
		}
	}
}

// probeOnce returns a terminal error only when retrying cannot help.
func (o *Orchestrator) probeOnce(ctx context.Context, containerID string, cmd []string) (bool, string, error) {
	if len(cmd) == 0 {
		info, err := o.docker.InspectContainer(ctx, containerID)
		if err != nil {
			if errors.Is(err, domain.ErrRuntimeUnavailable) || docker.IsNotFound(err) {
				return false, "", err
			}
			return false, err.Error(), nil
		}
		if !info.Status.IsRunning() {
			return false, "", fmt.Errorf("container exited with code %d", info.ExitCode)
		}
		return true, "", nil
	}

	res, err := o.docker.Exec(ctx, containerID, cmd)
	switch {
	case err == nil && res.ExitCode == 0:
		return true, "", nil
	case err == nil:
		return false, fmt.Sprintf("probe exited %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr))), nil
	case errors.Is(err, domain.ErrRuntimeUnavailable), docker.IsNotFound(err):
		return false, "", err
	case errors.Is(err, docker.ErrContainerNotRunning):
		return false, "", fmt.Errorf("container exited before becoming live: %w", err)
	default:
		return false, err.Error(), nil
	}
}

// runInit runs bootstrap commands in a freshly created container. Failures
// are logged and do not fail the start.
func (o *Orchestrator) runInit(ctx context.Context, node domain.Node, containerID string, cmds [][]string) {
	for _, cmd := range cmds {
		res, err := o.docker.Exec(ctx, containerID, cmd)
		switch {
		case err != nil:
			o.logger.Warn("init command failed", "network", node.Network, "node", node.Name, "command", strings.Join(cmd, " "), "error", err)
		case res.ExitCode != 0:
			o.logger.Warn("init command exited non-zero", "network", node.Network, "node", node.Name, "command", strings.Join(cmd, " "), "exit_code", res.ExitCode, "stderr", strings.TrimSpace(string(res.Stderr)))
		}
	}
}

// =============================================================================
// Stop
// =============================================================================

// StopNode stops a node's container and keeps its block.
func (o *Orchestrator) StopNode(ctx context.Context, networkName, nodeName string) (*domain.Node, error) {
	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	if _, err := o.loadNetwork(ctx, networkName); err != nil {
		return nil, err
	}

	lock := o.nodeLock(networkName + "/" + nodeName)
	lock.Lock()
	node, err := o.stopNodeLocked(ctx, networkName, nodeName)
	lock.Unlock()
	if err != nil {
		return &node, err
	}

	if err := o.releaseNetworkIfIdle(ctx, networkName); err != nil {
		return &node, err
	}
	return &node, nil
}

// stopNodeLocked runs Running -> Stopping -> Stopped. For nodes that are
// not running it only records the desired state.
func (o *Orchestrator) stopNodeLocked(ctx context.Context, networkName, nodeName string) (domain.Node, error) {
	node, err := o.loadNode(ctx, networkName, nodeName)
	if err != nil {
		return node, err
	}

	switch node.State {
	case domain.NodeRunning:
		if node, err = o.transition(ctx, node, domain.NodeStopping); err != nil {
			return node, err
		}
		if err := o.stopContainer(ctx, o.containerRef(node)); err != nil {
			if errors.Is(err, domain.ErrRuntimeUnavailable) {
				return node, err
			}
			node = o.fail(ctx, node, fmt.Sprintf("stop container: %v", err))
			return node, fmt.Errorf("stop %s: %w", node.Ref(), err)
		}
		node, err = o.transition(ctx, node, domain.NodeStopped)
		if err == nil {
			o.logger.Info("node stopped", "network", networkName, "node", nodeName)
		}
		return node, err

	case domain.NodeDefined, domain.NodeStopped, domain.NodeFailed:
		if node.Desired != domain.DesiredStopped {
			node.Desired = domain.DesiredStopped
			node.UpdatedAt = time.Now().UTC()
			if err := o.save(ctx, node); err != nil {
				return node, err
			}
		}
		if node.State == domain.NodeFailed {
			if err := o.stopContainer(ctx, o.containerRef(node)); err != nil {
				return node, fmt.Errorf("stop %s: %w", node.Ref(), err)
			}
		}
		return node, nil

	default:
		return node, fmt.Errorf("stop %s: %w", node.Ref(), domain.ValidateTransition(node.State, domain.NodeStopping))
	}
}

// stopContainer stops gracefully and escalates to a kill. A container that
// is gone or already stopped counts as stopped.
func (o *Orchestrator) stopContainer(ctx context.Context, ref string) error {
	stopCtx, cancel := context.WithTimeout(ctx, o.cfg.StopTimeout+5*time.Second)
	err := o.docker.StopContainer(stopCtx, ref, o.cfg.StopTimeout)
	cancel()

	switch {
	case err == nil, docker.IsNotFound(err), errors.Is(err, docker.ErrContainerNotRunning):
		return nil
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		return err
	}

	o.logger.Warn("graceful stop failed, killing container", "container", ref, "error", err)
	err = o.docker.KillContainer(ctx, ref)
	switch {
	case err == nil, docker.IsNotFound(err), errors.Is(err, docker.ErrContainerNotRunning):
		return nil
	}
	return fmt.Errorf("kill container: %w", err)
}

// inspectContainer finds the node's container by recorded ID, falling back
// to the deterministic name.
func (o *Orchestrator) inspectContainer(ctx context.Context, node domain.Node) (*docker.ContainerInfo, error) {
	if node.ContainerID != "" {
		info, err := o.docker.InspectContainer(ctx, node.ContainerID)
		if !docker.IsNotFound(err) {
			return info, err
		}
	}
	return o.docker.InspectContainer(ctx, deployment.ContainerName(node.Network, node.Name))
}

// containerRef prefers the recorded container ID and falls back to the
// deterministic name.
func (o *Orchestrator) containerRef(node domain.Node) string {
	if node.ContainerID != "" {
		return node.ContainerID
	}
	return deployment.ContainerName(node.Network, node.Name)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
