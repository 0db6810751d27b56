package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/core/reconcile"
	"github.com/artpar/lnlab/internal/core/template"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/store"
)

// =============================================================================
// Report
// =============================================================================

// Network-level actions reported alongside node decisions.
const (
	ActionEnsureNetwork  reconcile.Action = "ensure-network"
	ActionReleaseNetwork reconcile.Action = "release-network"
)

// ReportEntry records one corrective action taken by a reconcile pass.
type ReportEntry struct {
	Network string           `json:"network"`
	Node    string           `json:"node,omitempty"`
	Action  reconcile.Action `json:"action"`
	Reason  string           `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Report summarizes a reconcile pass.
type Report struct {
	Entries     []ReportEntry `json:"entries"`
	Quarantined []string      `json:"quarantined,omitempty"`
}

// Changed reports whether the pass acted on anything.
func (r Report) Changed() bool {
	return len(r.Entries) > 0
}

func (r *Report) add(e ReportEntry) {
	r.Entries = append(r.Entries, e)
}

// =============================================================================
// Reconcile
// =============================================================================

// Reconcile compares every node's persisted state with what the runtime
// reports and corrects drift. A RuntimeUnavailable aborts the pass.
func (o *Orchestrator) Reconcile(ctx context.Context) (Report, error) {
	var report Report

	if err := o.CheckRuntime(ctx); err != nil {
		return report, err
	}

	networks, err := o.store.ListNetworks(ctx)
	if err != nil {
		return report, fmt.Errorf("list networks: %w", err)
	}

	for _, n := range networks {
		if n.Quarantine != "" {
			o.logger.Warn("skipping quarantined network", "network", n.Name, "reason", n.Quarantine)
			report.Quarantined = append(report.Quarantined, n.Name)
			continue
		}
		if err := o.reconcileNetwork(ctx, n.Name, &report); err != nil {
			return report, err
		}
	}

	if report.Changed() {
		o.logger.Info("reconcile pass complete", "actions", len(report.Entries))
	}
	return report, nil
}

func (o *Orchestrator) reconcileNetwork(ctx context.Context, name string, report *Report) error {
	locks := o.networkLock(name)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.store.GetNetwork(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrStateCorruption) {
			report.Quarantined = append(report.Quarantined, name)
			return nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if needsNetwork(network.Nodes) {
		err := o.ensureNetwork(ctx, name, nil)
		if errors.Is(err, domain.ErrRuntimeUnavailable) {
			return err
		}
		if err != nil {
			report.add(ReportEntry{Network: name, Action: ActionEnsureNetwork, Error: err.Error()})
		}
	}

	for _, n := range network.Nodes {
		if err := o.reconcileNode(ctx, n, report); err != nil {
			return err
		}
	}

	before := network.DockerNetworkID
	if err := o.releaseNetworkIfIdle(ctx, name); err != nil {
		if errors.Is(err, domain.ErrRuntimeUnavailable) {
			return err
		}
		report.add(ReportEntry{Network: name, Action: ActionReleaseNetwork, Error: err.Error()})
	} else if before != "" {
		if after, err := o.store.GetNetwork(ctx, name); err == nil && after.DockerNetworkID == "" {
			report.add(ReportEntry{Network: name, Action: ActionReleaseNetwork, Reason: "no active nodes"})
		}
	}
	return nil
}

func (o *Orchestrator) reconcileNode(ctx context.Context, n domain.Node, report *Report) error {
	lock := o.nodeLock(n.Ref())
	lock.Lock()
	defer lock.Unlock()

	node, err := o.loadNode(ctx, n.Network, n.Name)
	if errors.Is(err, domain.ErrNodeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	obs, err := o.observe(ctx, node)
	if err != nil {
		return err
	}

	decision := reconcile.Decide(node, obs)
	if decision.Action == reconcile.ActionNone {
		return nil
	}

	o.logger.Info("reconciling node", "network", node.Network, "node", node.Name,
		"action", decision.Action, "reason", decision.Reason)

	actErr := o.apply(ctx, node, obs, decision)
	if errors.Is(actErr, domain.ErrRuntimeUnavailable) {
		return actErr
	}

	entry := ReportEntry{
		Network: node.Network,
		Node:    node.Name,
		Action:  decision.Action,
		Reason:  decision.Reason,
	}
	if actErr != nil {
		entry.Error = actErr.Error()
		o.logger.Warn("reconcile action failed", "network", node.Network, "node", node.Name, "action", decision.Action, "error", actErr)
	}
	report.add(entry)
	return nil
}

// observe inspects the node's container. RuntimeUnavailable is returned as
// an error; any other failure becomes part of the observation.
func (o *Orchestrator) observe(ctx context.Context, node domain.Node) (reconcile.Observation, error) {
	info, err := o.inspectContainer(ctx, node)
	switch {
	case err == nil:
		state := reconcile.ContainerStopped
		if info.Status.IsRunning() {
			state = reconcile.ContainerRunning
		}
		return reconcile.Observation{Container: state, ContainerID: info.ID}, nil
	case docker.IsNotFound(err):
		return reconcile.Observation{Container: reconcile.ContainerAbsent}, nil
	case errors.Is(err, domain.ErrRuntimeUnavailable):
		return reconcile.Observation{}, err
	default:
		return reconcile.Observation{Err: err}, nil
	}
}

func (o *Orchestrator) apply(ctx context.Context, node domain.Node, obs reconcile.Observation, d reconcile.Decision) error {
	switch d.Action {
	case reconcile.ActionAdopt:
		if err := o.ensureNetwork(ctx, node.Network, nil); err != nil {
			return err
		}
		node.ContainerID = obs.ContainerID
		_, err := o.transition(ctx, node, domain.NodeRunning)
		return err

	case reconcile.ActionRestart:
		return o.restart(ctx, node, d.Reason)

	case reconcile.ActionStop:
		if err := o.stopContainer(ctx, o.containerRef(node)); err != nil {
			return err
		}
		return o.markStopped(ctx, node)

	case reconcile.ActionMarkStopped:
		return o.markStopped(ctx, node)

	case reconcile.ActionFinishRemove:
		return o.removeNodeLocked(ctx, node.Network, node.Name)

	case reconcile.ActionMarkFailed:
		o.fail(ctx, node, d.Reason)
		return nil
	}
	return fmt.Errorf("unknown reconcile action %q", d.Action)
}

// restart brings the node's container back up, recreating it if missing.
// After RestartAttempts failures the node is marked Failed.
func (o *Orchestrator) restart(ctx context.Context, node domain.Node, reason string) error {
	tmpl, err := o.templates.Resolve(node.Kind)
	if err != nil {
		o.fail(ctx, node, err.Error())
		return err
	}
	network, err := o.loadNetwork(ctx, node.Network)
	if err != nil {
		return err
	}
	deps := dependencyNames(network, tmpl)

	if err := o.ensureNetwork(ctx, node.Network, nil); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.RestartAttempts; attempt++ {
		id, err := o.bringUp(ctx, node, tmpl, deps)
		if err == nil {
			node.ContainerID = id
			if node.State == domain.NodeRunning {
				node.LastError = ""
				node.UpdatedAt = time.Now().UTC()
				return o.save(ctx, node)
			}
			_, err = o.transition(ctx, node, domain.NodeRunning)
			return err
		}
		if errors.Is(err, domain.ErrRuntimeUnavailable) {
			return err
		}
		lastErr = err
		o.logger.Warn("restart attempt failed", "network", node.Network, "node", node.Name,
			"attempt", attempt, "max_attempts", o.cfg.RestartAttempts, "error", err)
		if id != "" {
			node.ContainerID = id
		}
	}

	if err := o.stopContainer(ctx, o.containerRef(node)); err != nil {
		o.logger.Warn("failed to stop container after restarts", "network", node.Network, "node", node.Name, "error", err)
	}
	o.fail(ctx, node, fmt.Sprintf("%s; restart failed after %d attempts: %v", reason, o.cfg.RestartAttempts, lastErr))
	return lastErr
}

// markStopped settles a node whose container is no longer running.
func (o *Orchestrator) markStopped(ctx context.Context, node domain.Node) error {
	var err error
	switch node.State {
	case domain.NodeRunning:
		if node, err = o.transition(ctx, node, domain.NodeStopping); err != nil {
			return err
		}
		_, err = o.transition(ctx, node, domain.NodeStopped)
		return err
	case domain.NodeStopping:
		_, err = o.transition(ctx, node, domain.NodeStopped)
		return err
	case domain.NodeCreating:
		o.fail(ctx, node, "interrupted while creating")
		return nil
	}

	if node.Desired != domain.DesiredStopped {
		node.Desired = domain.DesiredStopped
		node.UpdatedAt = time.Now().UTC()
		return o.save(ctx, node)
	}
	return nil
}

// dependencyNames picks the first node of every dependency kind.
func dependencyNames(network *domain.Network, tmpl template.Template) map[domain.NodeKind]string {
	deps := make(map[domain.NodeKind]string, len(tmpl.DependsOn))
	for _, kind := range tmpl.DependsOn {
		if nodes := network.NodesOfKind(kind); len(nodes) > 0 {
			deps[kind] = nodes[0].Name
		}
	}
	return deps
}

// needsNetwork reports whether any node is active and meant to run, so the
// docker network has to exist before its container is restarted or adopted.
func needsNetwork(nodes []domain.Node) bool {
	for _, n := range nodes {
		if n.IsActive() && n.Desired == domain.DesiredRunning {
			return true
		}
	}
	return false
}
