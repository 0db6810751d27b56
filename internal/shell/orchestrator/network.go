package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/lnlab/internal/core/deployment"
	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/logs"
	"github.com/artpar/lnlab/internal/shell/store"
)

// CreateNetworkParams describes a new network and its initial topology.
type CreateNetworkParams struct {
	Name           string
	BitcoinNodes   int
	LightningNodes int
	Images         map[domain.NodeKind]string // per-kind image overrides
	AliasPrefix    string
}

// =============================================================================
// Queries
// =============================================================================

// ListNetworks returns every network. Corrupt networks are included with
// Quarantine set.
func (o *Orchestrator) ListNetworks(ctx context.Context) ([]domain.Network, error) {
	return o.store.ListNetworks(ctx)
}

// GetNetwork returns one network with its nodes.
func (o *Orchestrator) GetNetwork(ctx context.Context, name string) (*domain.Network, error) {
	return o.loadNetwork(ctx, name)
}

// ExportNetwork renders the network as YAML.
func (o *Orchestrator) ExportNetwork(ctx context.Context, name string) ([]byte, error) {
	out, err := o.store.ExportNetwork(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, name)
	}
	return out, err
}

// =============================================================================
// Create
// =============================================================================

// CreateNetwork defines a network with BitcoinNodes bitcoind nodes and
// LightningNodes lnd nodes, each with its own port block. Nothing is
// started.
func (o *Orchestrator) CreateNetwork(ctx context.Context, params CreateNetworkParams) (*domain.Network, error) {
	if params.BitcoinNodes < 0 || params.LightningNodes < 0 {
		return nil, fmt.Errorf("node counts must not be negative")
	}
	if params.LightningNodes > 0 && params.BitcoinNodes == 0 {
		return nil, fmt.Errorf("%w: lnd nodes need at least one bitcoind node", domain.ErrDependencyUnsatisfied)
	}

	prefix := params.AliasPrefix
	if prefix == "" {
		prefix = o.cfg.AliasPrefix
	}
	network, err := domain.NewNetwork(params.Name, prefix, params.Images)
	if err != nil {
		return nil, fmt.Errorf("network %q: %w", params.Name, err)
	}

	locks := o.networkLock(network.Name)
	locks.rw.Lock()
	defer locks.rw.Unlock()

	if _, err := o.store.GetNetwork(ctx, network.Name); err == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNetworkExists, network.Name)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	counts := map[domain.NodeKind]int{
		domain.KindBitcoind: params.BitcoinNodes,
		domain.KindLND:      params.LightningNodes,
	}

	var allocated []int
	for _, kind := range o.templates.Kinds() {
		if counts[kind] == 0 {
			continue
		}
		tmpl, err := o.templates.Resolve(kind)
		if err != nil {
			o.releaseUncommitted(allocated, err)
			return nil, err
		}
		for i := 0; i < counts[kind]; i++ {
			ports, err := o.alloc.Allocate(tmpl.PortCount())
			if err != nil {
				o.releaseUncommitted(allocated, err)
				return nil, err
			}
			allocated = append(allocated, ports...)

			node, err := o.newNode(network, tmpl, network.NextNodeName(kind), ports)
			if err != nil {
				o.releaseUncommitted(allocated, err)
				return nil, err
			}
			network.Nodes = append(network.Nodes, node)
		}
	}

	err = o.store.WithTx(ctx, func(tx store.Store) error {
		if err := tx.CreateNetwork(ctx, network); err != nil {
			return err
		}
		for i := range network.Nodes {
			if err := tx.CreateNode(ctx, &network.Nodes[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if len(allocated) > 0 {
			o.releaseUncommitted(allocated, err)
		}
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNetworkExists, network.Name)
		}
		return nil, err
	}

	o.logger.Info("network created", "network", network.Name, "nodes", len(network.Nodes))
	return network, nil
}

// =============================================================================
// Start / Stop
// =============================================================================

// StartNetwork starts every node level by level in dependency order. Nodes
// within a level start concurrently. Every node is attempted; the returned
// error joins all failures.
func (o *Orchestrator) StartNetwork(ctx context.Context, name string) (*domain.Network, error) {
	locks := o.networkLock(name)
	locks.rw.RLock()
	network, err := o.loadNetwork(ctx, name)
	if err != nil {
		locks.rw.RUnlock()
		return nil, err
	}

	levels := o.nodeLevels(network)
	err = o.forEachLevel(ctx, levels, func(ctx context.Context, node domain.Node) error {
		_, err := o.startNodeLocked(ctx, name, node.Name)
		return err
	})
	locks.rw.RUnlock()

	if err != nil {
		o.logger.Warn("network started with errors", "network", name, "error", err)
	} else {
		o.logger.Info("network started", "network", name)
	}
	return o.networkAfter(ctx, name, err)
}

// StopNetwork stops every node in reverse dependency order and then removes
// the docker network.
func (o *Orchestrator) StopNetwork(ctx context.Context, name string) (*domain.Network, error) {
	locks := o.networkLock(name)
	locks.rw.RLock()
	network, err := o.loadNetwork(ctx, name)
	if err != nil {
		locks.rw.RUnlock()
		return nil, err
	}

	levels := reverse(o.nodeLevels(network))
	err = o.forEachLevel(ctx, levels, func(ctx context.Context, node domain.Node) error {
		_, err := o.stopNodeLocked(ctx, name, node.Name)
		return err
	})
	if relErr := o.releaseNetworkIfIdle(ctx, name); relErr != nil {
		err = errors.Join(err, relErr)
	}
	locks.rw.RUnlock()

	if err == nil {
		o.logger.Info("network stopped", "network", name)
	}
	return o.networkAfter(ctx, name, err)
}

func (o *Orchestrator) networkAfter(ctx context.Context, name string, opErr error) (*domain.Network, error) {
	network, err := o.loadNetwork(ctx, name)
	if err != nil {
		return nil, errors.Join(opErr, err)
	}
	return network, opErr
}

// nodeLevels groups nodes by the dependency level of their kind. Nodes of
// kinds the catalog no longer knows form a final level.
func (o *Orchestrator) nodeLevels(network *domain.Network) [][]domain.Node {
	var levels [][]domain.Node
	known := make(map[domain.NodeKind]bool)
	for _, kinds := range o.templates.Levels() {
		var level []domain.Node
		for _, kind := range kinds {
			known[kind] = true
			level = append(level, network.NodesOfKind(kind)...)
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
	}

	var unknown []domain.Node
	for _, n := range network.Nodes {
		if !known[n.Kind] {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		levels = append(levels, unknown)
	}
	return levels
}

// forEachLevel runs fn for every node, level after level, with at most
// MaxParallel nodes of a level in flight. Each call holds the node lock.
func (o *Orchestrator) forEachLevel(ctx context.Context, levels [][]domain.Node, fn func(context.Context, domain.Node) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	for _, level := range levels {
		var g errgroup.Group
		g.SetLimit(o.cfg.MaxParallel)
		for _, node := range level {
			g.Go(func() error {
				lock := o.nodeLock(node.Ref())
				lock.Lock()
				err := fn(ctx, node)
				lock.Unlock()
				if err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	return errors.Join(errs...)
}

func reverse[T any](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

// =============================================================================
// Delete
// =============================================================================

// DeleteNetwork removes every node in reverse order, the docker network and
// finally the network record. It waits for in-flight node transitions.
// A quarantined network is torn down from its runtime labels and
// reservation rows.
func (o *Orchestrator) DeleteNetwork(ctx context.Context, name string) error {
	locks := o.networkLock(name)
	locks.rw.Lock()
	defer locks.rw.Unlock()

	network, err := o.loadNetwork(ctx, name)
	if errors.Is(err, domain.ErrStateCorruption) {
		return o.purgeNetwork(ctx, name)
	}
	if err != nil {
		return err
	}

	var errs []error
	nodes := network.Nodes
	for i := len(nodes) - 1; i >= 0; i-- {
		lock := o.nodeLock(nodes[i].Ref())
		lock.Lock()
		if err := o.removeNodeLocked(ctx, name, nodes[i].Name); err != nil {
			errs = append(errs, err)
		}
		lock.Unlock()
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete network %s: %w", name, err)
	}

	if err := o.releaseNetworkIfIdle(ctx, name); err != nil {
		return err
	}

	if err := o.store.DeleteNetwork(context.WithoutCancel(ctx), name); err != nil {
		return err
	}
	o.logger.Info("network deleted", "network", name)
	return nil
}

// purgeNetwork deletes a network whose node rows cannot be read. Containers
// are found by label and ports by reservation row.
func (o *Orchestrator) purgeNetwork(ctx context.Context, name string) error {
	o.logger.Warn("purging quarantined network", "network", name)

	containers, err := o.docker.ListContainers(ctx, docker.ListOptions{
		All:     true,
		Filters: map[string]string{"label": deployment.LabelNetwork + "=" + name},
	})
	if err != nil {
		return err
	}
	for _, c := range containers {
		err := o.docker.RemoveContainer(ctx, c.ID, docker.RemoveOptions{Force: true, RemoveVolumes: true})
		if err != nil && !docker.IsNotFound(err) {
			return fmt.Errorf("remove container %s: %w", c.Name, err)
		}
		o.logs.Terminate(name + "/" + c.Labels[deployment.LabelNode])
	}

	err = o.docker.RemoveNetwork(ctx, deployment.NetworkName(name))
	if err != nil && !errors.Is(err, docker.ErrNetworkNotFound) {
		return fmt.Errorf("remove docker network: %w", err)
	}

	persistCtx := context.WithoutCancel(ctx)
	var ports []int
	err = o.store.WithTx(persistCtx, func(tx store.Store) error {
		var err error
		if ports, err = tx.ListNetworkReservations(persistCtx, name); err != nil {
			return err
		}
		return tx.DeleteNetwork(persistCtx, name)
	})
	if err != nil {
		return err
	}

	if err := o.alloc.Release(ports); err != nil {
		o.logger.Warn("quarantined reservations were not all held", "network", name, "error", err)
		for _, p := range ports {
			_ = o.alloc.Release([]int{p})
		}
	}
	o.logger.Info("network deleted", "network", name, "released_ports", len(ports))
	return nil
}

// =============================================================================
// Logs
// =============================================================================

// SubscribeLogs follows the logs of one node. Subscribers of the same node
// share a single runtime stream.
func (o *Orchestrator) SubscribeLogs(ctx context.Context, networkName, nodeName string) (*logs.Subscription, error) {
	node, err := o.loadNode(ctx, networkName, nodeName)
	if err != nil {
		return nil, err
	}
	return o.logs.Subscribe(ctx, node.Ref(), o.containerRef(node))
}
