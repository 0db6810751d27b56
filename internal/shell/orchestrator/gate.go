package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/shell/docker"
)

// =============================================================================
// Runtime Gate
// =============================================================================

// gate fails runtime calls fast while the daemon is known to be unreachable.
// Each consecutive RuntimeUnavailable doubles the closed window, starting at
// initial and capped at max. Any call that reaches the daemon resets it.
type gate struct {
	mu       sync.Mutex
	backoff  *backoff.ExponentialBackOff
	failures int
	until    time.Time
	now      func() time.Time
}

func newGate(initial, max time.Duration) *gate {
	return &gate{backoff: exponential(initial, max), now: time.Now}
}

// exponential returns a doubling backoff without jitter so the closed
// window is predictable.
func exponential(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// check returns ErrRuntimeUnavailable while the window is open.
func (g *gate) check() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failures > 0 && g.now().Before(g.until) {
		return fmt.Errorf("%w: retrying in %s", domain.ErrRuntimeUnavailable, g.until.Sub(g.now()).Round(time.Millisecond))
	}
	return nil
}

// observe records the outcome of a runtime call.
func (g *gate) observe(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !errors.Is(err, domain.ErrRuntimeUnavailable) {
		g.failures = 0
		g.until = time.Time{}
		g.backoff.Reset()
		return
	}
	g.failures++
	g.until = g.now().Add(g.backoff.NextBackOff())
}

// =============================================================================
// Gated Client
// =============================================================================

// gatedClient routes every call through the gate.
type gatedClient struct {
	inner docker.Client
	gate  *gate
}

func (c *gatedClient) do(fn func() error) error {
	if err := c.gate.check(); err != nil {
		return err
	}
	err := fn()
	c.gate.observe(err)
	return err
}

func (c *gatedClient) Ping(ctx context.Context) error {
	return c.do(func() error { return c.inner.Ping(ctx) })
}

func (c *gatedClient) Close() error { return c.inner.Close() }

func (c *gatedClient) CreateNetwork(ctx context.Context, spec docker.NetworkSpec) (id string, err error) {
	err = c.do(func() error {
		id, err = c.inner.CreateNetwork(ctx, spec)
		return err
	})
	return id, err
}

func (c *gatedClient) RemoveNetwork(ctx context.Context, networkID string) error {
	return c.do(func() error { return c.inner.RemoveNetwork(ctx, networkID) })
}

func (c *gatedClient) NetworkExists(ctx context.Context, networkID string) (ok bool, err error) {
	err = c.do(func() error {
		ok, err = c.inner.NetworkExists(ctx, networkID)
		return err
	})
	return ok, err
}

func (c *gatedClient) CreateContainer(ctx context.Context, spec docker.ContainerSpec) (id string, err error) {
	err = c.do(func() error {
		id, err = c.inner.CreateContainer(ctx, spec)
		return err
	})
	return id, err
}

func (c *gatedClient) StartContainer(ctx context.Context, containerID string) error {
	return c.do(func() error { return c.inner.StartContainer(ctx, containerID) })
}

func (c *gatedClient) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	return c.do(func() error { return c.inner.StopContainer(ctx, containerID, timeout) })
}

func (c *gatedClient) KillContainer(ctx context.Context, containerID string) error {
	return c.do(func() error { return c.inner.KillContainer(ctx, containerID) })
}

func (c *gatedClient) RemoveContainer(ctx context.Context, containerID string, opts docker.RemoveOptions) error {
	return c.do(func() error { return c.inner.RemoveContainer(ctx, containerID, opts) })
}

func (c *gatedClient) InspectContainer(ctx context.Context, containerID string) (info *docker.ContainerInfo, err error) {
	err = c.do(func() error {
		info, err = c.inner.InspectContainer(ctx, containerID)
		return err
	})
	return info, err
}

func (c *gatedClient) ListContainers(ctx context.Context, opts docker.ListOptions) (out []docker.ContainerInfo, err error) {
	err = c.do(func() error {
		out, err = c.inner.ListContainers(ctx, opts)
		return err
	})
	return out, err
}

func (c *gatedClient) ContainerLogs(ctx context.Context, containerID string, opts docker.LogOptions) (rc io.ReadCloser, err error) {
	err = c.do(func() error {
		rc, err = c.inner.ContainerLogs(ctx, containerID, opts)
		return err
	})
	return rc, err
}

func (c *gatedClient) Exec(ctx context.Context, containerID string, cmd []string) (res *docker.ExecResult, err error) {
	err = c.do(func() error {
		res, err = c.inner.Exec(ctx, containerID, cmd)
		return err
	})
	return res, err
}

func (c *gatedClient) ImageExists(ctx context.Context, image string) (ok bool, err error) {
	err = c.do(func() error {
		ok, err = c.inner.ImageExists(ctx, image)
		return err
	})
	return ok, err
}

func (c *gatedClient) PullImage(ctx context.Context, image string) error {
	return c.do(func() error { return c.inner.PullImage(ctx, image) })
}

var _ docker.Client = (*gatedClient)(nil)
