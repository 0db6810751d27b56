// Package portalloc holds the process-wide host port reservation state.
// Every allocation and release goes through one Allocator so that no two
// port blocks can ever share a host port.
package portalloc

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/artpar/lnlab/internal/core/deployment"
	"github.com/artpar/lnlab/internal/core/domain"
)

const (
	DefaultStart   = 20000
	DefaultCeiling = 65535
)

// Allocator reserves contiguous host port runs, lowest free run first.
// It performs no I/O; callers persist reservations themselves.
type Allocator struct {
	mu       sync.Mutex
	reserved map[int]struct{}
	start    int
	ceiling  int
	logger   *slog.Logger
}

// New creates an allocator probing upward from start, never past ceiling.
// Zero values select the defaults.
func New(start, ceiling int, logger *slog.Logger) *Allocator {
	if start <= 0 {
		start = DefaultStart
	}
	if ceiling <= 0 || ceiling > DefaultCeiling {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{
		reserved: make(map[int]struct{}),
		start:    start,
		ceiling:  ceiling,
		logger:   logger.With("component", "port_allocator"),
	}
}

// Allocate reserves the lowest run of size free ports and returns them in
// ascending order.
func (a *Allocator) Allocate(size int) ([]int, error) {
	if size <= 0 {
		return nil, fmt.Errorf("allocate %d ports: size must be positive", size)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	base, ok := deployment.FindFreeRun(a.isReservedLocked, size, a.start, a.ceiling)
	if !ok {
		return nil, fmt.Errorf("%w: %d ports in [%d, %d]", domain.ErrPortExhaustion, size, a.start, a.ceiling)
	}

	ports := deployment.PortRange(base, size)
	for _, p := range ports {
		a.reserved[p] = struct{}{}
	}

	a.logger.Debug("ports allocated", "base", base, "size", size)
	return ports, nil
}

// Release returns ports to the free pool. If any port is not currently
// reserved nothing is released and ErrNotReserved is returned.
func (a *Allocator) Release(ports []int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range ports {
		if _, ok := a.reserved[p]; !ok {
			return fmt.Errorf("%w: port %d", domain.ErrNotReserved, p)
		}
	}
	for _, p := range ports {
		delete(a.reserved, p)
	}

	a.logger.Debug("ports released", "ports", ports)
	return nil
}

// Load marks persisted reservations at startup. Ports already reserved are
// accepted; holding a port twice is safer than losing it.
func (a *Allocator) Load(ports []int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range ports {
		a.reserved[p] = struct{}{}
	}
}

// IsReserved reports whether port is currently held.
func (a *Allocator) IsReserved(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isReservedLocked(port)
}

// Reserved returns a sorted snapshot of every held port.
func (a *Allocator) Reserved() []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]int, 0, len(a.reserved))
	for p := range a.reserved {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// isReservedLocked MUST be called with mu held.
func (a *Allocator) isReservedLocked(port int) bool {
	_, ok := a.reserved[port]
	return ok
}
