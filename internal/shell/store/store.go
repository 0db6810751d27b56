package store

import (
	"context"

	"github.com/artpar/lnlab/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for lnlab entities.
// Networks and nodes are addressed by name.
type Store interface {
	// Network operations
	CreateNetwork(ctx context.Context, network *domain.Network) error
	// GetNetwork fails with domain.ErrStateCorruption if any node row of the
	// network cannot be read.
	GetNetwork(ctx context.Context, name string) (*domain.Network, error)
	// ListNetworks never fails on a corrupt node row. The affected network
	// is returned with Quarantine set and only its readable nodes.
	ListNetworks(ctx context.Context) ([]domain.Network, error)
	UpdateNetwork(ctx context.Context, network *domain.Network) error
	DeleteNetwork(ctx context.Context, name string) error
	ExportNetwork(ctx context.Context, name string) ([]byte, error)

	// Node operations. CreateNode also reserves the node's host ports and
	// DeleteNode releases them.
	CreateNode(ctx context.Context, node *domain.Node) error
	GetNode(ctx context.Context, network, name string) (*domain.Node, error)
	UpdateNode(ctx context.Context, node *domain.Node) error
	DeleteNode(ctx context.Context, network, name string) error

	// Reservation lookups
	ListReservedPorts(ctx context.Context) ([]int, error)
	ListNetworkReservations(ctx context.Context, network string) ([]int, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}
