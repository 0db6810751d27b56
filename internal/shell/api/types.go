package api

import (
	"time"

	"github.com/artpar/lnlab/internal/core/domain"
)

// =============================================================================
// Request Types
// =============================================================================

// CreateNetworkRequest is the request body for creating a network.
// Omitted node counts fall back to the configured defaults.
type CreateNetworkRequest struct {
	Name           string            `json:"name"`
	BitcoinNodes   *int              `json:"bitcoind_nodes,omitempty"`
	LightningNodes *int              `json:"lnd_nodes,omitempty"`
	Images         map[string]string `json:"images,omitempty"`
	AliasPrefix    string            `json:"alias_prefix,omitempty"`
}

// AddNodeRequest is the request body for adding a node.
type AddNodeRequest struct {
	Kind string `json:"kind"`
	Name string `json:"name,omitempty"`
}

// MineRequest is the request body for mining blocks. Blocks defaults to 1.
type MineRequest struct {
	Blocks *int `json:"blocks,omitempty"`
}

// FundWalletRequest is the request body for funding an lnd wallet.
// Confirmations defaults to 6; 0 mines nothing.
type FundWalletRequest struct {
	AmountSat     int64 `json:"amount_sat"`
	Confirmations *int  `json:"confirmations,omitempty"`
}

// OpenChannelRequest is the request body for opening a channel.
// Confirmations defaults to 6; 0 mines nothing.
type OpenChannelRequest struct {
	From          string `json:"from"`
	To            string `json:"to"`
	CapacitySat   int64  `json:"capacity_sat"`
	PushSat       int64  `json:"push_sat,omitempty"`
	Confirmations *int   `json:"confirmations,omitempty"`
}

// CloseChannelRequest is the request body for closing a channel.
type CloseChannelRequest struct {
	ChannelPoint string `json:"channel_point"`
	Force        bool   `json:"force,omitempty"`
}

// PaymentRequest is the request body for sending a payment.
type PaymentRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	AmountSat int64  `json:"amount_sat"`
	Memo      string `json:"memo,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// NetworkResponse is the response for network operations.
type NetworkResponse struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Status          string            `json:"status"`
	DockerNetworkID string            `json:"docker_network_id,omitempty"`
	AliasPrefix     string            `json:"alias_prefix,omitempty"`
	Images          map[string]string `json:"images,omitempty"`
	Quarantine      string            `json:"quarantine,omitempty"`
	Nodes           []NodeResponse    `json:"nodes"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// NodeResponse is the response for node operations.
type NodeResponse struct {
	Name        string               `json:"name"`
	Kind        string               `json:"kind"`
	Image       string               `json:"image"`
	Alias       string               `json:"alias,omitempty"`
	State       string               `json:"state"`
	Desired     string               `json:"desired"`
	ContainerID string               `json:"container_id,omitempty"`
	LastError   string               `json:"last_error,omitempty"`
	BasePort    int                  `json:"base_port"`
	Ports       []domain.PortBinding `json:"ports"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// MineResponse lists the hashes of newly mined blocks.
type MineResponse struct {
	Blocks []string `json:"blocks"`
}

// CloseChannelResponse is the response for closing a channel.
type CloseChannelResponse struct {
	ClosingTxID string `json:"closing_txid"`
}

// SyncGraphResponse is the response for syncing the channel graph.
type SyncGraphResponse struct {
	Nodes int `json:"nodes"`
}

// ErrorResponse is the error response format. Code is the error kind.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
