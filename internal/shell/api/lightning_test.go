package api

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/lnlab/internal/core/deployment"
	"github.com/artpar/lnlab/internal/core/lightning"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/docker/dockertest"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

const txid = "a3f1c2d4e5b6a7980112233445566778899aabbccddeeff00112233445566778"

// serve answers CLI subcommands run in the node's container from outputs.
// Unknown subcommands exit 1.
func serve(rt *dockertest.Runtime, network, node string, outputs map[string]string) {
	rt.HandleExec(deployment.ContainerName(network, node), func(cmd []string) docker.ExecResult {
		for _, arg := range cmd[1:] {
			if strings.HasPrefix(arg, "-") {
				continue
			}
			if out, ok := outputs[arg]; ok {
				return docker.ExecResult{Stdout: []byte(out)}
			}
			return docker.ExecResult{ExitCode: 1, Stderr: []byte("unknown command " + arg)}
		}
		return docker.ExecResult{ExitCode: 1}
	})
}

func startAlpha(t *testing.T, h *Handler) {
	t.Helper()
	do(t, h, http.MethodPost, "/api/v1/networks", jsonBody(t, CreateNetworkRequest{Name: "alpha"}))
	w := do(t, h, http.MethodPost, "/api/v1/networks/alpha/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// =============================================================================
// Node Command Endpoint Tests
// =============================================================================

func TestNodeCommandEndpoints(t *testing.T) {
	h, rt := newTestHandler(t)
	startAlpha(t, h)

	serve(rt, "alpha", "bitcoind-1", map[string]string{
		"getnewaddress":     "bcrt1qminer\n",
		"generatetoaddress": `["h1"]`,
		"getbalance":        "50.00000000\n",
		"sendtoaddress":     txid + "\n",
	})
	serve(rt, "alpha", "lnd-1", map[string]string{
		"getinfo":        `{"identity_pubkey":"02alice","synced_to_chain":true}`,
		"walletbalance":  `{"total_balance":"100000","confirmed_balance":"100000","unconfirmed_balance":"0"}`,
		"channelbalance": `{"balance":"0"}`,
		"listchannels":   `{"channels":[]}`,
		"newaddress":     `{"address":"bcrt1qalice"}`,
		"connect":        `{}`,
		"openchannel":    `{"funding_txid":"` + txid + `"}`,
		"closechannel":   `{"closing_txid":"` + txid + `"}`,
		"payinvoice":     `{"payment_hash":"beef","status":"SUCCEEDED","value_sat":"1000","fee_sat":"0"}`,
	})
	serve(rt, "alpha", "lnd-2", map[string]string{
		"getinfo":    `{"identity_pubkey":"03bob","synced_to_chain":false}`,
		"connect":    `{}`,
		"addinvoice": `{"r_hash":"beef","payment_request":"lnbcrt10u1pbob"}`,
	})

	w := do(t, h, http.MethodPost, "/api/v1/networks/alpha/mine", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"h1"}, parseResponse[MineResponse](t, w.Body).Blocks)

	w = do(t, h, http.MethodPost, "/api/v1/networks/alpha/nodes/lnd-1/fund",
		jsonBody(t, FundWalletRequest{AmountSat: 100_000, Confirmations: intPtr(1)}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fund := parseResponse[orchestrator.FundWalletResult](t, w.Body)
	assert.Equal(t, txid, fund.TxID)
	assert.Equal(t, lightning.Sats(100_000), fund.Amount)

	w = do(t, h, http.MethodGet, "/api/v1/networks/alpha/nodes/lnd-1/info", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := parseResponse[orchestrator.NodeInfo](t, w.Body)
	require.NotNil(t, info.LND)
	assert.Equal(t, "02alice", info.LND.IdentityPubkey)
	assert.Equal(t, lightning.Sats(100_000), info.LND.Wallet.Confirmed)

	w = do(t, h, http.MethodPost, "/api/v1/networks/alpha/channels",
		jsonBody(t, OpenChannelRequest{From: "lnd-1", To: "lnd-2", CapacitySat: 50_000, Confirmations: intPtr(0)}))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, txid, parseResponse[orchestrator.OpenChannelResult](t, w.Body).FundingTxID)

	w = do(t, h, http.MethodPost, "/api/v1/networks/alpha/nodes/lnd-1/channels/close",
		jsonBody(t, CloseChannelRequest{ChannelPoint: txid + ":0"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, txid, parseResponse[CloseChannelResponse](t, w.Body).ClosingTxID)

	w = do(t, h, http.MethodPost, "/api/v1/networks/alpha/payments",
		jsonBody(t, PaymentRequest{From: "lnd-1", To: "lnd-2", AmountSat: 1000}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "beef", parseResponse[lightning.Payment](t, w.Body).PaymentHash)

	w = do(t, h, http.MethodPost, "/api/v1/networks/alpha/sync/graph", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, parseResponse[SyncGraphResponse](t, w.Body).Nodes)

	w = do(t, h, http.MethodGet, "/api/v1/networks/alpha/sync/chain", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	chain := parseResponse[orchestrator.ChainSync](t, w.Body)
	assert.Equal(t, []string{"lnd-1"}, chain.Synced)
	assert.Equal(t, []string{"lnd-2"}, chain.Behind)
}

func TestNodeCommandEndpoints_Errors(t *testing.T) {
	h, rt := newTestHandler(t)
	do(t, h, http.MethodPost, "/api/v1/networks", jsonBody(t, CreateNetworkRequest{Name: "alpha"}))

	w := do(t, h, http.MethodPost, "/api/v1/networks/alpha/mine", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NodeNotRunning", parseResponse[ErrorResponse](t, w.Body).Code)

	w = do(t, h, http.MethodPost, "/api/v1/networks/alpha/start", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	serve(rt, "alpha", "bitcoind-1", map[string]string{"getbalance": "0.00000000\n"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"mine too many", http.MethodPost, "/api/v1/networks/alpha/mine", MineRequest{Blocks: intPtr(lightning.MaxMineBlocks + 1)}, http.StatusBadRequest, "InvalidArgument"},
		{"fund nothing", http.MethodPost, "/api/v1/networks/alpha/nodes/lnd-1/fund", FundWalletRequest{}, http.StatusBadRequest, "InvalidArgument"},
		{"fund bitcoind", http.MethodPost, "/api/v1/networks/alpha/nodes/bitcoind-1/fund", FundWalletRequest{AmountSat: 1}, http.StatusBadRequest, "UnsupportedKind"},
		{"fund empty wallet", http.MethodPost, "/api/v1/networks/alpha/nodes/lnd-1/fund", FundWalletRequest{AmountSat: 1}, http.StatusConflict, "InsufficientFunds"},
		{"info unknown node", http.MethodGet, "/api/v1/networks/alpha/nodes/lnd-9/info", nil, http.StatusNotFound, "NodeNotFound"},
		{"info command fails", http.MethodGet, "/api/v1/networks/alpha/nodes/lnd-1/info", nil, http.StatusBadGateway, "NodeCommandFailed"},
		{"close bad point", http.MethodPost, "/api/v1/networks/alpha/nodes/lnd-1/channels/close", CloseChannelRequest{ChannelPoint: "x"}, http.StatusBadRequest, "InvalidArgument"},
		{"pay missing peer", http.MethodPost, "/api/v1/networks/alpha/payments", PaymentRequest{From: "lnd-1", AmountSat: 1}, http.StatusBadRequest, "InvalidRequest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != nil {
				body = jsonBody(t, tt.body)
			}
			w := do(t, h, tt.method, tt.path, body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, parseResponse[ErrorResponse](t, w.Body).Code)
		})
	}
}
