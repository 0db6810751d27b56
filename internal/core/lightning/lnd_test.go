package lightning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/lnlab/internal/core/domain"
)

const testTxID = "a3f1c2d4e5b6a7980112233445566778899aabbccddeeff00112233445566778"

// =============================================================================
// Output Tests
// =============================================================================

func TestParseGetInfo(t *testing.T) {
	out := []byte(`{
  "version": "0.18.5-beta commit=v0.18.5-beta",
  "identity_pubkey": "02abc",
  "alias": "lnlab-node-lnd-1",
  "num_pending_channels": 1,
  "num_active_channels": 2,
  "num_peers": 3,
  "block_height": 150,
  "block_hash": "7b2e",
  "synced_to_chain": true,
  "synced_to_graph": false,
  "chains": [{"chain": "bitcoin", "network": "regtest"}]
}`)

	info, err := ParseGetInfo(out)
	require.NoError(t, err)
	assert.Equal(t, GetInfo{
		Alias:              "lnlab-node-lnd-1",
		Version:            "0.18.5-beta commit=v0.18.5-beta",
		IdentityPubkey:     "02abc",
		NumActiveChannels:  2,
		NumPendingChannels: 1,
		NumPeers:           3,
		BlockHeight:        150,
		BlockHash:          "7b2e",
		SyncedToChain:      true,
	}, info)
}

func TestParseGetInfo_NoPubkey(t *testing.T) {
	_, err := ParseGetInfo([]byte(`{"alias":"x"}`))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
}

func TestParseBalances(t *testing.T) {
	wallet, err := ParseWalletBalance([]byte(`{"total_balance":"100000","confirmed_balance":"60000","unconfirmed_balance":"40000"}`))
	require.NoError(t, err)
	assert.Equal(t, WalletBalance{Total: 100000, Confirmed: 60000, Unconfirmed: 40000}, wallet)

	channel, err := ParseChannelBalance([]byte(`{"balance":"75000","pending_open_balance":"0"}`))
	require.NoError(t, err)
	assert.Equal(t, Sats(75000), channel)
}

func TestParseChannels(t *testing.T) {
	out := []byte(`{"channels":[{"active":true,"remote_pubkey":"03def","channel_point":"` + testTxID + `:0","capacity":"250000","local_balance":"200000","remote_balance":"46530"}]}`)

	channels, err := ParseChannels(out)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, Channel{
		ChannelPoint:  testTxID + ":0",
		RemotePubkey:  "03def",
		Capacity:      250000,
		LocalBalance:  200000,
		RemoteBalance: 46530,
		Active:        true,
	}, channels[0])

	empty, err := ParseChannels([]byte(`{"channels":[]}`))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestParseTxIDs(t *testing.T) {
	id, err := ParseFundingTxID([]byte(`{"funding_txid":"` + testTxID + `"}`))
	require.NoError(t, err)
	assert.Equal(t, testTxID, id)

	id, err = ParseClosingTxID([]byte(`{"closing_txid":"` + testTxID + `"}`))
	require.NoError(t, err)
	assert.Equal(t, testTxID, id)

	_, err = ParseFundingTxID([]byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
	_, err = ParseClosingTxID([]byte(`[lncli] rpc error`))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
}

func TestParseNewAddress(t *testing.T) {
	addr, err := ParseNewAddress([]byte(`{"address":"bcrt1qlnd"}`))
	require.NoError(t, err)
	assert.Equal(t, "bcrt1qlnd", addr)

	_, err = ParseNewAddress([]byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
}

func TestParseInvoice(t *testing.T) {
	inv, err := ParseInvoice([]byte(`{"r_hash":"beef","payment_request":"lnbcrt10u1p","add_index":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, Invoice{RHash: "beef", PaymentRequest: "lnbcrt10u1p"}, inv)
}

func TestParsePayment(t *testing.T) {
	p, err := ParsePayment([]byte(`{"payment_hash":"beef","payment_preimage":"cafe","status":"SUCCEEDED","value_sat":"1000","fee_sat":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, Payment{PaymentHash: "beef", PaymentPreimage: "cafe", Status: PaymentSucceeded, Value: 1000, Fee: 1}, p)
}

func TestParsePayment_Failed(t *testing.T) {
	p, err := ParsePayment([]byte(`{"payment_hash":"beef","status":"FAILED","failure_reason":"FAILURE_REASON_NO_ROUTE"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
	assert.Contains(t, err.Error(), "FAILURE_REASON_NO_ROUTE")
	assert.Equal(t, "FAILED", p.Status)
}

func TestIsAlreadyConnected(t *testing.T) {
	assert.True(t, IsAlreadyConnected("[lncli] rpc error: code = Unknown desc = already connected to peer: 03def@lnd-2:9735"))
	assert.False(t, IsAlreadyConnected("[lncli] rpc error: dial tcp: connection refused"))
}

// =============================================================================
// Command Tests
// =============================================================================

func TestParseChannelPoint(t *testing.T) {
	point, err := ParseChannelPoint(testTxID + ":1")
	require.NoError(t, err)
	assert.Equal(t, ChannelPoint{FundingTxID: testTxID, OutputIndex: 1}, point)
	assert.Equal(t, testTxID+":1", point.String())

	for _, raw := range []string{"", testTxID, testTxID + ":", testTxID + ":-1", "abc:0", strings.ToUpper(testTxID) + ":0"} {
		_, err := ParseChannelPoint(raw)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, raw)
	}
}

func TestOpenChannel(t *testing.T) {
	cmd, err := OpenChannel("03def", 250000, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"openchannel", "--node_key", "03def", "--local_amt", "250000"}, cmd)

	cmd, err = OpenChannel("03def", 250000, 50000)
	require.NoError(t, err)
	assert.Equal(t, []string{"openchannel", "--node_key", "03def", "--local_amt", "250000", "--push_amt", "50000"}, cmd)

	_, err = OpenChannel("03def", 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = OpenChannel("03def", 1000, 1000)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = OpenChannel("03def", 1000, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCloseChannel(t *testing.T) {
	point := ChannelPoint{FundingTxID: testTxID, OutputIndex: 0}
	assert.Equal(t, []string{"closechannel", "--funding_txid", testTxID, "--output_index", "0"}, CloseChannel(point, false))
	assert.Equal(t, []string{"closechannel", "--force", "--funding_txid", testTxID, "--output_index", "0"}, CloseChannel(point, true))
}

func TestAddInvoice(t *testing.T) {
	cmd, err := AddInvoice(1000, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"addinvoice", "--amt", "1000"}, cmd)

	cmd, err = AddInvoice(1000, "coffee")
	require.NoError(t, err)
	assert.Equal(t, []string{"addinvoice", "--amt", "1000", "--memo", "coffee"}, cmd)

	_, err = AddInvoice(0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSimpleCommands(t *testing.T) {
	assert.Equal(t, []string{"newaddress", "p2wkh"}, NewAddress())
	assert.Equal(t, []string{"connect", "03def@lnd-2:9735"}, Connect("03def", "lnd-2:9735"))
	assert.Equal(t, []string{"payinvoice", "--json", "--force", "lnbcrt1"}, PayInvoice("lnbcrt1"))
}
