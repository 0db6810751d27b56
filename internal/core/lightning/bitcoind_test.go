package lightning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/lnlab/internal/core/domain"
)

func TestParseChainInfo(t *testing.T) {
	out := []byte(`{"chain":"regtest","blocks":101,"headers":101,"bestblockhash":"0f9188f1","difficulty":4.656542373906925e-10,"initialblockdownload":false,"warnings":""}`)

	info, err := ParseChainInfo(out)
	require.NoError(t, err)
	assert.Equal(t, ChainInfo{
		Chain:         "regtest",
		Blocks:        101,
		BestBlockHash: "0f9188f1",
		Difficulty:    4.656542373906925e-10,
	}, info)
}

func TestParseChainInfo_Unexpected(t *testing.T) {
	_, err := ParseChainInfo([]byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)

	_, err = ParseChainInfo([]byte("error code: -28\nLoading block index..."))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
	assert.Contains(t, err.Error(), "getblockchaininfo")
}

func TestParsePeerInfo(t *testing.T) {
	info, err := ParsePeerInfo([]byte(`{"version":280000,"subversion":"/Satoshi:28.0.0/","connections":2}`))
	require.NoError(t, err)
	assert.Equal(t, PeerInfo{Subversion: "/Satoshi:28.0.0/", Connections: 2}, info)
}

func TestParseBlockHashes(t *testing.T) {
	hashes, err := ParseBlockHashes([]byte("[\n  \"aa\",\n  \"bb\"\n]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"aa", "bb"}, hashes)
}

func TestParseText(t *testing.T) {
	addr, err := ParseText("getnewaddress", []byte("bcrt1qxyz\n"))
	require.NoError(t, err)
	assert.Equal(t, "bcrt1qxyz", addr)

	_, err = ParseText("getnewaddress", []byte("  \n"))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)

	_, err = ParseText("getnewaddress", []byte("two words"))
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
}

func TestGenerateToAddress(t *testing.T) {
	cmd, err := GenerateToAddress(6, "bcrt1qxyz")
	require.NoError(t, err)
	assert.Equal(t, []string{"generatetoaddress", "6", "bcrt1qxyz"}, cmd)

	_, err = GenerateToAddress(0, "bcrt1qxyz")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = GenerateToAddress(MaxMineBlocks+1, "bcrt1qxyz")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSendToAddress(t *testing.T) {
	assert.Equal(t, []string{"sendtoaddress", "bcrt1qxyz", "0.01000000"}, SendToAddress("bcrt1qxyz", 1_000_000))
}

func TestUnexpected_TruncatesOutput(t *testing.T) {
	err := unexpected("getinfo", []byte(strings.Repeat("x", 500)), "bad")
	assert.ErrorIs(t, err, domain.ErrNodeCommandFailed)
	assert.Less(t, len(err.Error()), 300)
	assert.Contains(t, err.Error(), "...")
}
