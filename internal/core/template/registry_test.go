package template

import (
	"testing"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Embedded Catalog Tests
// =============================================================================

func loadRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load()
	require.NoError(t, err)
	return r
}

func TestLoad_Bitcoind(t *testing.T) {
	r := loadRegistry(t)

	tmpl, err := r.Resolve(domain.KindBitcoind)
	require.NoError(t, err)

	assert.Equal(t, "polarlightning/bitcoind:28.0", tmpl.Image)
	assert.Equal(t, []PortSpec{
		{Purpose: "rpc", ContainerPort: 18443, Protocol: "tcp"},
		{Purpose: "p2p", ContainerPort: 18444, Protocol: "tcp"},
		{Purpose: "zmq-block", ContainerPort: 28334, Protocol: "tcp"},
		{Purpose: "zmq-tx", ContainerPort: 28335, Protocol: "tcp"},
	}, tmpl.Ports)
	assert.Empty(t, tmpl.DependsOn)
	assert.Equal(t, "bitcoind", tmpl.Command[0])
	assert.Contains(t, tmpl.Command, "-regtest")
	assert.Equal(t, "bitcoin-cli", tmpl.Probe[0])
	require.Len(t, tmpl.Init, 1)
	assert.Equal(t, []string{"createwallet", "default"}, tmpl.Init[0][len(tmpl.Init[0])-2:])
	assert.Equal(t, []string{"bitcoin-cli", "-regtest", "-rpcuser=lnlab", "-rpcpassword=lnlab", "getblockcount"},
		tmpl.CLICommand("getblockcount"))
}

func TestLoad_LND(t *testing.T) {
	r := loadRegistry(t)

	tmpl, err := r.Resolve(domain.KindLND)
	require.NoError(t, err)

	assert.Equal(t, "polarlightning/lnd:0.18.5-beta", tmpl.Image)
	require.Equal(t, 3, tmpl.PortCount())
	assert.Equal(t, "rest", tmpl.Ports[0].Purpose)
	assert.Equal(t, "grpc", tmpl.Ports[1].Purpose)
	assert.Equal(t, "p2p", tmpl.Ports[2].Purpose)
	assert.Equal(t, []domain.NodeKind{domain.KindBitcoind}, tmpl.DependsOn)
	assert.Contains(t, tmpl.Command, "--alias=${ALIAS}")
	assert.Contains(t, tmpl.Command, "--bitcoind.rpchost=${BITCOIND_HOST}")
	assert.Equal(t, "lncli", tmpl.Probe[0])
	assert.Empty(t, tmpl.Init)
	require.Len(t, tmpl.CLI, 4)
	assert.Equal(t, "lncli", tmpl.CLI[0])
	assert.Equal(t, "getinfo", tmpl.CLICommand("getinfo")[4])
	assert.Len(t, tmpl.CLI, 4, "CLICommand must not grow the prefix")
}

func TestRegistry_Ordering(t *testing.T) {
	r := loadRegistry(t)

	assert.Equal(t, []domain.NodeKind{domain.KindBitcoind, domain.KindLND}, r.Kinds())
	assert.Equal(t, [][]domain.NodeKind{{domain.KindBitcoind}, {domain.KindLND}}, r.Levels())
	assert.Equal(t, []domain.NodeKind{domain.KindLND}, r.Dependents(domain.KindBitcoind))
	assert.Empty(t, r.Dependents(domain.KindLND))
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := loadRegistry(t)

	_, err := r.Resolve("eclair")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_RejectsPortlessService(t *testing.T) {
	_, err := Parse(`
services:
  sidecar:
    image: busybox
`)
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestParse_RejectsBadInitExtension(t *testing.T) {
	_, err := Parse(`
services:
  node:
    image: busybox
    ports:
      - name: rpc
        target: 1234
    x-lnlab-init: "not a list"
`)
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestParse_RejectsBadCLIExtension(t *testing.T) {
	_, err := Parse(`
services:
  node:
    image: busybox
    ports:
      - name: rpc
        target: 1234
    x-lnlab-cli: "node-cli --flag"
`)
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}

// =============================================================================
// BuildPortBlock Tests
// =============================================================================

func TestTemplate_BuildPortBlock(t *testing.T) {
	r := loadRegistry(t)
	tmpl, err := r.Resolve(domain.KindBitcoind)
	require.NoError(t, err)

	block, err := tmpl.BuildPortBlock([]int{20000, 20001, 20002, 20003})
	require.NoError(t, err)

	assert.Equal(t, 20000, block.Base)
	assert.Equal(t, 20000, block.HostPort("rpc"))
	assert.Equal(t, 20001, block.HostPort("p2p"))
	assert.Equal(t, 20002, block.HostPort("zmq-block"))
	assert.Equal(t, 20003, block.HostPort("zmq-tx"))
	assert.Equal(t, 18443, block.Bindings[0].ContainerPort)
}

func TestTemplate_BuildPortBlock_WrongCount(t *testing.T) {
	r := loadRegistry(t)
	tmpl, err := r.Resolve(domain.KindLND)
	require.NoError(t, err)

	_, err = tmpl.BuildPortBlock([]int{20000})
	assert.Error(t, err)
}

func TestTemplate_BuildPortBlock_NotContiguous(t *testing.T) {
	r := loadRegistry(t)
	tmpl, err := r.Resolve(domain.KindLND)
	require.NoError(t, err)

	_, err = tmpl.BuildPortBlock([]int{20000, 20001, 20005})
	assert.ErrorIs(t, err, domain.ErrStateCorruption)
}
