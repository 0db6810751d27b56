package lightning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/lnlab/internal/core/domain"
)

const (
	// MaxMineBlocks bounds a single mining request.
	MaxMineBlocks = 1000

	// DefaultConfirmations is how many blocks are mined after a funding
	// transaction unless the caller asks otherwise.
	DefaultConfirmations = 6
)

// =============================================================================
// bitcoind Output
// =============================================================================

// ChainInfo is the part of getblockchaininfo lnlab reports.
type ChainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	BestBlockHash        string  `json:"bestblockhash"`
	Difficulty           float64 `json:"difficulty"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
}

// PeerInfo is the part of getnetworkinfo lnlab reports.
type PeerInfo struct {
	Subversion  string `json:"subversion"`
	Connections int    `json:"connections"`
}

// BitcoindInfo is a live snapshot of a bitcoind node.
type BitcoindInfo struct {
	ChainInfo
	PeerInfo
	Balance Sats `json:"balance"`
}

// ParseChainInfo decodes getblockchaininfo output.
func ParseChainInfo(out []byte) (ChainInfo, error) {
	var info ChainInfo
	if err := decode("getblockchaininfo", out, &info); err != nil {
		return ChainInfo{}, err
	}
	if info.Chain == "" {
		return ChainInfo{}, unexpected("getblockchaininfo", out, "no chain")
	}
	return info, nil
}

// ParsePeerInfo decodes getnetworkinfo output.
func ParsePeerInfo(out []byte) (PeerInfo, error) {
	var info PeerInfo
	if err := decode("getnetworkinfo", out, &info); err != nil {
		return PeerInfo{}, err
	}
	return info, nil
}

// ParseBlockHashes decodes generatetoaddress output.
func ParseBlockHashes(out []byte) ([]string, error) {
	var hashes []string
	if err := decode("generatetoaddress", out, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}

// ParseText returns single-value output such as an address or a txid.
func ParseText(command string, out []byte) (string, error) {
	value := strings.TrimSpace(string(out))
	if value == "" || strings.ContainsAny(value, " \n") {
		return "", unexpected(command, out, "expected a single value")
	}
	return value, nil
}

// =============================================================================
// bitcoind Commands
// =============================================================================

// ValidateBlocks rejects block counts outside 1..MaxMineBlocks.
func ValidateBlocks(blocks int) error {
	if blocks < 1 || blocks > MaxMineBlocks {
		return fmt.Errorf("%w: blocks must be between 1 and %d, got %d", domain.ErrInvalidArgument, MaxMineBlocks, blocks)
	}
	return nil
}

// GenerateToAddress mines blocks paying the coinbase to address.
func GenerateToAddress(blocks int, address string) ([]string, error) {
	if err := ValidateBlocks(blocks); err != nil {
		return nil, err
	}
	return []string{"generatetoaddress", strconv.Itoa(blocks), address}, nil
}

// SendToAddress pays amount from the node's default wallet to address.
func SendToAddress(address string, amount Sats) []string {
	return []string{"sendtoaddress", address, amount.BTC()}
}

// =============================================================================
// Helpers
// =============================================================================

func decode(command string, out []byte, v any) error {
	if err := json.Unmarshal(out, v); err != nil {
		return unexpected(command, out, err.Error())
	}
	return nil
}

func unexpected(command string, out []byte, detail string) error {
	const limit = 200
	shown := strings.TrimSpace(string(out))
	if len(shown) > limit {
		shown = shown[:limit] + "..."
	}
	return fmt.Errorf("%w: unexpected %s output (%s): %q", domain.ErrNodeCommandFailed, command, detail, shown)
}
