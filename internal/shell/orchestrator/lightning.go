package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/core/lightning"
	"github.com/artpar/lnlab/internal/shell/docker"
)

// p2pPurpose names the port lnd peers dial each other on.
const p2pPurpose = "p2p"

// NodeInfo is a live snapshot of one node. Exactly one of Bitcoind and LND
// is set, matching Kind.
type NodeInfo struct {
	Network  string                  `json:"network"`
	Node     string                  `json:"node"`
	Kind     domain.NodeKind         `json:"kind"`
	Bitcoind *lightning.BitcoindInfo `json:"bitcoind,omitempty"`
	LND      *lightning.LNDInfo      `json:"lnd,omitempty"`
}

// FundWalletParams describes a transfer from the network's bitcoind wallet
// to an lnd wallet.
type FundWalletParams struct {
	Node          string
	Amount        lightning.Sats
	Confirmations int // blocks mined after the send; 0 mines none
}

// FundWalletResult is the outcome of FundWallet.
type FundWalletResult struct {
	TxID    string         `json:"txid"`
	Address string         `json:"address"`
	Amount  lightning.Sats `json:"amount_sat"`
	Blocks  []string       `json:"blocks"`
}

// OpenChannelParams describes a channel from one lnd node to another.
type OpenChannelParams struct {
	From          string
	To            string
	Capacity      lightning.Sats
	PushAmount    lightning.Sats
	Confirmations int // blocks mined after the funding transaction
}

// OpenChannelResult is the outcome of OpenChannel.
type OpenChannelResult struct {
	FundingTxID string   `json:"funding_txid"`
	Blocks      []string `json:"blocks"`
}

// CloseChannelParams identifies a channel to close.
type CloseChannelParams struct {
	Node         string
	ChannelPoint string
	Force        bool
}

// PaymentParams describes a payment of Amount from one lnd node to another.
type PaymentParams struct {
	From   string
	To     string
	Amount lightning.Sats
	Memo   string
}

// ChainSync reports which lnd nodes have caught up with the chain.
type ChainSync struct {
	Synced []string `json:"synced"`
	Behind []string `json:"behind"`
}

// CommandError is a node CLI command that exited non-zero.
type CommandError struct {
	Node     string
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s on %s exited %d: %s", domain.ErrNodeCommandFailed, e.Command, e.Node, e.ExitCode, e.Output)
}

// Is makes command failures classify as node command failures.
func (e *CommandError) Is(target error) bool {
	return target == domain.ErrNodeCommandFailed
}

// =============================================================================
// Node Info
// =============================================================================

// NodeInfo queries a running node for its chain, wallet and channel state.
func (o *Orchestrator) NodeInfo(ctx context.Context, networkName, nodeName string) (*NodeInfo, error) {
	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}
	node, err := liveNode(network, nodeName, "")
	if err != nil {
		return nil, err
	}

	info := &NodeInfo{Network: networkName, Node: nodeName, Kind: node.Kind}
	switch node.Kind {
	case domain.KindBitcoind:
		info.Bitcoind, err = o.bitcoindInfo(ctx, node)
	case domain.KindLND:
		info.LND, err = o.lndInfo(ctx, node)
	default:
		err = fmt.Errorf("%w: %s", domain.ErrUnsupportedKind, node.Kind)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (o *Orchestrator) bitcoindInfo(ctx context.Context, node domain.Node) (*lightning.BitcoindInfo, error) {
	out, err := o.run(ctx, node, "getblockchaininfo")
	if err != nil {
		return nil, err
	}
	chain, err := lightning.ParseChainInfo(out)
	if err != nil {
		return nil, err
	}

	if out, err = o.run(ctx, node, "getnetworkinfo"); err != nil {
		return nil, err
	}
	peers, err := lightning.ParsePeerInfo(out)
	if err != nil {
		return nil, err
	}

	balance, err := o.balance(ctx, node)
	if err != nil {
		return nil, err
	}
	return &lightning.BitcoindInfo{ChainInfo: chain, PeerInfo: peers, Balance: balance}, nil
}

func (o *Orchestrator) lndInfo(ctx context.Context, node domain.Node) (*lightning.LNDInfo, error) {
	getinfo, err := o.lndGetInfo(ctx, node)
	if err != nil {
		return nil, err
	}
	info := &lightning.LNDInfo{GetInfo: getinfo}

	out, err := o.run(ctx, node, "walletbalance")
	if err != nil {
		return nil, err
	}
	if info.Wallet, err = lightning.ParseWalletBalance(out); err != nil {
		return nil, err
	}

	if out, err = o.run(ctx, node, "channelbalance"); err != nil {
		return nil, err
	}
	if info.ChannelBalance, err = lightning.ParseChannelBalance(out); err != nil {
		return nil, err
	}

	if out, err = o.run(ctx, node, "listchannels"); err != nil {
		return nil, err
	}
	if info.Channels, err = lightning.ParseChannels(out); err != nil {
		return nil, err
	}
	return info, nil
}

// =============================================================================
// Chain
// =============================================================================

// MineBlocks mines blocks on the network's first running bitcoind node and
// returns the new block hashes.
func (o *Orchestrator) MineBlocks(ctx context.Context, networkName string, blocks int) ([]string, error) {
	if err := lightning.ValidateBlocks(blocks); err != nil {
		return nil, err
	}

	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}
	miner, err := minerNode(network)
	if err != nil {
		return nil, err
	}
	return o.mine(ctx, miner, blocks)
}

func (o *Orchestrator) mine(ctx context.Context, miner domain.Node, blocks int) ([]string, error) {
	out, err := o.run(ctx, miner, "getnewaddress")
	if err != nil {
		return nil, err
	}
	address, err := lightning.ParseText("getnewaddress", out)
	if err != nil {
		return nil, err
	}

	cmd, err := lightning.GenerateToAddress(blocks, address)
	if err != nil {
		return nil, err
	}
	if out, err = o.run(ctx, miner, cmd...); err != nil {
		return nil, err
	}
	hashes, err := lightning.ParseBlockHashes(out)
	if err != nil {
		return nil, err
	}
	o.logger.Info("mined blocks", "network", miner.Network, "node", miner.Name, "blocks", len(hashes))
	return hashes, nil
}

// FundWallet sends Amount from the network's bitcoind wallet to a fresh
// address of an lnd node and then mines Confirmations blocks.
func (o *Orchestrator) FundWallet(ctx context.Context, networkName string, params FundWalletParams) (*FundWalletResult, error) {
	if err := lightning.ValidateAmount("amount", params.Amount); err != nil {
		return nil, err
	}
	if err := validateConfirmations(params.Confirmations); err != nil {
		return nil, err
	}

	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}
	target, err := liveNode(network, params.Node, domain.KindLND)
	if err != nil {
		return nil, err
	}
	miner, err := minerNode(network)
	if err != nil {
		return nil, err
	}

	balance, err := o.balance(ctx, miner)
	if err != nil {
		return nil, err
	}
	if balance < params.Amount {
		return nil, fmt.Errorf("%w: %s has %s BTC, need %s BTC; mine blocks first",
			domain.ErrInsufficientFunds, miner.Name, balance.BTC(), params.Amount.BTC())
	}

	out, err := o.run(ctx, target, lightning.NewAddress()...)
	if err != nil {
		return nil, err
	}
	address, err := lightning.ParseNewAddress(out)
	if err != nil {
		return nil, err
	}

	if out, err = o.run(ctx, miner, lightning.SendToAddress(address, params.Amount)...); err != nil {
		return nil, err
	}
	txid, err := lightning.ParseText("sendtoaddress", out)
	if err != nil {
		return nil, err
	}
	o.logger.Info("funded wallet", "network", networkName, "node", target.Name, "amount_sat", params.Amount, "txid", txid)

	result := &FundWalletResult{TxID: txid, Address: address, Amount: params.Amount, Blocks: []string{}}
	if params.Confirmations > 0 {
		if result.Blocks, err = o.mine(ctx, miner, params.Confirmations); err != nil {
			return result, fmt.Errorf("confirm %s: %w", txid, err)
		}
	}
	return result, nil
}

func (o *Orchestrator) balance(ctx context.Context, node domain.Node) (lightning.Sats, error) {
	out, err := o.run(ctx, node, "getbalance")
	if err != nil {
		return 0, err
	}
	return lightning.ParseBTC(string(out))
}

// SyncChain reports which running lnd nodes are synced to the chain.
func (o *Orchestrator) SyncChain(ctx context.Context, networkName string) (*ChainSync, error) {
	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}

	status := &ChainSync{Synced: []string{}, Behind: []string{}}
	for _, node := range runningOfKind(network, domain.KindLND) {
		info, err := o.lndGetInfo(ctx, node)
		if err != nil {
			o.logger.Warn("chain sync check failed", "network", networkName, "node", node.Name, "error", err)
			status.Behind = append(status.Behind, node.Name)
			continue
		}
		if info.SyncedToChain {
			status.Synced = append(status.Synced, node.Name)
		} else {
			status.Behind = append(status.Behind, node.Name)
		}
	}
	return status, nil
}

// =============================================================================
// Channels
// =============================================================================

// OpenChannel connects From to To as peers and opens a channel between them.
func (o *Orchestrator) OpenChannel(ctx context.Context, networkName string, params OpenChannelParams) (*OpenChannelResult, error) {
	if params.From == params.To {
		return nil, fmt.Errorf("%w: cannot open a channel from %s to itself", domain.ErrInvalidArgument, params.From)
	}
	if err := lightning.ValidateChannel(params.Capacity, params.PushAmount); err != nil {
		return nil, err
	}
	if err := validateConfirmations(params.Confirmations); err != nil {
		return nil, err
	}

	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}
	from, err := liveNode(network, params.From, domain.KindLND)
	if err != nil {
		return nil, err
	}
	to, err := liveNode(network, params.To, domain.KindLND)
	if err != nil {
		return nil, err
	}

	pubkey, err := o.connectPeer(ctx, from, to)
	if err != nil {
		return nil, err
	}

	cmd, err := lightning.OpenChannel(pubkey, params.Capacity, params.PushAmount)
	if err != nil {
		return nil, err
	}
	out, err := o.run(ctx, from, cmd...)
	if err != nil {
		return nil, err
	}
	txid, err := lightning.ParseFundingTxID(out)
	if err != nil {
		return nil, err
	}
	o.logger.Info("channel opened", "network", networkName, "from", from.Name, "to", to.Name, "capacity_sat", params.Capacity, "funding_txid", txid)

	result := &OpenChannelResult{FundingTxID: txid, Blocks: []string{}}
	if params.Confirmations > 0 {
		miner, err := minerNode(network)
		if err != nil {
			return result, err
		}
		if result.Blocks, err = o.mine(ctx, miner, params.Confirmations); err != nil {
			return result, fmt.Errorf("confirm %s: %w", txid, err)
		}
	}
	return result, nil
}

// CloseChannel closes one of the node's channels and returns the closing
// transaction ID.
func (o *Orchestrator) CloseChannel(ctx context.Context, networkName string, params CloseChannelParams) (string, error) {
	point, err := lightning.ParseChannelPoint(params.ChannelPoint)
	if err != nil {
		return "", err
	}

	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return "", err
	}
	node, err := liveNode(network, params.Node, domain.KindLND)
	if err != nil {
		return "", err
	}

	out, err := o.run(ctx, node, lightning.CloseChannel(point, params.Force)...)
	if err != nil {
		return "", err
	}
	txid, err := lightning.ParseClosingTxID(out)
	if err != nil {
		return "", err
	}
	o.logger.Info("channel closed", "network", networkName, "node", node.Name, "channel_point", point.String(), "force", params.Force, "closing_txid", txid)
	return txid, nil
}

// SyncGraph connects every pair of running lnd nodes as peers so that each
// learns the others' channels. It returns the number of nodes connected.
func (o *Orchestrator) SyncGraph(ctx context.Context, networkName string) (int, error) {
	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return 0, err
	}

	nodes := runningOfKind(network, domain.KindLND)
	if len(nodes) < 2 {
		return 0, nil
	}

	var errs []error
	for i, from := range nodes {
		for _, to := range nodes[i+1:] {
			if _, err := o.connectPeer(ctx, from, to); err != nil {
				errs = append(errs, fmt.Errorf("connect %s to %s: %w", from.Name, to.Name, err))
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return 0, err
	}
	o.logger.Info("graph synced", "network", networkName, "nodes", len(nodes))
	return len(nodes), nil
}

// connectPeer dials to from from over the docker network and returns to's
// identity key. An existing connection counts as success.
func (o *Orchestrator) connectPeer(ctx context.Context, from, to domain.Node) (string, error) {
	info, err := o.lndGetInfo(ctx, to)
	if err != nil {
		return "", err
	}
	port := to.Ports.ContainerPort(p2pPurpose)
	if port == 0 {
		return "", fmt.Errorf("%w: %s has no %s port", domain.ErrStateCorruption, to.Ref(), p2pPurpose)
	}

	host := net.JoinHostPort(to.Name, strconv.Itoa(port))
	_, err = o.run(ctx, from, lightning.Connect(info.IdentityPubkey, host)...)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && lightning.IsAlreadyConnected(cmdErr.Output) {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return info.IdentityPubkey, nil
}

// =============================================================================
// Payments
// =============================================================================

// SendPayment creates an invoice on To and pays it from From.
func (o *Orchestrator) SendPayment(ctx context.Context, networkName string, params PaymentParams) (*lightning.Payment, error) {
	if params.From == params.To {
		return nil, fmt.Errorf("%w: cannot pay from %s to itself", domain.ErrInvalidArgument, params.From)
	}
	invoiceCmd, err := lightning.AddInvoice(params.Amount, params.Memo)
	if err != nil {
		return nil, err
	}

	locks := o.networkLock(networkName)
	locks.rw.RLock()
	defer locks.rw.RUnlock()

	network, err := o.loadNetwork(ctx, networkName)
	if err != nil {
		return nil, err
	}
	from, err := liveNode(network, params.From, domain.KindLND)
	if err != nil {
		return nil, err
	}
	to, err := liveNode(network, params.To, domain.KindLND)
	if err != nil {
		return nil, err
	}

	out, err := o.run(ctx, to, invoiceCmd...)
	if err != nil {
		return nil, err
	}
	invoice, err := lightning.ParseInvoice(out)
	if err != nil {
		return nil, err
	}

	if out, err = o.run(ctx, from, lightning.PayInvoice(invoice.PaymentRequest)...); err != nil {
		return nil, err
	}
	payment, err := lightning.ParsePayment(out)
	if err != nil {
		return nil, err
	}
	o.logger.Info("payment sent", "network", networkName, "from", from.Name, "to", to.Name, "amount_sat", payment.Value, "payment_hash", payment.PaymentHash)
	return &payment, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (o *Orchestrator) lndGetInfo(ctx context.Context, node domain.Node) (lightning.GetInfo, error) {
	out, err := o.run(ctx, node, "getinfo")
	if err != nil {
		return lightning.GetInfo{}, err
	}
	return lightning.ParseGetInfo(out)
}

// run executes the node's CLI with args inside its container and returns
// stdout.
func (o *Orchestrator) run(ctx context.Context, node domain.Node, args ...string) ([]byte, error) {
	tmpl, err := o.templates.Resolve(node.Kind)
	if err != nil {
		return nil, err
	}
	if len(tmpl.CLI) == 0 {
		return nil, fmt.Errorf("%w: %s has no CLI", domain.ErrUnsupportedKind, node.Kind)
	}

	res, err := o.docker.Exec(ctx, o.containerRef(node), tmpl.CLICommand(args...))
	switch {
	case docker.IsNotFound(err), errors.Is(err, docker.ErrContainerNotRunning):
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNodeNotRunning, node.Ref(), err)
	case err != nil:
		return nil, err
	case res.ExitCode != 0:
		output := strings.TrimSpace(string(res.Stderr))
		if output == "" {
			output = strings.TrimSpace(string(res.Stdout))
		}
		return nil, &CommandError{Node: node.Ref(), Command: args[0], ExitCode: res.ExitCode, Output: output}
	}
	o.logger.Debug("node command", "network", node.Network, "node", node.Name, "command", args[0])
	return res.Stdout, nil
}

// validateConfirmations accepts 0, which mines nothing, or a valid block
// count.
func validateConfirmations(n int) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("%w: confirmations must not be negative", domain.ErrInvalidArgument)
	}
	return lightning.ValidateBlocks(n)
}

// liveNode returns the named node if it is Running and, when kind is set,
// of that kind.
func liveNode(network *domain.Network, name string, kind domain.NodeKind) (domain.Node, error) {
	node, ok := network.Node(name)
	if !ok {
		return domain.Node{}, fmt.Errorf("%w: %s/%s", domain.ErrNodeNotFound, network.Name, name)
	}
	if kind != "" && node.Kind != kind {
		return domain.Node{}, fmt.Errorf("%w: %s is a %s node, want %s", domain.ErrUnsupportedKind, node.Ref(), node.Kind, kind)
	}
	if node.State != domain.NodeRunning {
		return domain.Node{}, fmt.Errorf("%w: %s is %s", domain.ErrNodeNotRunning, node.Ref(), node.State)
	}
	return node, nil
}

// minerNode returns the first running bitcoind node, which mines blocks and
// funds wallets for the network.
func minerNode(network *domain.Network) (domain.Node, error) {
	miners := runningOfKind(network, domain.KindBitcoind)
	if len(miners) == 0 {
		return domain.Node{}, fmt.Errorf("%w: network %s has no running %s node", domain.ErrNodeNotRunning, network.Name, domain.KindBitcoind)
	}
	return miners[0], nil
}

func runningOfKind(network *domain.Network, kind domain.NodeKind) []domain.Node {
	var out []domain.Node
	for _, n := range network.NodesOfKind(kind) {
		if n.State == domain.NodeRunning {
			out = append(out, n)
		}
	}
	return out
}
