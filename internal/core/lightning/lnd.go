package lightning

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/lnlab/internal/core/domain"
)

// PaymentSucceeded is the status lncli reports for a settled payment.
const PaymentSucceeded = "SUCCEEDED"

// =============================================================================
// lnd Output
// =============================================================================

// GetInfo is the part of lncli getinfo lnlab reports.
type GetInfo struct {
	Alias              string `json:"alias"`
	Version            string `json:"version"`
	IdentityPubkey     string `json:"identity_pubkey"`
	NumActiveChannels  int    `json:"num_active_channels"`
	NumPendingChannels int    `json:"num_pending_channels"`
	NumPeers           int    `json:"num_peers"`
	BlockHeight        int64  `json:"block_height"`
	BlockHash          string `json:"block_hash"`
	SyncedToChain      bool   `json:"synced_to_chain"`
	SyncedToGraph      bool   `json:"synced_to_graph"`
}

// WalletBalance is lncli walletbalance output.
type WalletBalance struct {
	Total       Sats `json:"total_balance"`
	Confirmed   Sats `json:"confirmed_balance"`
	Unconfirmed Sats `json:"unconfirmed_balance"`
}

// Channel is one entry of lncli listchannels.
type Channel struct {
	ChannelPoint  string `json:"channel_point"`
	RemotePubkey  string `json:"remote_pubkey"`
	Capacity      Sats   `json:"capacity"`
	LocalBalance  Sats   `json:"local_balance"`
	RemoteBalance Sats   `json:"remote_balance"`
	Active        bool   `json:"active"`
}

// LNDInfo is a live snapshot of an lnd node.
type LNDInfo struct {
	GetInfo
	Wallet         WalletBalance `json:"wallet"`
	ChannelBalance Sats          `json:"channel_balance"`
	Channels       []Channel     `json:"channels"`
}

// Invoice is lncli addinvoice output.
type Invoice struct {
	RHash          string `json:"r_hash"`
	PaymentRequest string `json:"payment_request"`
}

// Payment is lncli payinvoice --json output.
type Payment struct {
	PaymentHash     string `json:"payment_hash"`
	PaymentPreimage string `json:"payment_preimage"`
	Status          string `json:"status"`
	Value           Sats   `json:"value_sat"`
	Fee             Sats   `json:"fee_sat"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// ParseGetInfo decodes lncli getinfo output.
func ParseGetInfo(out []byte) (GetInfo, error) {
	var info GetInfo
	if err := decode("getinfo", out, &info); err != nil {
		return GetInfo{}, err
	}
	if info.IdentityPubkey == "" {
		return GetInfo{}, unexpected("getinfo", out, "no identity_pubkey")
	}
	return info, nil
}

// ParseWalletBalance decodes lncli walletbalance output.
func ParseWalletBalance(out []byte) (WalletBalance, error) {
	var b WalletBalance
	err := decode("walletbalance", out, &b)
	return b, err
}

// ParseChannelBalance decodes lncli channelbalance output.
func ParseChannelBalance(out []byte) (Sats, error) {
	var b struct {
		Balance Sats `json:"balance"`
	}
	err := decode("channelbalance", out, &b)
	return b.Balance, err
}

// ParseChannels decodes lncli listchannels output.
func ParseChannels(out []byte) ([]Channel, error) {
	var list struct {
		Channels []Channel `json:"channels"`
	}
	if err := decode("listchannels", out, &list); err != nil {
		return nil, err
	}
	if list.Channels == nil {
		list.Channels = []Channel{}
	}
	return list.Channels, nil
}

// ParseNewAddress decodes lncli newaddress output.
func ParseNewAddress(out []byte) (string, error) {
	var addr struct {
		Address string `json:"address"`
	}
	if err := decode("newaddress", out, &addr); err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", unexpected("newaddress", out, "no address")
	}
	return addr.Address, nil
}

// ParseFundingTxID decodes lncli openchannel output.
func ParseFundingTxID(out []byte) (string, error) {
	var res struct {
		FundingTxID string `json:"funding_txid"`
	}
	if err := decode("openchannel", out, &res); err != nil {
		return "", err
	}
	if res.FundingTxID == "" {
		return "", unexpected("openchannel", out, "no funding_txid")
	}
	return res.FundingTxID, nil
}

// ParseClosingTxID decodes lncli closechannel output.
func ParseClosingTxID(out []byte) (string, error) {
	var res struct {
		ClosingTxID string `json:"closing_txid"`
	}
	if err := decode("closechannel", out, &res); err != nil {
		return "", err
	}
	if res.ClosingTxID == "" {
		return "", unexpected("closechannel", out, "no closing_txid")
	}
	return res.ClosingTxID, nil
}

// ParseInvoice decodes lncli addinvoice output.
func ParseInvoice(out []byte) (Invoice, error) {
	var inv Invoice
	if err := decode("addinvoice", out, &inv); err != nil {
		return Invoice{}, err
	}
	if inv.PaymentRequest == "" {
		return Invoice{}, unexpected("addinvoice", out, "no payment_request")
	}
	return inv, nil
}

// ParsePayment decodes lncli payinvoice output. A payment that did not
// succeed is returned together with an error.
func ParsePayment(out []byte) (Payment, error) {
	var p Payment
	if err := decode("payinvoice", out, &p); err != nil {
		return Payment{}, err
	}
	if p.Status != PaymentSucceeded {
		reason := p.FailureReason
		if reason == "" {
			reason = "no failure reason"
		}
		return p, fmt.Errorf("%w: payment %s is %s: %s", domain.ErrNodeCommandFailed, p.PaymentHash, p.Status, reason)
	}
	return p, nil
}

// IsAlreadyConnected reports whether lncli connect failed only because the
// peer is already connected.
func IsAlreadyConnected(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "already connected")
}

// =============================================================================
// lnd Commands
// =============================================================================

// ChannelPoint identifies a channel by its funding output.
type ChannelPoint struct {
	FundingTxID string
	OutputIndex int
}

// ParseChannelPoint parses "<funding_txid>:<output_index>".
func ParseChannelPoint(raw string) (ChannelPoint, error) {
	txid, index, ok := strings.Cut(raw, ":")
	n, err := strconv.Atoi(index)
	if !ok || err != nil || n < 0 || len(txid) != 64 || strings.Trim(txid, "0123456789abcdef") != "" {
		return ChannelPoint{}, fmt.Errorf("%w: channel point %q, want <funding_txid>:<output_index>", domain.ErrInvalidArgument, raw)
	}
	return ChannelPoint{FundingTxID: txid, OutputIndex: n}, nil
}

// String returns the "<funding_txid>:<output_index>" form.
func (c ChannelPoint) String() string {
	return c.FundingTxID + ":" + strconv.Itoa(c.OutputIndex)
}

// NewAddress asks lnd for a native segwit deposit address.
func NewAddress() []string {
	return []string{"newaddress", "p2wkh"}
}

// Connect dials a peer at host, a "hostname:port" reachable from the node.
func Connect(pubkey, host string) []string {
	return []string{"connect", pubkey + "@" + host}
}

// ValidateChannel checks a channel's capacity and the amount pushed to the
// peer on open.
func ValidateChannel(capacity, push Sats) error {
	if err := ValidateAmount("capacity", capacity); err != nil {
		return err
	}
	if push < 0 || push >= capacity {
		return fmt.Errorf("%w: push amount %d must be at least 0 and below capacity %d", domain.ErrInvalidArgument, push, capacity)
	}
	return nil
}

// OpenChannel funds a channel of capacity to the peer, pushing push to it.
func OpenChannel(pubkey string, capacity, push Sats) ([]string, error) {
	if err := ValidateChannel(capacity, push); err != nil {
		return nil, err
	}
	cmd := []string{"openchannel", "--node_key", pubkey, "--local_amt", strconv.FormatInt(int64(capacity), 10)}
	if push > 0 {
		cmd = append(cmd, "--push_amt", strconv.FormatInt(int64(push), 10))
	}
	return cmd, nil
}

// CloseChannel closes the channel cooperatively, or unilaterally when force
// is set.
func CloseChannel(point ChannelPoint, force bool) []string {
	cmd := []string{"closechannel"}
	if force {
		cmd = append(cmd, "--force")
	}
	return append(cmd, "--funding_txid", point.FundingTxID, "--output_index", strconv.Itoa(point.OutputIndex))
}

// AddInvoice creates an invoice for amount with an optional memo.
func AddInvoice(amount Sats, memo string) ([]string, error) {
	if err := ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	cmd := []string{"addinvoice", "--amt", strconv.FormatInt(int64(amount), 10)}
	if memo != "" {
		cmd = append(cmd, "--memo", memo)
	}
	return cmd, nil
}

// PayInvoice pays a BOLT 11 payment request without confirmation.
func PayInvoice(paymentRequest string) []string {
	return []string{"payinvoice", "--json", "--force", paymentRequest}
}
