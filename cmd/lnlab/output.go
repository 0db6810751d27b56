package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/core/lightning"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

// newTable creates a table with the standard style.
func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// Networks
// =============================================================================

func renderNetworks(w io.Writer, networks []domain.Network) {
	if len(networks) == 0 {
		fmt.Fprintln(w, "No networks found")
		return
	}

	t := newTable()
	t.AppendHeader(table.Row{"NAME", "STATUS", "NODES", "PORTS"})
	for i := range networks {
		n := &networks[i]
		t.AppendRow(table.Row{n.Name, n.Status(), len(n.Nodes), portSpan(n.Nodes)})
	}
	fmt.Fprintln(w, t.Render())
}

func renderNetwork(w io.Writer, n *domain.Network) {
	fmt.Fprintf(w, "Network: %s\n", n.Name)
	fmt.Fprintf(w, "Status:  %s\n", n.Status())
	if n.Quarantine != "" {
		fmt.Fprintf(w, "Quarantined: %s\n", n.Quarantine)
	}
	if len(n.Nodes) == 0 {
		return
	}

	t := newTable()
	t.AppendHeader(table.Row{"NODE", "KIND", "STATE", "DESIRED", "PORTS", "IMAGE", "ERROR"})
	for _, node := range n.Nodes {
		t.AppendRow(nodeRow(node))
	}
	fmt.Fprintln(w, t.Render())
}

func renderNode(w io.Writer, node domain.Node) {
	t := newTable()
	t.AppendHeader(table.Row{"NODE", "KIND", "STATE", "DESIRED", "PORTS", "IMAGE", "ERROR"})
	t.AppendRow(nodeRow(node))
	fmt.Fprintln(w, t.Render())
}

func nodeRow(node domain.Node) table.Row {
	return table.Row{
		node.Name,
		node.Kind,
		node.State,
		node.Desired,
		formatPorts(node.Ports),
		node.Image,
		truncate(node.LastError, 60),
	}
}

// formatPorts renders "rpc=20000 p2p=20001".
func formatPorts(block domain.PortBlock) string {
	parts := make([]string, 0, len(block.Bindings))
	for _, b := range block.Bindings {
		parts = append(parts, fmt.Sprintf("%s=%d", b.Purpose, b.HostPort))
	}
	return strings.Join(parts, " ")
}

// portSpan renders the lowest and highest host port used by nodes.
func portSpan(nodes []domain.Node) string {
	low, high := 0, 0
	for _, n := range nodes {
		for _, p := range n.Ports.HostPorts() {
			if low == 0 || p < low {
				low = p
			}
			if p > high {
				high = p
			}
		}
	}
	if low == 0 {
		return "-"
	}
	return fmt.Sprintf("%d-%d", low, high)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// =============================================================================
// Reconcile
// =============================================================================

func renderReport(w io.Writer, report orchestrator.Report) {
	if !report.Changed() {
		fmt.Fprintln(w, "Nothing to reconcile")
	} else {
		t := newTable()
		t.AppendHeader(table.Row{"NETWORK", "NODE", "ACTION", "REASON", "ERROR"})
		for _, e := range report.Entries {
			t.AppendRow(table.Row{e.Network, e.Node, e.Action, e.Reason, truncate(e.Error, 60)})
		}
		fmt.Fprintln(w, t.Render())
	}
	for _, name := range report.Quarantined {
		fmt.Fprintf(w, "Quarantined: %s (delete it to recover)\n", name)
	}
}

// =============================================================================
// Node Commands
// =============================================================================

func renderNodeInfo(w io.Writer, info *orchestrator.NodeInfo) {
	fmt.Fprintf(w, "Node: %s/%s (%s)\n", info.Network, info.Node, info.Kind)
	switch {
	case info.Bitcoind != nil:
		renderBitcoindInfo(w, info.Bitcoind)
	case info.LND != nil:
		renderLNDInfo(w, info.LND)
	}
}

func renderBitcoindInfo(w io.Writer, b *lightning.BitcoindInfo) {
	t := newTable()
	t.AppendRows([]table.Row{
		{"Version", b.Subversion},
		{"Chain", b.Chain},
		{"Blocks", b.Blocks},
		{"Best block", b.BestBlockHash},
		{"Connections", b.Connections},
		{"Balance", b.Balance.BTC() + " BTC"},
	})
	fmt.Fprintln(w, t.Render())
}

func renderLNDInfo(w io.Writer, l *lightning.LNDInfo) {
	t := newTable()
	t.AppendRows([]table.Row{
		{"Alias", l.Alias},
		{"Version", l.Version},
		{"Pubkey", l.IdentityPubkey},
		{"Block height", l.BlockHeight},
		{"Synced", l.SyncedToChain},
		{"Peers", l.NumPeers},
		{"Wallet", fmt.Sprintf("%d sat (%d unconfirmed)", l.Wallet.Confirmed, l.Wallet.Unconfirmed)},
		{"Channel balance", fmt.Sprintf("%d sat", l.ChannelBalance)},
	})
	fmt.Fprintln(w, t.Render())

	if len(l.Channels) == 0 {
		return
	}
	ch := newTable()
	ch.AppendHeader(table.Row{"CHANNEL POINT", "PEER", "CAPACITY", "LOCAL", "REMOTE", "ACTIVE"})
	for _, c := range l.Channels {
		ch.AppendRow(table.Row{c.ChannelPoint, truncate(c.RemotePubkey, 20), c.Capacity, c.LocalBalance, c.RemoteBalance, c.Active})
	}
	fmt.Fprintln(w, ch.Render())
}

func renderChainSync(w io.Writer, status *orchestrator.ChainSync) {
	if len(status.Synced)+len(status.Behind) == 0 {
		fmt.Fprintln(w, "No running lnd nodes")
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{"NODE", "SYNCED"})
	for _, name := range status.Synced {
		t.AppendRow(table.Row{name, true})
	}
	for _, name := range status.Behind {
		t.AppendRow(table.Row{name, false})
	}
	fmt.Fprintln(w, t.Render())
}
