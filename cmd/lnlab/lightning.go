package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/core/lightning"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

// =============================================================================
// Node Info
// =============================================================================

func (c *cli) newNodeInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <network> <node>",
		Short: "Show a running node's chain, wallet and channel state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				info, err := a.orch.NodeInfo(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(c.out, info)
				}
				renderNodeInfo(c.out, info)
				return nil
			})
		},
	}
}

// =============================================================================
// Chain Commands
// =============================================================================

func (c *cli) newMineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine <network> [blocks]",
		Short: "Mine blocks on the network's bitcoind node",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blocks := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("%w: blocks %q is not a number", domain.ErrInvalidArgument, args[1])
				}
				blocks = n
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				hashes, err := a.orch.MineBlocks(cmd.Context(), args[0], blocks)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(c.out, hashes)
				}
				fmt.Fprintf(c.out, "Mined %d block(s) on %s\n", len(hashes), args[0])
				return nil
			})
		},
	}
}

func (c *cli) newFundCmd() *cobra.Command {
	var confirmations int

	cmd := &cobra.Command{
		Use:   "fund <network> <node> <amount-sat>",
		Short: "Send coins from bitcoind to an lnd wallet",
		Long: `Send coins from the network's bitcoind wallet to a fresh address of an
lnd node, then mine blocks to confirm the transaction.

The bitcoind wallet needs a mature balance: mine at least 101 blocks first.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseSats("amount", args[2])
			if err != nil {
				return err
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				res, err := a.orch.FundWallet(cmd.Context(), args[0], orchestrator.FundWalletParams{
					Node:          args[1],
					Amount:        amount,
					Confirmations: confirmations,
				})
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(c.out, res)
				}
				fmt.Fprintf(c.out, "Sent %s BTC to %s (%s)\n", res.Amount.BTC(), args[1], res.Address)
				fmt.Fprintf(c.out, "Transaction: %s\n", res.TxID)
				if len(res.Blocks) > 0 {
					fmt.Fprintf(c.out, "Mined %d block(s)\n", len(res.Blocks))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&confirmations, "confirmations", lightning.DefaultConfirmations, "Blocks to mine after sending (0 to skip)")
	return cmd
}

func (c *cli) newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize lnd nodes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "graph <network>",
			Short: "Connect every pair of running lnd nodes as peers",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(a *app) error {
					n, err := a.orch.SyncGraph(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if c.jsonOutput {
						return writeJSON(c.out, map[string]int{"nodes": n})
					}
					fmt.Fprintf(c.out, "Connected %d lnd node(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "chain <network>",
			Short: "Report which lnd nodes are synced to the chain",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withApp(cmd.Context(), func(a *app) error {
					status, err := a.orch.SyncChain(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if c.jsonOutput {
						return writeJSON(c.out, status)
					}
					renderChainSync(c.out, status)
					return nil
				})
			},
		},
	)
	return cmd
}

// =============================================================================
// Channel Commands
// =============================================================================

func (c *cli) newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "channel",
		Aliases: []string{"ch"},
		Short:   "Open and close channels",
	}
	cmd.AddCommand(c.newChannelOpenCmd(), c.newChannelCloseCmd())
	return cmd
}

func (c *cli) newChannelOpenCmd() *cobra.Command {
	var (
		push          string
		confirmations int
	)

	cmd := &cobra.Command{
		Use:   "open <network> <from> <to> <capacity-sat>",
		Short: "Open a channel between two lnd nodes",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			capacity, err := parseSats("capacity", args[3])
			if err != nil {
				return err
			}
			var pushAmount lightning.Sats
			if push != "" {
				if pushAmount, err = parseSats("push", push); err != nil {
					return err
				}
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				res, err := a.orch.OpenChannel(cmd.Context(), args[0], orchestrator.OpenChannelParams{
					From:          args[1],
					To:            args[2],
					Capacity:      capacity,
					PushAmount:    pushAmount,
					Confirmations: confirmations,
				})
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(c.out, res)
				}
				fmt.Fprintf(c.out, "Opened channel %s -> %s\n", args[1], args[2])
				fmt.Fprintf(c.out, "Funding transaction: %s\n", res.FundingTxID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&push, "push", "", "Satoshis to push to the peer on open")
	cmd.Flags().IntVar(&confirmations, "confirmations", lightning.DefaultConfirmations, "Blocks to mine after opening (0 to skip)")
	return cmd
}

func (c *cli) newChannelCloseCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "close <network> <node> <funding_txid:output_index>",
		Short: "Close one of a node's channels",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				txid, err := a.orch.CloseChannel(cmd.Context(), args[0], orchestrator.CloseChannelParams{
					Node:         args[1],
					ChannelPoint: args[2],
					Force:        force,
				})
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(c.out, map[string]string{"closing_txid": txid})
				}
				fmt.Fprintf(c.out, "Closing transaction: %s\n", txid)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Close unilaterally")
	return cmd
}

// =============================================================================
// Payments
// =============================================================================

func (c *cli) newPayCmd() *cobra.Command {
	var memo string

	cmd := &cobra.Command{
		Use:   "pay <network> <from> <to> <amount-sat>",
		Short: "Pay an invoice created on <to> from <from>",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseSats("amount", args[3])
			if err != nil {
				return err
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				payment, err := a.orch.SendPayment(cmd.Context(), args[0], orchestrator.PaymentParams{
					From:   args[1],
					To:     args[2],
					Amount: amount,
					Memo:   memo,
				})
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return writeJSON(c.out, payment)
				}
				fmt.Fprintf(c.out, "Paid %d sat from %s to %s (fee %d sat)\n", payment.Value, args[1], args[2], payment.Fee)
				fmt.Fprintf(c.out, "Payment hash: %s\n", payment.PaymentHash)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&memo, "memo", "", "Invoice memo")
	return cmd
}

func parseSats(name, raw string) (lightning.Sats, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a whole number of satoshis", domain.ErrInvalidArgument, name, raw)
	}
	return lightning.Sats(n), nil
}
