package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/artpar/lnlab/internal/core/domain"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

// =============================================================================
// Network Commands
// =============================================================================

func (c *cli) newNetworkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "network",
		Aliases: []string{"net"},
		Short:   "Manage networks",
	}
	cmd.AddCommand(
		c.newNetworkCreateCmd(),
		c.newNetworkListCmd(),
		c.newNetworkShowCmd(),
		c.newNetworkStartCmd(),
		c.newNetworkStopCmd(),
		c.newNetworkDeleteCmd(),
		c.newNetworkExportCmd(),
	)
	return cmd
}

func (c *cli) newNetworkCreateCmd() *cobra.Command {
	var (
		bitcoind    int
		lnd         int
		images      map[string]string
		aliasPrefix string
		start       bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a network with a bitcoind backend and lnd nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := orchestrator.CreateNetworkParams{
				Name:           args[0],
				BitcoinNodes:   c.cfg.Defaults.BitcoinNodes,
				LightningNodes: c.cfg.Defaults.LightningNodes,
				AliasPrefix:    aliasPrefix,
			}
			if cmd.Flags().Changed("bitcoind") {
				params.BitcoinNodes = bitcoind
			}
			if cmd.Flags().Changed("lnd") {
				params.LightningNodes = lnd
			}
			if len(images) > 0 {
				params.Images = make(map[domain.NodeKind]string, len(images))
				for kind, image := range images {
					params.Images[domain.NodeKind(kind)] = image
				}
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				network, err := a.orch.CreateNetwork(cmd.Context(), params)
				if err != nil {
					return err
				}
				if start {
					network, err = a.orch.StartNetwork(cmd.Context(), network.Name)
					if err != nil {
						return err
					}
				}
				return c.printNetwork(network)
			})
		},
	}

	cmd.Flags().IntVar(&bitcoind, "bitcoind", 1, "Number of bitcoind nodes")
	cmd.Flags().IntVar(&lnd, "lnd", 2, "Number of lnd nodes")
	cmd.Flags().StringToStringVar(&images, "image", nil, "Image override per kind, e.g. lnd=polarlightning/lnd:0.18.0-beta")
	cmd.Flags().StringVar(&aliasPrefix, "alias-prefix", "", "Prefix for lnd aliases")
	cmd.Flags().BoolVar(&start, "start", false, "Start the network after creating it")

	return cmd
}

func (c *cli) newNetworkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List networks",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				networks, err := a.orch.ListNetworks(cmd.Context())
				if err != nil {
					return err
				}
				if c.jsonOutput {
					if networks == nil {
						networks = []domain.Network{}
					}
					return writeJSON(c.out, networks)
				}
				renderNetworks(c.out, networks)
				return nil
			})
		},
	}
}

func (c *cli) newNetworkShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a network and its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				network, err := a.orch.GetNetwork(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printNetwork(network)
			})
		},
	}
}

func (c *cli) newNetworkStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start every node of a network in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				network, err := a.orch.StartNetwork(cmd.Context(), args[0])
				if network != nil && err != nil && !c.jsonOutput {
					renderNetwork(c.out, network)
				}
				if err != nil {
					return err
				}
				return c.printNetwork(network)
			})
		},
	}
}

func (c *cli) newNetworkStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop every node of a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				network, err := a.orch.StopNetwork(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printNetwork(network)
			})
		},
	}
}

func (c *cli) newNetworkDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a network's containers and release its ports",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.orch.DeleteNetwork(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Deleted network %s\n", args[0])
				return nil
			})
		},
	}
}

func (c *cli) newNetworkExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <name>",
		Short: "Print a network as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				out, err := a.orch.ExportNetwork(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				_, err = c.out.Write(out)
				return err
			})
		},
	}
}

func (c *cli) printNetwork(network *domain.Network) error {
	if c.jsonOutput {
		return writeJSON(c.out, network)
	}
	renderNetwork(c.out, network)
	return nil
}

// =============================================================================
// Node Commands
// =============================================================================

func (c *cli) newNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage single nodes",
	}
	cmd.AddCommand(
		c.newNodeAddCmd(),
		c.newNodeRemoveCmd(),
		c.newNodeStartCmd(),
		c.newNodeStopCmd(),
		c.newNodeInfoCmd(),
	)
	return cmd
}

func (c *cli) newNodeAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "add <network> <kind>",
		Short: "Add a node to a network",
		Long: `Add a node of the given kind (bitcoind or lnd) to a network.

The node starts right away when the network already has a running node.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				node, err := a.orch.AddNode(cmd.Context(), args[0], orchestrator.AddNodeParams{
					Kind: domain.NodeKind(args[1]),
					Name: name,
				})
				if err != nil {
					return err
				}
				return c.printNode(*node)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Node name (default <kind>-<n>)")
	return cmd
}

func (c *cli) newNodeRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <network> <node>",
		Aliases: []string{"rm"},
		Short:   "Remove a node and release its ports",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				if err := a.orch.RemoveNode(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Removed node %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func (c *cli) newNodeStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <network> <node>",
		Short: "Start one node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				node, err := a.orch.StartNode(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return c.printNode(*node)
			})
		},
	}
}

func (c *cli) newNodeStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <network> <node>",
		Short: "Stop one node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				node, err := a.orch.StopNode(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return c.printNode(*node)
			})
		},
	}
}

func (c *cli) printNode(node domain.Node) error {
	if c.jsonOutput {
		return writeJSON(c.out, node)
	}
	renderNode(c.out, node)
	return nil
}

// =============================================================================
// Logs, Reconcile and Doctor
// =============================================================================

func (c *cli) newLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs <network> <node>",
		Short: "Follow a node's log output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				sub, err := a.orch.SubscribeLogs(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				defer sub.Close()

				for {
					line, err := sub.Next(ctx)
					if err != nil {
						if errors.Is(err, io.EOF) || ctx.Err() != nil {
							if n := sub.Dropped(); n > 0 {
								a.logger.Warn("slow reader dropped log lines", "dropped", n)
							}
							return nil
						}
						return err
					}
					fmt.Fprintln(c.out, line)
				}
			})
		},
	}
}

func (c *cli) newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile pass and report what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				report, err := a.orch.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				if c.jsonOutput {
					if report.Entries == nil {
						report.Entries = []orchestrator.ReportEntry{}
					}
					return writeJSON(c.out, report)
				}
				renderReport(c.out, report)
				return nil
			})
		},
	}
}

func (c *cli) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that Docker and the database are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				fmt.Fprintf(c.out, "database: ok (%s)\n", c.cfg.Database.Path)

				networks, err := a.orch.ListNetworks(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "networks: %d\n", len(networks))
				fmt.Fprintf(c.out, "reserved ports: %d\n", len(a.orch.Allocator().Reserved()))

				if err := a.orch.CheckRuntime(cmd.Context()); err != nil {
					fmt.Fprintln(c.out, "docker: unreachable")
					return err
				}
				fmt.Fprintln(c.out, "docker: ok")
				return nil
			})
		},
	}
}
