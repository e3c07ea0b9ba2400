// Command replica runs one PBFT cluster member: it loads the cluster
// config and its own key pair, connects to every peer, and serves
// client requests until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"pbftkv/bootstrap"
	"pbftkv/membership"
	"pbftkv/status"
)

var (
	clusterPath string
	statusAddr  string
)

var replicaCmd = &cobra.Command{
	Use:   "replica <node_id>",
	Short: "Run one node of a PBFT cluster",
	Long:  `replica starts a single PBFT replica, loading cluster membership and keys from --cluster.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid node id %q: %w", args[0], err)
		}

		cluster, err := membership.Load(clusterPath)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		node, err := bootstrap.Start(ctx, cluster, uint32(id))
		if err != nil {
			return err
		}
		defer node.Close()

		if statusAddr != "" {
			srv := status.NewServer(node.Replica, node.Store)
			go func() {
				if err := srv.ListenAndServe(statusAddr); err != nil {
					fmt.Fprintf(os.Stderr, "status feed stopped: %v\n", err)
				}
			}()
			defer srv.Close()
		}

		node.Run(ctx)
		return nil
	},
}

func init() {
	replicaCmd.Flags().StringVar(&clusterPath, "cluster", "cluster.yaml", "path to cluster membership config")
	replicaCmd.Flags().StringVar(&statusAddr, "status-addr", "", "if set, serve a read-only status feed on this address")
}

func main() {
	if err := replicaCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
