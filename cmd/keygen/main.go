// Command keygen idempotently generates an Ed25519 key pair for every
// node and client identity named in a cluster config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pbftkv/membership"
	"pbftkv/signer"
)

var clusterPath string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate key pairs for every id in a cluster config",
	Long:  `keygen writes an Ed25519 key pair under keys_dir for every node and client id in --cluster, skipping ids that already have one.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cluster, err := membership.Load(clusterPath)
		if err != nil {
			return err
		}

		for _, id := range cluster.AllSignerIDs() {
			skipped, err := signer.WriteKeyPair(cluster.KeysDir, id)
			if err != nil {
				return fmt.Errorf("generate key for id %d: %w", id, err)
			}
			if skipped {
				fmt.Printf("id %d: key pair already exists, skipped\n", id)
			} else {
				fmt.Printf("id %d: key pair generated\n", id)
			}
		}
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&clusterPath, "cluster", "cluster.yaml", "path to cluster membership config")
}

func main() {
	if err := keygenCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
