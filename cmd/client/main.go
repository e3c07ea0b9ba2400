// Command client submits one operation to a PBFT cluster's primary
// and prints the resulting Reply, if one arrives before the timeout.
package main

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pbftkv/membership"
	"pbftkv/message"
	"pbftkv/signer"
	"pbftkv/transport"
)

var (
	clusterPath string
	clientID    uint64
	timeout     time.Duration
)

var clientCmd = &cobra.Command{
	Use:   "client <operation>",
	Short: "Submit one operation to a PBFT cluster",
	Long:  `client sends a single signed Request to the cluster's current primary and waits for a Reply.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		operation := args[0]

		cluster, err := membership.Load(clusterPath)
		if err != nil {
			return err
		}

		privPath, _ := signer.KeyPaths(cluster.KeysDir, clientID)
		priv, err := signer.LoadPrivateKey(privPath)
		if err != nil {
			return fmt.Errorf("load client key (run keygen first?): %w", err)
		}
		s := signer.NewEd25519Signer(clientID, priv, map[uint64]ed25519.PublicKey{})

		primaryID := uint32(0) // view 0: primary is node 0, per replica.primaryID
		addr, ok := cluster.Addr(primaryID)
		if !ok {
			return fmt.Errorf("cluster config has no address for primary node %d", primaryID)
		}

		sess, err := transport.DialReplica(addr)
		if err != nil {
			return err
		}
		defer sess.Close()

		req := message.Request{
			Operation: []byte(operation),
			Timestamp: uint64(time.Now().UnixNano()),
			ClientID:  clientID,
		}
		env, err := signer.Seal(s, clientID, message.KindRequest, req)
		if err != nil {
			return err
		}
		if err := sess.Send(env); err != nil {
			return fmt.Errorf("send request: %w", err)
		}

		done := make(chan struct{})
		var reply message.Reply
		var recvErr error
		go func() {
			defer close(done)
			var replyEnv message.Envelope
			replyEnv, recvErr = sess.Recv()
			if recvErr != nil {
				return
			}
			reply, recvErr = message.Decode[message.Reply](replyEnv.Payload)
		}()

		select {
		case <-done:
			if recvErr != nil {
				return fmt.Errorf("receive reply: %w", recvErr)
			}
			fmt.Printf("%s\n", reply.Result)
		case <-time.After(timeout):
			return fmt.Errorf("timed out waiting for reply after %v", timeout)
		}
		return nil
	},
}

func init() {
	clientCmd.Flags().StringVar(&clusterPath, "cluster", "cluster.yaml", "path to cluster membership config")
	clientCmd.Flags().Uint64Var(&clientID, "client-id", 1000, "client identity to sign as (must be in cluster.yaml client_ids)")
	clientCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a reply")
}

func main() {
	if err := clientCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
