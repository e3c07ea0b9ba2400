// Package bootstrap wires membership, signer, transport, kvstore, and
// replica together into a running node, mirroring the startup
// sequence of the original binary (C7): load config, load keys, start
// listening, connect out to every peer with bounded retries, then
// hand off to the replica's event loop.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"pbftkv/kvstore"
	"pbftkv/membership"
	"pbftkv/replica"
	"pbftkv/signer"
	"pbftkv/transport"
)

// peerDialRetries and peerDialBackoff mirror the original's five
// attempts, two seconds apart.
const (
	peerDialRetries = 5
	peerDialBackoff = 2 * time.Second
)

// Node bundles everything a running replica process owns.
type Node struct {
	Replica   *replica.Replica
	Transport *transport.TCPTransport
	Store     *kvstore.Store
}

// Start loads keys and config for nodeID from cluster, listens, waits
// for peers to become reachable, and returns a Node whose Run method
// drives the replica's event loop. It does not block.
func Start(ctx context.Context, cluster membership.ClusterConfig, nodeID uint32) (*Node, error) {
	addr, ok := cluster.Addr(nodeID)
	if !ok {
		return nil, fmt.Errorf("bootstrap: node %d not in cluster config", nodeID)
	}

	priv, err := signer.LoadPrivateKey(privPath(cluster, nodeID))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load private key: %w", err)
	}
	peerKeys, err := signer.LoadPeerKeys(cluster.KeysDir, cluster.AllSignerIDs())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load peer keys: %w", err)
	}
	s := signer.NewEd25519Signer(uint64(nodeID), priv, peerKeys)

	peers := cluster.PeerAddrs(nodeID)
	tr, err := transport.NewTCPTransport(nodeID, addr, peers)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: start transport: %w", err)
	}
	go tr.Accept()
	log.Printf("node %d listening on %s", nodeID, addr)

	log.Printf("node %d connecting to peers...", nodeID)
	for id, peerAddr := range peers {
		if err := dialWithRetry(peerAddr); err != nil {
			tr.Close()
			return nil, fmt.Errorf("bootstrap: peer %d at %s unreachable: %w", id, peerAddr, err)
		}
		log.Printf("node %d connected to peer %d", nodeID, id)
	}

	store := kvstore.New()
	r, err := replica.New(replica.Config{NodeID: nodeID, N: cluster.N()}, store, s, tr)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("bootstrap: construct replica: %w", err)
	}

	log.Printf("node %d ready (primary: %v)", nodeID, r.IsPrimary())

	return &Node{Replica: r, Transport: tr, Store: store}, nil
}

// Run drains the transport inbox into the replica until ctx is done.
func (n *Node) Run(ctx context.Context) {
	n.Replica.Run(ctx, n.Transport.Inbox())
}

// Close releases the node's transport resources.
func (n *Node) Close() error {
	return n.Transport.Close()
}

func privPath(cluster membership.ClusterConfig, id uint32) string {
	priv, _ := signer.KeyPaths(cluster.KeysDir, uint64(id))
	return priv
}

// dialWithRetry probes a TCP address, matching the original's
// bounded-retry peer connection loop.
func dialWithRetry(addr string) error {
	var lastErr error
	for attempt := peerDialRetries; attempt > 0; attempt-- {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
		if attempt > 1 {
			log.Printf("bootstrap: retrying %s (%d attempts left): %v", addr, attempt-1, err)
			time.Sleep(peerDialBackoff)
		}
	}
	return fmt.Errorf("bootstrap: exhausted retries dialing %s: %w", addr, lastErr)
}
