// Package integration drives a full four-node cluster over
// transport.MemoryTransport and package replica's real event loop,
// exercising the happy path, tolerating one silent replica, and
// progress under a lossy network with repeated client submissions.
package integration

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pbftkv/kvstore"
	"pbftkv/message"
	"pbftkv/replica"
	"pbftkv/signer"
	"pbftkv/transport"
)

const testClientID uint64 = 1000

type testCluster struct {
	net      *transport.MemoryNetwork
	replicas map[uint32]*replica.Replica
	stores   map[uint32]*kvstore.Store
	client   signer.Signer
	cancel   context.CancelFunc
}

func newTestCluster(t *testing.T, n int, netOpts func(*transport.MemoryNetwork) *transport.MemoryNetwork, silent ...uint32) *testCluster {
	t.Helper()
	silentSet := make(map[uint32]bool, len(silent))
	for _, id := range silent {
		silentSet[id] = true
	}

	pubs := make(map[uint64]ed25519.PublicKey)
	privs := make(map[uint64]ed25519.PrivateKey)
	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		pubs[uint64(i)] = pub
		privs[uint64(i)] = priv
	}
	clientPub, clientPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubs[testClientID] = clientPub
	privs[testClientID] = clientPriv

	net := transport.NewMemoryNetwork(42)
	if netOpts != nil {
		net = netOpts(net)
	}

	tc := &testCluster{net: net, replicas: make(map[uint32]*replica.Replica), stores: make(map[uint32]*kvstore.Store)}
	peerIDs := make([]uint32, n)
	for i := 0; i < n; i++ {
		peerIDs[i] = uint32(i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	tc.cancel = cancel

	for i := 0; i < n; i++ {
		id := uint32(i)
		others := make([]uint32, 0, n-1)
		for _, p := range peerIDs {
			if p != id {
				others = append(others, p)
			}
		}
		tr := transport.NewMemoryTransport(net, id, others)
		s := signer.NewEd25519Signer(uint64(id), privs[uint64(id)], pubs)
		store := kvstore.New()
		r, err := replica.New(replica.Config{NodeID: id, N: n}, store, s, tr)
		require.NoError(t, err)

		tc.replicas[id] = r
		tc.stores[id] = store
		if !silentSet[id] {
			go r.Run(ctx, tr.Inbox())
		}
	}

	tc.client = signer.NewEd25519Signer(testClientID, privs[testClientID], pubs)
	return tc
}

func (tc *testCluster) submit(t *testing.T, timestamp uint64, op string) {
	t.Helper()
	req := message.Request{Operation: []byte(op), Timestamp: timestamp, ClientID: testClientID}
	env, err := signer.Seal(tc.client, testClientID, message.KindRequest, req)
	require.NoError(t, err)

	primary := tc.primary()
	tc.replicas[primary].Admit(env)
}

func (tc *testCluster) primary() uint32 {
	for id, r := range tc.replicas {
		if r.IsPrimary() {
			return id
		}
	}
	return 0
}

func (tc *testCluster) close() { tc.cancel() }

func eventuallyAllExecuted(t *testing.T, tc *testCluster, seq uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		allDone := true
		for _, r := range tc.replicas {
			if r.LastExecuted() < seq {
				allDone = false
				break
			}
		}
		if allDone {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("not all replicas reached seq %d in time", seq)
}

func TestFourNodeClusterCommitsUnderReliableNetwork(t *testing.T) {
	tc := newTestCluster(t, 4, nil)
	defer tc.close()

	tc.submit(t, 1, "PUT:x:42")
	eventuallyAllExecuted(t, tc, 1)

	for id, store := range tc.stores {
		assert.Equal(t, []byte("42"), store.Execute([]byte("GET:x")), "replica %d", id)
	}
}

func TestClusterToleratesOneSilentReplica(t *testing.T) {
	// Node 3 never runs its event loop, modeling a crashed or
	// non-responsive replica. With N=4, f=1, the remaining 3 correct
	// replicas must still reach agreement without it.
	const silentNode uint32 = 3
	tc := newTestCluster(t, 4, nil, silentNode)
	defer tc.close()

	tc.submit(t, 1, "PUT:y:7")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		allDone := true
		for id, r := range tc.replicas {
			if id == silentNode {
				continue
			}
			if r.LastExecuted() < 1 {
				allDone = false
			}
		}
		if allDone {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	for id, r := range tc.replicas {
		if id == silentNode {
			continue
		}
		assert.GreaterOrEqual(t, r.LastExecuted(), uint64(1), "replica %d", id)
	}
}

func TestClusterMakesProgressUnderLossyNetwork(t *testing.T) {
	tc := newTestCluster(t, 4, func(n *transport.MemoryNetwork) *transport.MemoryNetwork {
		return n.WithDropRate(0.2)
	})
	defer tc.close()

	// Resubmitting the same operation multiple times (as a real client
	// would on timeout) must still converge to exactly one execution,
	// exercising both loss-tolerance and at-most-once dedup together.
	for i := 0; i < 5; i++ {
		tc.submit(t, 1, "PUT:z:1")
	}
	eventuallyAllExecuted(t, tc, 1)

	for id, store := range tc.stores {
		assert.Equal(t, []byte("1"), store.Execute([]byte("GET:z")), "replica %d", id)
	}
}
