package transport

import (
	"math/rand"
	"sync"
	"time"

	"pbftkv/message"
)

// MemoryNetwork is a shared, in-process stand-in for the network
// connecting every MemoryTransport in a test cluster. It is the
// deterministic-transport requirement of spec §8: delivery can be
// delayed, dropped, or reordered under an explicit, seeded policy
// instead of relying on real scheduling jitter.
type MemoryNetwork struct {
	mu    sync.Mutex
	nodes map[uint32]chan message.Envelope
	rng   *rand.Rand

	dropRate   float64
	maxDelay   time.Duration
	reorderMax int
}

// NewMemoryNetwork creates a network with no induced faults. Use the
// With* setters to opt into drop/delay/reorder behavior for a test.
func NewMemoryNetwork(seed int64) *MemoryNetwork {
	return &MemoryNetwork{
		nodes: make(map[uint32]chan message.Envelope),
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// WithDropRate causes a fraction of sends (0..1) to be silently lost.
func (n *MemoryNetwork) WithDropRate(rate float64) *MemoryNetwork {
	n.dropRate = rate
	return n
}

// WithMaxDelay causes each delivered send to be scheduled after a
// random delay in [0, max).
func (n *MemoryNetwork) WithMaxDelay(max time.Duration) *MemoryNetwork {
	n.maxDelay = max
	return n
}

func (n *MemoryNetwork) register(id uint32) chan message.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch := make(chan message.Envelope, 256)
	n.nodes[id] = ch
	return ch
}

func (n *MemoryNetwork) deliver(to uint32, env message.Envelope) {
	n.mu.Lock()
	ch, ok := n.nodes[to]
	roll := n.rng.Float64()
	var delay time.Duration
	if n.maxDelay > 0 {
		delay = time.Duration(n.rng.Int63n(int64(n.maxDelay)))
	}
	n.mu.Unlock()

	if !ok || roll < n.dropRate {
		return
	}

	if delay == 0 {
		select {
		case ch <- env:
		default:
		}
		return
	}
	time.AfterFunc(delay, func() {
		select {
		case ch <- env:
		default:
		}
	})
}

// MemoryTransport is one node's handle onto a MemoryNetwork. It
// implements the same Broadcaster contract as TCPTransport.
type MemoryTransport struct {
	selfID uint32
	peers  []uint32
	net    *MemoryNetwork
	inbox  chan message.Envelope
}

// NewMemoryTransport registers node selfID on net, with peers listing
// every other replica id in the cluster.
func NewMemoryTransport(net *MemoryNetwork, selfID uint32, peers []uint32) *MemoryTransport {
	return &MemoryTransport{
		selfID: selfID,
		peers:  peers,
		net:    net,
		inbox:  net.register(selfID),
	}
}

func (t *MemoryTransport) Inbox() <-chan message.Envelope { return t.inbox }

func (t *MemoryTransport) Broadcast(env message.Envelope) error {
	for _, id := range t.peers {
		t.net.deliver(id, env)
	}
	return nil
}

func (t *MemoryTransport) SendTo(id uint64, env message.Envelope) error {
	t.net.deliver(uint32(id), env)
	return nil
}
