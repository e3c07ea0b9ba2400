package transport

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/netutil"

	"pbftkv/message"
)

// maxInboundConns bounds concurrent accepted connections on a replica
// listener (peers plus clients); it exists to keep a single slow or
// malicious connection from exhausting file descriptors.
const maxInboundConns = 256

// TCPTransport is the real network Broadcaster/Transport (C3): a
// persistent dialed session to every peer replica, an accept loop for
// inbound peer and client connections, and a registry of client
// sessions, keyed by the signer id of the last Request read on each,
// used to deliver Replies; entries stay until Close.
type TCPTransport struct {
	selfID uint32
	peers  map[uint32]string // replica id -> dial address, excludes self
	listen net.Listener
	inbox  chan message.Envelope

	mu          sync.RWMutex
	peerConns   map[uint32]*session
	clientConns map[uint64]*session

	quit     chan struct{}
	closeOne sync.Once
}

// NewTCPTransport starts listening on listenAddr and returns a
// transport ready to Broadcast/SendTo once the caller starts Accept
// (typically from bootstrap, in its own goroutine).
func NewTCPTransport(selfID uint32, listenAddr string, peers map[uint32]string) (*TCPTransport, error) {
	raw, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", listenAddr, err)
	}
	limited := netutil.LimitListener(raw, maxInboundConns)

	return &TCPTransport{
		selfID:      selfID,
		peers:       peers,
		listen:      limited,
		inbox:       make(chan message.Envelope, 256),
		peerConns:   make(map[uint32]*session),
		clientConns: make(map[uint64]*session),
		quit:        make(chan struct{}),
	}, nil
}

// Inbox is the channel replica.Run should drain.
func (t *TCPTransport) Inbox() <-chan message.Envelope { return t.inbox }

// Accept runs the inbound connection loop until Close is called. It
// must be started in its own goroutine by the caller.
func (t *TCPTransport) Accept() {
	for {
		conn, err := t.listen.Accept()
		if err != nil {
			select {
			case <-t.quit:
				return
			default:
				log.Printf("transport %d: accept: %v", t.selfID, err)
				continue
			}
		}
		go t.serveInbound(conn)
	}
}

func (t *TCPTransport) serveInbound(conn net.Conn) {
	connID := uuid.New().String()
	sess, err := newSession(conn, false)
	if err != nil {
		log.Printf("transport %d: conn %s: handshake: %v", t.selfID, connID, err)
		conn.Close()
		return
	}

	for {
		env, err := sess.ReadEnvelope()
		if err != nil {
			log.Printf("transport %d: conn %s: closed: %v", t.selfID, connID, err)
			sess.Close()
			return
		}

		if env.Kind == message.KindRequest {
			t.mu.Lock()
			t.clientConns[env.SignerID] = sess
			t.mu.Unlock()
		}

		select {
		case t.inbox <- env:
		case <-t.quit:
			sess.Close()
			return
		}
	}
}

// getOrDialPeer returns a cached outbound session to a replica peer,
// dialing and handshaking lazily on first use.
func (t *TCPTransport) getOrDialPeer(id uint32) (*session, error) {
	t.mu.RLock()
	if s, ok := t.peerConns[id]; ok {
		t.mu.RUnlock()
		return s, nil
	}
	t.mu.RUnlock()

	addr, ok := t.peers[id]
	if !ok {
		return nil, fmt.Errorf("transport: no address for peer %d", id)
	}
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("transport: dial peer %d at %s: %w", id, addr, err)
	}
	sess, err := newSession(conn, true)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: handshake with peer %d: %w", id, err)
	}

	t.mu.Lock()
	t.peerConns[id] = sess
	t.mu.Unlock()
	return sess, nil
}

// dropPeer forgets a cached connection so the next send redials.
func (t *TCPTransport) dropPeer(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peerConns, id)
}

// Broadcast implements replica.Broadcaster: best-effort fan-out to
// every peer. A single peer's send failure is logged and does not
// stop delivery to the rest, matching the protocol's reliance on
// resends rather than guaranteed delivery (spec §4.4.8).
func (t *TCPTransport) Broadcast(env message.Envelope) error {
	var firstErr error
	for id := range t.peers {
		sess, err := t.getOrDialPeer(id)
		if err != nil {
			log.Printf("transport %d: broadcast to %d: %v", t.selfID, id, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := sess.WriteEnvelope(env); err != nil {
			log.Printf("transport %d: send to %d: %v", t.selfID, id, err)
			t.dropPeer(id)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SendTo implements replica.Broadcaster's point-to-point half, used
// only for Reply delivery. If id names a known peer replica it is
// routed like Broadcast; otherwise it is looked up among recently
// accepted client connections, and an error is returned if none is
// tracked.
func (t *TCPTransport) SendTo(id uint64, env message.Envelope) error {
	if sess, ok := t.peerConns[uint32(id)]; ok {
		return sess.WriteEnvelope(env)
	}
	if _, ok := t.peers[uint32(id)]; ok {
		sess, err := t.getOrDialPeer(uint32(id))
		if err != nil {
			return err
		}
		return sess.WriteEnvelope(env)
	}

	t.mu.Lock()
	sess, ok := t.clientConns[id]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no connection tracked for client %d", id)
	}
	return sess.WriteEnvelope(env)
}

// Close shuts down the listener and every cached connection.
func (t *TCPTransport) Close() error {
	t.closeOne.Do(func() { close(t.quit) })
	err := t.listen.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.peerConns {
		s.Close()
	}
	for _, s := range t.clientConns {
		s.Close()
	}
	return err
}
