package transport

import (
	"fmt"
	"net"
	"time"

	"pbftkv/message"
)

// ClientSession is the thin encrypted-session handle the client
// binary uses to submit a Request and collect Replies, without
// pulling in the full TCPTransport peer/accept machinery a replica
// needs.
type ClientSession struct {
	sess *session
}

// DialReplica opens an encrypted session to a single replica address.
func DialReplica(addr string) (*ClientSession, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	sess, err := newSession(conn, true)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: handshake with %s: %w", addr, err)
	}
	return &ClientSession{sess: sess}, nil
}

// Send writes one envelope, e.g. a signed Request.
func (c *ClientSession) Send(env message.Envelope) error {
	return c.sess.WriteEnvelope(env)
}

// Recv blocks for the next envelope, e.g. a Reply.
func (c *ClientSession) Recv() (message.Envelope, error) {
	return c.sess.ReadEnvelope()
}

// Close closes the underlying connection.
func (c *ClientSession) Close() error {
	return c.sess.Close()
}
