// Package transport implements the wire-level peer-to-peer and
// client-facing transport (C3): a length-prefixed, encrypted TCP
// session carrying signed message.Envelope values, plus a deterministic
// in-memory Transport used by tests (spec §8's testability requirement).
//
// The session encryption here (X25519 + secretbox, C8) is a
// confidentiality layer over the wire only. It is never a substitute
// for the Ed25519 envelope signatures the replica core checks in
// signer.Verify — a compromised session key lets an attacker read
// traffic, not forge protocol messages.
package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/secretbox"

	"pbftkv/message"
)

const nonceSize = 24

// session wraps a net.Conn in an encrypted, length-prefixed channel of
// message.Envelope values. Keys are ephemeral per-connection: every
// dial and every accept performs a fresh X25519 exchange.
type session struct {
	conn net.Conn
	key  [32]byte
}

func newSession(conn net.Conn, initiator bool) (*session, error) {
	var selfSecret, selfPublic [32]byte
	if _, err := rand.Read(selfSecret[:]); err != nil {
		return nil, fmt.Errorf("transport: generate ephemeral key: %w", err)
	}
	curve25519.ScalarBaseMult(&selfPublic, &selfSecret)

	var peerPublic [32]byte
	if initiator {
		if err := writeFrame(conn, selfPublic[:]); err != nil {
			return nil, fmt.Errorf("transport: send handshake: %w", err)
		}
		peerBytes, err := readFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("transport: receive handshake: %w", err)
		}
		copy(peerPublic[:], peerBytes)
	} else {
		peerBytes, err := readFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("transport: receive handshake: %w", err)
		}
		copy(peerPublic[:], peerBytes)
		if err := writeFrame(conn, selfPublic[:]); err != nil {
			return nil, fmt.Errorf("transport: send handshake: %w", err)
		}
	}

	shared, err := curve25519.X25519(selfSecret[:], peerPublic[:])
	if err != nil {
		return nil, fmt.Errorf("transport: derive shared secret: %w", err)
	}
	return &session{conn: conn, key: sha256.Sum256(shared)}, nil
}

// WriteEnvelope encrypts and frames env onto the wire.
func (s *session) WriteEnvelope(env message.Envelope) error {
	plaintext, err := message.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("transport: nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)
	return writeFrame(s.conn, sealed)
}

// ReadEnvelope blocks for the next envelope on the session.
func (s *session) ReadEnvelope() (message.Envelope, error) {
	sealed, err := readFrame(s.conn)
	if err != nil {
		return message.Envelope{}, err
	}
	if len(sealed) < nonceSize {
		return message.Envelope{}, fmt.Errorf("transport: short frame")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return message.Envelope{}, fmt.Errorf("transport: decrypt failed")
	}

	var env message.Envelope
	if err := message.Unmarshal(plaintext, &env); err != nil {
		return message.Envelope{}, fmt.Errorf("transport: unmarshal envelope: %w", err)
	}
	return env, nil
}

func (s *session) Close() error { return s.conn.Close() }

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
