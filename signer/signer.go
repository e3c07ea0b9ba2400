// Package signer provides the Ed25519 signature service consumed by
// the replica core: signing outbound envelopes and verifying inbound
// ones against a static replica-id-to-public-key map.
package signer

import (
	"crypto/ed25519"
	"fmt"

	"pbftkv/message"
)

// Signer signs outbound payloads and verifies inbound envelopes. The
// replica core never inspects key material directly — it only calls
// Sign and Verify.
type Signer interface {
	// Sign serializes payload canonically and signs it with the local
	// private key.
	Sign(payload interface{}) (signature []byte, err error)

	// Verify looks up env.SignerID in the static peer-key map and
	// checks the signature over env.Payload. It returns false on any
	// failure: unknown signer, bad signature.
	Verify(env message.Envelope) bool
}

// Ed25519Signer is the reference Signer implementation.
type Ed25519Signer struct {
	selfID     uint64
	privateKey ed25519.PrivateKey
	peerKeys   map[uint64]ed25519.PublicKey
}

// NewEd25519Signer builds a signer for selfID, holding priv as the
// local signing key and peerKeys as the static verification map
// (which MUST include selfID's own public key so the replica can
// verify envelopes it receives that were signed by itself, e.g. its
// own Prepare echoed back by a relay).
func NewEd25519Signer(selfID uint64, priv ed25519.PrivateKey, peerKeys map[uint64]ed25519.PublicKey) *Ed25519Signer {
	return &Ed25519Signer{selfID: selfID, privateKey: priv, peerKeys: peerKeys}
}

// Sign implements Signer.
func (s *Ed25519Signer) Sign(payload interface{}) ([]byte, error) {
	b, err := message.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	return ed25519.Sign(s.privateKey, b), nil
}

// Verify implements Signer.
func (s *Ed25519Signer) Verify(env message.Envelope) bool {
	pub, ok := s.peerKeys[env.SignerID]
	if !ok {
		return false
	}
	return ed25519.Verify(pub, env.Payload, env.Signature)
}

// SelfID returns the identity this signer signs as.
func (s *Ed25519Signer) SelfID() uint64 {
	return s.selfID
}

// Seal builds a signed Envelope of the given Kind around payload,
// serializing payload, signing the serialized bytes, and wrapping
// everything up as the wire Envelope.
func Seal(s Signer, selfID uint64, kind message.Kind, payload interface{}) (message.Envelope, error) {
	body, err := message.Marshal(payload)
	if err != nil {
		return message.Envelope{}, fmt.Errorf("signer: seal: %w", err)
	}
	sig, err := s.Sign(payload)
	if err != nil {
		return message.Envelope{}, fmt.Errorf("signer: seal: %w", err)
	}
	return message.Envelope{
		Kind:      kind,
		SignerID:  selfID,
		Signature: sig,
		Payload:   body,
	}, nil
}
