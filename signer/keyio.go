package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

// KeyPaths returns the conventional private/public key file paths for
// a replica id under keysDir, per spec §6:
// <keys_dir>/node_<id>.key (PKCS#8 DER) and node_<id>.pub (raw 32-byte
// Ed25519 public key).
func KeyPaths(keysDir string, id uint64) (privPath, pubPath string) {
	return filepath.Join(keysDir, fmt.Sprintf("node_%d.key", id)),
		filepath.Join(keysDir, fmt.Sprintf("node_%d.pub", id))
}

// LoadPrivateKey reads and parses a PKCS#8 DER-encoded Ed25519 private
// key. Missing or malformed files are fatal to the caller's startup
// sequence (spec §6: "Missing files are fatal at startup").
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read private key %s: %w", path, err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("signer: parse private key %s: %w", path, err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signer: %s is not an Ed25519 private key", path)
	}
	return priv, nil
}

// LoadPublicKey reads a raw 32-byte Ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read public key %s: %w", path, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signer: %s: expected %d bytes, got %d", path, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// LoadPeerKeys loads the public key of every replica in ids (typically
// [0, N)) from keysDir, keyed by replica id.
func LoadPeerKeys(keysDir string, ids []uint64) (map[uint64]ed25519.PublicKey, error) {
	out := make(map[uint64]ed25519.PublicKey, len(ids))
	for _, id := range ids {
		_, pubPath := KeyPaths(keysDir, id)
		pub, err := LoadPublicKey(pubPath)
		if err != nil {
			return nil, err
		}
		out[id] = pub
	}
	return out, nil
}

// GenerateKeyPair creates a new Ed25519 key pair, PKCS#8-DER-encoding
// the private half, for the keygen CLI and for ad-hoc client
// identities.
func GenerateKeyPair() (priv ed25519.PrivateKey, pub ed25519.PublicKey, pkcs8 []byte, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("signer: generate key pair: %w", err)
	}
	pkcs8, err = x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("signer: marshal pkcs8: %w", err)
	}
	return priv, pub, pkcs8, nil
}

// WriteKeyPair writes the PKCS#8 private key and raw public key for
// replica id to keysDir, creating the directory if needed. It is
// idempotent: if both files already exist, it does nothing and
// reports that it skipped.
func WriteKeyPair(keysDir string, id uint64) (skipped bool, err error) {
	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return false, fmt.Errorf("signer: create keys dir: %w", err)
	}

	privPath, pubPath := KeyPaths(keysDir, id)
	if _, err := os.Stat(privPath); err == nil {
		if _, err := os.Stat(pubPath); err == nil {
			return true, nil
		}
	}

	_, pub, pkcs8, err := GenerateKeyPair()
	if err != nil {
		return false, err
	}

	if err := os.WriteFile(privPath, pkcs8, 0o600); err != nil {
		return false, fmt.Errorf("signer: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pub, 0o644); err != nil {
		return false, fmt.Errorf("signer: write public key: %w", err)
	}
	return false, nil
}
