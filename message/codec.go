package message

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// Marshal produces the canonical serialization used for both signing
// and digesting. encoding/gob is deterministic for a fixed type across
// runs of the same binary (the wire stream embeds the type descriptor
// itself), which is sufficient here: every replica in the cluster runs
// the same build, and the wire format never needs to cross a language
// boundary. Producers and consumers of a given Kind MUST use this
// function and its matching Unmarshal — never a different encoding.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("message: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes bytes produced by Marshal into v, which must be a
// pointer to the same concrete type that was encoded.
func Unmarshal(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("message: unmarshal: %w", err)
	}
	return nil
}

// Decode is a typed convenience wrapper over Unmarshal.
func Decode[T any](data []byte) (T, error) {
	var v T
	err := Unmarshal(data, &v)
	return v, err
}

// DigestRequest computes the 32-byte SHA-256 digest over the canonical
// serialization of a Request. It binds PrePrepare/Prepare/Commit to a
// single request body.
func DigestRequest(r Request) (Digest, error) {
	b, err := Marshal(r)
	if err != nil {
		return Digest{}, err
	}
	return sha256.Sum256(b), nil
}

// WriteFrame writes one length-prefixed frame: a 4-byte big-endian
// length followed by the gob-serialized Envelope.
func WriteFrame(w io.Writer, env Envelope) error {
	body, err := Marshal(env)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("message: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("message: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes it into an
// Envelope.
func ReadFrame(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("message: read frame body: %w", err)
	}
	var env Envelope
	if err := Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
