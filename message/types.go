// Package message defines the wire types of the PBFT protocol: the
// client Request, the three agreement-phase messages, the Reply, and
// the signed envelope that carries all of them. Every type here is a
// plain struct with exported fields so it can round-trip through the
// canonical gob codec in codec.go.
package message

// Request is a client operation submitted for total ordering.
// Timestamp is client-chosen and must be unique per client; it is the
// at-most-once replay-dedup key.
type Request struct {
	Operation []byte
	Timestamp uint64
	ClientID  uint64
}

// Digest binds a PrePrepare/Prepare/Commit to a single Request body.
type Digest [32]byte

// PrePrepare is broadcast by the primary to assign a sequence number
// to a Request.
type PrePrepare struct {
	View    uint64
	Seq     uint64
	Digest  Digest
	Request Request
}

// Prepare is broadcast by a replica once it accepts a PrePrepare.
type Prepare struct {
	View      uint64
	Seq       uint64
	Digest    Digest
	ReplicaID uint32
}

// Commit is broadcast by a replica once it has prepared.
type Commit struct {
	View      uint64
	Seq       uint64
	Digest    Digest
	ReplicaID uint32
}

// Reply carries the execution result back to the client. Sending it
// is best-effort and not required for core agreement (spec §9).
type Reply struct {
	View      uint64
	Timestamp uint64
	ClientID  uint64
	ReplicaID uint32
	Result    []byte
}

// Kind tags which variant an Envelope carries.
type Kind uint8

const (
	KindRequest Kind = iota
	KindPrePrepare
	KindPrepare
	KindCommit
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindPrePrepare:
		return "PrePrepare"
	case KindPrepare:
		return "Prepare"
	case KindCommit:
		return "Commit"
	case KindReply:
		return "Reply"
	default:
		return "Unknown"
	}
}

// Envelope is the signed wrapper every protocol message travels in.
// Signature is computed over the canonical serialization of Payload
// alone (see codec.go); SignerID identifies the signing key, which is
// a replica id for every Kind except KindRequest, where it is the
// client id.
type Envelope struct {
	Kind      Kind
	SignerID  uint64
	Signature []byte
	Payload   []byte // canonical serialization of the Kind's payload type
}
