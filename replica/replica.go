// Package replica implements the PBFT replica state machine: the
// three-phase Pre-Prepare/Prepare/Commit agreement protocol, its
// message log, quorum counting, digest binding, and the
// execute-in-sequence-number-order discipline. This is the core of
// the system (spec §1, §4.4); it is a single-owner state object with
// no internal locking (spec §5) — callers must drive it from one
// goroutine via Run or by calling Admit sequentially themselves.
package replica

import (
	"context"
	"fmt"
	"log"

	"pbftkv/message"
	"pbftkv/replicalog"
	"pbftkv/signer"
)

// Application is the deterministic byte-in/byte-out operation
// interpreter the replica executes committed requests against (C6).
type Application interface {
	Execute(operation []byte) []byte
}

// Broadcaster is the transport contract the core relies on (C3): a
// best-effort fan-out to every connected peer, and a best-effort
// point-to-point send used only for the optional client Reply. Errors
// are never fatal to the core — per spec §4.4.8 a transport send
// error just means the protocol progresses via peer/client resends.
type Broadcaster interface {
	Broadcast(env message.Envelope) error
	SendTo(id uint64, env message.Envelope) error
}

// Config fixes the cluster shape a Replica is built for.
type Config struct {
	NodeID uint32
	N      int    // cluster size; must be >= 4 and N % 3 == 1
	View   uint64 // spec: view remains 0 in this spec, but is carried
}

// F returns the maximum number of tolerated Byzantine replicas for N.
func (c Config) F() int {
	return (c.N - 1) / 3
}

// Validate checks the N >= 4, N = 3f+1 constraint from spec §3.
func (c Config) Validate() error {
	if c.N < 4 {
		return fmt.Errorf("replica: cluster size N=%d must be >= 4", c.N)
	}
	if (c.N-1)%3 != 0 {
		return fmt.Errorf("replica: cluster size N=%d must satisfy N = 3f+1", c.N)
	}
	if int(c.NodeID) >= c.N {
		return fmt.Errorf("replica: node id %d out of range [0,%d)", c.NodeID, c.N)
	}
	return nil
}

// Replica is the single-owner PBFT state machine for one cluster
// member.
type Replica struct {
	nodeID uint32
	n      int
	f      int
	view   uint64

	nextSeqNum uint64 // primary-only; unused on backups

	log                *replicalog.Log
	executedTimestamps map[uint64]struct{}
	lastExecuted       uint64

	app    Application
	signer signer.Signer
	out    Broadcaster
}

// New builds a Replica. cfg must satisfy cfg.Validate().
func New(cfg Config, app Application, s signer.Signer, out Broadcaster) (*Replica, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Replica{
		nodeID:             cfg.NodeID,
		n:                  cfg.N,
		f:                  cfg.F(),
		view:               cfg.View,
		nextSeqNum:         1,
		log:                replicalog.New(),
		executedTimestamps: make(map[uint64]struct{}),
		app:                app,
		signer:             s,
		out:                out,
	}, nil
}

// primaryID returns the replica id of the primary of the current view.
func (r *Replica) primaryID() uint32 {
	return uint32(r.view % uint64(r.n))
}

// IsPrimary reports whether this replica is the primary of the
// current view.
func (r *Replica) IsPrimary() bool {
	return r.nodeID == r.primaryID()
}

// View returns the current view number.
func (r *Replica) View() uint64 { return r.view }

// LastExecuted returns the highest sequence number executed so far.
func (r *Replica) LastExecuted() uint64 { return r.lastExecuted }

// Run drains inbox until ctx is cancelled, admitting one message at a
// time. This is the cooperative event loop of spec §5: the only
// suspension points are waiting on inbox and waiting for a broadcast
// send to complete inside a handler, and no await happens while the
// log is mid-mutation.
func (r *Replica) Run(ctx context.Context, inbox <-chan message.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			r.Admit(env)
		}
	}
}

// Admit is the admission entrypoint (spec §4.4.1): verify the
// envelope's signature, then dispatch on its Kind. Any failure drops
// the message silently.
func (r *Replica) Admit(env message.Envelope) {
	if !r.signer.Verify(env) {
		log.Printf("replica %d: dropping %s from %d: bad signature", r.nodeID, env.Kind, env.SignerID)
		return
	}

	switch env.Kind {
	case message.KindRequest:
		req, err := message.Decode[message.Request](env.Payload)
		if err != nil {
			log.Printf("replica %d: dropping malformed Request: %v", r.nodeID, err)
			return
		}
		r.handleRequest(req)
	case message.KindPrePrepare:
		pp, err := message.Decode[message.PrePrepare](env.Payload)
		if err != nil {
			log.Printf("replica %d: dropping malformed PrePrepare: %v", r.nodeID, err)
			return
		}
		r.handlePrePrepare(pp, env.SignerID)
	case message.KindPrepare:
		p, err := message.Decode[message.Prepare](env.Payload)
		if err != nil {
			log.Printf("replica %d: dropping malformed Prepare: %v", r.nodeID, err)
			return
		}
		r.handlePrepare(p)
	case message.KindCommit:
		c, err := message.Decode[message.Commit](env.Payload)
		if err != nil {
			log.Printf("replica %d: dropping malformed Commit: %v", r.nodeID, err)
			return
		}
		r.handleCommit(c)
	default:
		log.Printf("replica %d: dropping envelope of unknown kind %d", r.nodeID, env.Kind)
	}
}

// handleRequest implements spec §4.4.2.
func (r *Replica) handleRequest(req message.Request) {
	if !r.IsPrimary() {
		return
	}
	if _, done := r.executedTimestamps[req.Timestamp]; done {
		return
	}

	n := r.nextSeqNum
	digest, err := message.DigestRequest(req)
	if err != nil {
		log.Printf("replica %d: digest request: %v", r.nodeID, err)
		return
	}

	pp := message.PrePrepare{View: r.view, Seq: n, Digest: digest, Request: req}
	env, err := signer.Seal(r.signer, uint64(r.nodeID), message.KindPrePrepare, pp)
	if err != nil {
		log.Printf("replica %d: seal pre-prepare: %v", r.nodeID, err)
		return
	}

	r.nextSeqNum++

	entry := r.log.Entry(n)
	entry.Request = &req
	entry.PrePrepare = &pp

	if err := r.out.Broadcast(env); err != nil {
		log.Printf("replica %d: broadcast pre-prepare: %v", r.nodeID, err)
	}
}

// handlePrePrepare implements spec §4.4.3.
func (r *Replica) handlePrePrepare(pp message.PrePrepare, signerID uint64) {
	if uint32(signerID) != r.primaryID() {
		log.Printf("replica %d: dropping pre-prepare from non-primary %d", r.nodeID, signerID)
		return
	}
	if pp.View != r.view {
		return
	}
	digest, err := message.DigestRequest(pp.Request)
	if err != nil || digest != pp.Digest {
		log.Printf("replica %d: dropping pre-prepare: digest mismatch", r.nodeID)
		return
	}
	if existing, ok := r.log.Peek(pp.Seq); ok && existing.PrePrepare != nil && existing.PrePrepare.Digest != pp.Digest {
		log.Printf("replica %d: dropping equivocating pre-prepare for seq %d", r.nodeID, pp.Seq)
		return
	}

	prepare := message.Prepare{View: r.view, Seq: pp.Seq, Digest: pp.Digest, ReplicaID: r.nodeID}
	env, err := signer.Seal(r.signer, uint64(r.nodeID), message.KindPrepare, prepare)
	if err != nil {
		log.Printf("replica %d: seal prepare: %v", r.nodeID, err)
		return
	}

	entry := r.log.Entry(pp.Seq)
	req := pp.Request
	entry.Request = &req
	entry.PrePrepare = &pp
	entry.AddPrepare(prepare)

	if err := r.out.Broadcast(env); err != nil {
		log.Printf("replica %d: broadcast prepare: %v", r.nodeID, err)
	}
}

// handlePrepare implements spec §4.4.4. Out-of-order Prepares that
// arrive before their PrePrepare are dropped rather than buffered (see
// DESIGN.md): the transport gives no cross-peer ordering guarantee
// already, so a correct peer whose Prepare is dropped here is relying
// on the same resend-on-progress behavior every other drop in this
// core relies on.
func (r *Replica) handlePrepare(p message.Prepare) {
	if p.View != r.view {
		return
	}

	entry, ok := r.log.Peek(p.Seq)
	if !ok || entry.PrePrepare == nil || entry.PrePrepare.Digest != p.Digest {
		return
	}

	if !entry.AddPrepare(p) {
		return
	}

	if entry.Prepared {
		return
	}
	if entry.MatchingPrepares(p.Digest) < 2*r.f {
		return
	}
	entry.Prepared = true

	if _, sent := entry.Commits[r.nodeID]; sent {
		return
	}

	commit := message.Commit{View: r.view, Seq: p.Seq, Digest: p.Digest, ReplicaID: r.nodeID}
	env, err := signer.Seal(r.signer, uint64(r.nodeID), message.KindCommit, commit)
	if err != nil {
		log.Printf("replica %d: seal commit: %v", r.nodeID, err)
		return
	}
	entry.AddCommit(commit)

	if err := r.out.Broadcast(env); err != nil {
		log.Printf("replica %d: broadcast commit: %v", r.nodeID, err)
	}

	// Commits recorded before this entry prepared are counted now;
	// handleCommit only rechecks when a further Commit arrives.
	if !entry.Committed && entry.MatchingCommits(p.Digest) >= 2*r.f+1 {
		entry.Committed = true
		r.tryExecuteUpTo(p.Seq)
	}
}

// handleCommit implements spec §4.4.5.
func (r *Replica) handleCommit(c message.Commit) {
	if c.View != r.view {
		return
	}

	entry, ok := r.log.Peek(c.Seq)
	if ok && entry.PrePrepare != nil && entry.PrePrepare.Digest != c.Digest {
		return
	}
	if !ok {
		// Commit referencing an unknown sequence number: buffer it in
		// a freshly created entry so a subsequent matching PrePrepare
		// can still see it counted.
		entry = r.log.Entry(c.Seq)
	}

	if !entry.AddCommit(c) {
		return
	}

	if entry.Committed {
		return
	}
	if !entry.Prepared {
		return
	}
	if entry.MatchingCommits(c.Digest) < 2*r.f+1 {
		return
	}
	entry.Committed = true

	r.tryExecuteUpTo(c.Seq)
}

// tryExecuteUpTo implements spec §4.4.6: execute every committed,
// not-yet-executed sequence number up to target, strictly in order,
// stopping at the first gap.
func (r *Replica) tryExecuteUpTo(target uint64) {
	for k := r.lastExecuted + 1; k <= target; k++ {
		entry, ok := r.log.Peek(k)
		if !ok || !entry.Committed {
			return
		}
		if entry.Request == nil {
			return
		}

		if _, done := r.executedTimestamps[entry.Request.Timestamp]; done {
			r.lastExecuted = k
			continue
		}

		result := r.app.Execute(entry.Request.Operation)
		r.executedTimestamps[entry.Request.Timestamp] = struct{}{}
		r.lastExecuted = k

		r.sendReply(*entry.Request, result)
	}
}

// sendReply emits a best-effort signed Reply to the client. It is not
// required for core agreement (spec §9) and its failure is never an
// error to the caller.
func (r *Replica) sendReply(req message.Request, result []byte) {
	reply := message.Reply{
		View:      r.view,
		Timestamp: req.Timestamp,
		ClientID:  req.ClientID,
		ReplicaID: r.nodeID,
		Result:    result,
	}
	env, err := signer.Seal(r.signer, uint64(r.nodeID), message.KindReply, reply)
	if err != nil {
		log.Printf("replica %d: seal reply: %v", r.nodeID, err)
		return
	}
	if err := r.out.SendTo(req.ClientID, env); err != nil {
		log.Printf("replica %d: send reply to client %d: %v", r.nodeID, req.ClientID, err)
	}
}
