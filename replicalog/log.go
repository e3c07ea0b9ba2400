// Package replicalog implements the per-sequence-number message log
// the replica core consults and mutates: the record of a request, its
// pre-prepare, the prepares and commits received for it, and the
// prepared/committed flags derived from them.
//
// A Log is owned by exactly one replica's event loop (spec §5); no
// synchronization is done here, matching the single-owner discipline.
package replicalog

import "pbftkv/message"

// Entry is the record kept for one sequence number. It is created
// lazily on first touch and never removed (no garbage collection in
// this core, per spec).
type Entry struct {
	Request    *message.Request
	PrePrepare *message.PrePrepare
	Prepares   map[uint32]message.Prepare
	Commits    map[uint32]message.Commit
	Prepared   bool
	Committed  bool
}

func newEntry() *Entry {
	return &Entry{
		Prepares: make(map[uint32]message.Prepare),
		Commits:  make(map[uint32]message.Commit),
	}
}

// AddPrepare records p if no Prepare from p.ReplicaID has been seen
// yet for this entry. It returns false on a duplicate or equivocating
// resend from the same replica, in which case the caller must not
// count it (spec invariant 2).
func (e *Entry) AddPrepare(p message.Prepare) bool {
	if _, seen := e.Prepares[p.ReplicaID]; seen {
		return false
	}
	e.Prepares[p.ReplicaID] = p
	return true
}

// AddCommit records c if no Commit from c.ReplicaID has been seen yet
// (spec invariant 3).
func (e *Entry) AddCommit(c message.Commit) bool {
	if _, seen := e.Commits[c.ReplicaID]; seen {
		return false
	}
	e.Commits[c.ReplicaID] = c
	return true
}

// MatchingPrepares counts distinct-replica Prepares recorded against d.
func (e *Entry) MatchingPrepares(d message.Digest) int {
	n := 0
	for _, p := range e.Prepares {
		if p.Digest == d {
			n++
		}
	}
	return n
}

// MatchingCommits counts distinct-replica Commits recorded against d.
func (e *Entry) MatchingCommits(d message.Digest) int {
	n := 0
	for _, c := range e.Commits {
		if c.Digest == d {
			n++
		}
	}
	return n
}

// Log is the map from sequence number to Entry.
type Log struct {
	entries map[uint64]*Entry
}

// New creates an empty Log.
func New() *Log {
	return &Log{entries: make(map[uint64]*Entry)}
}

// Entry returns the Entry for n, creating it if this is the first
// message ever to mention n.
func (l *Log) Entry(n uint64) *Entry {
	e, ok := l.entries[n]
	if !ok {
		e = newEntry()
		l.entries[n] = e
	}
	return e
}

// Peek returns the Entry for n without creating one.
func (l *Log) Peek(n uint64) (*Entry, bool) {
	e, ok := l.entries[n]
	return e, ok
}
