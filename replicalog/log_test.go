package replicalog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pbftkv/message"
)

func TestEntryCreatedLazily(t *testing.T) {
	l := New()
	_, ok := l.Peek(1)
	assert.False(t, ok)

	e := l.Entry(1)
	assert.NotNil(t, e)

	_, ok = l.Peek(1)
	assert.True(t, ok)
}

func TestAddPrepareRejectsDuplicateReplica(t *testing.T) {
	e := newEntry()
	d := message.Digest{1}

	assert.True(t, e.AddPrepare(message.Prepare{Seq: 1, Digest: d, ReplicaID: 2}))
	assert.False(t, e.AddPrepare(message.Prepare{Seq: 1, Digest: d, ReplicaID: 2}))
	assert.Equal(t, 1, e.MatchingPrepares(d))
}

func TestMatchingPreparesIgnoresWrongDigest(t *testing.T) {
	e := newEntry()
	good := message.Digest{1}
	bad := message.Digest{2}

	e.AddPrepare(message.Prepare{Digest: good, ReplicaID: 0})
	e.AddPrepare(message.Prepare{Digest: bad, ReplicaID: 1})

	assert.Equal(t, 1, e.MatchingPrepares(good))
}

func TestAddCommitRejectsDuplicateReplica(t *testing.T) {
	e := newEntry()
	d := message.Digest{3}

	assert.True(t, e.AddCommit(message.Commit{Digest: d, ReplicaID: 0}))
	assert.False(t, e.AddCommit(message.Commit{Digest: d, ReplicaID: 0}))
	assert.Equal(t, 1, e.MatchingCommits(d))
}
