package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutThenGet(t *testing.T) {
	s := New()

	assert.Equal(t, resultOK, s.Execute([]byte("PUT:name:Alice")))
	assert.Equal(t, []byte("Alice"), s.Execute([]byte("GET:name")))
}

func TestGetMissingKey(t *testing.T) {
	s := New()
	assert.Equal(t, resultNotFound, s.Execute([]byte("GET:missing")))
}

func TestInvalidOperation(t *testing.T) {
	s := New()
	assert.Equal(t, resultInvalidOp, s.Execute([]byte("FOO:bar")))
	assert.Equal(t, resultInvalidOp, s.Execute([]byte("PUT:onlykey")))
}

func TestOverwrite(t *testing.T) {
	s := New()
	s.Execute([]byte("PUT:name:Alice"))
	s.Execute([]byte("PUT:name:Bob"))
	assert.Equal(t, []byte("Bob"), s.Execute([]byte("GET:name")))
}

func TestSizeTracksDistinctKeys(t *testing.T) {
	s := New()
	s.Execute([]byte("PUT:a:1"))
	s.Execute([]byte("PUT:b:2"))
	s.Execute([]byte("PUT:a:3"))
	assert.Equal(t, 2, s.Size())
}
