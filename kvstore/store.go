// Package kvstore is the deterministic application the replicated log
// executes against: a byte-in/byte-out interpreter over a mapping
// from string to string.
package kvstore

import (
	"strings"
	"sync"
)

var (
	resultOK        = []byte("OK")
	resultNotFound  = []byte("NOT_FOUND")
	resultInvalidOp = []byte("INVALID_OPERATION")
)

// Store is a single deterministic key-value application. Execute is
// the only entrypoint the replica core calls; it must behave
// identically given identical input on every correct replica.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Execute interprets one operation:
//
//	PUT:<key>:<value>  -> stores the mapping, returns "OK"
//	GET:<key>          -> returns the stored value, or "NOT_FOUND"
//	anything else      -> "INVALID_OPERATION"
//
// Keys and values are opaque UTF-8 strings; no escaping is defined,
// so a PUT key ends at the first ":" after "PUT:" and cannot itself
// contain ":", while the value keeps everything after that separator,
// colons included (a deliberate limitation of the demo application,
// per spec).
func (s *Store) Execute(op []byte) []byte {
	text := string(op)

	if rest, ok := strings.CutPrefix(text, "PUT:"); ok {
		key, value, ok := strings.Cut(rest, ":")
		if !ok {
			return resultInvalidOp
		}
		s.mu.Lock()
		s.data[key] = value
		s.mu.Unlock()
		return resultOK
	}

	if key, ok := strings.CutPrefix(text, "GET:"); ok {
		s.mu.RLock()
		value, ok := s.data[key]
		s.mu.RUnlock()
		if !ok {
			return resultNotFound
		}
		return []byte(value)
	}

	return resultInvalidOp
}

// Size returns the number of stored keys. Used only by the status
// feed (C11); never consulted by the replica core.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
