package status

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pbftkv/kvstore"
	"pbftkv/replica"
	"pbftkv/signer"
)

func newTestReplica(t *testing.T, store *kvstore.Store) *replica.Replica {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	s := signer.NewEd25519Signer(0, priv, map[uint64]ed25519.PublicKey{0: pub})
	r, err := replica.New(replica.Config{NodeID: 0, N: 4}, store, s, nil)
	require.NoError(t, err)
	return r
}

func TestStatusFeedSendsInitialSnapshot(t *testing.T) {
	store := kvstore.New()
	r := newTestReplica(t, store)

	srv := NewServer(r, store)
	ts := httptest.NewServer(http.HandlerFunc(srv.handleStatus))
	defer ts.Close()
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Snapshot
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, uint64(0), got.View)
	require.Equal(t, uint64(0), got.LastExecuted)
	require.Equal(t, 0, got.StoreSize)
}

func TestSnapshotReflectsStoreSize(t *testing.T) {
	store := kvstore.New()
	r := newTestReplica(t, store)
	store.Execute([]byte("PUT:a:1"))

	srv := NewServer(r, store)
	snap := srv.snapshot()
	require.Equal(t, 1, snap.StoreSize)
}
