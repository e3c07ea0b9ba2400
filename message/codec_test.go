package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{Operation: []byte("PUT:name:Alice"), Timestamp: 42, ClientID: 999}

	b, err := Marshal(req)
	require.NoError(t, err)

	got, err := Decode[Request](b)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	req := Request{Operation: []byte("GET:name"), Timestamp: 7, ClientID: 1}
	payload, err := Marshal(req)
	require.NoError(t, err)

	env := Envelope{Kind: KindRequest, SignerID: 1, Signature: []byte("sig"), Payload: payload}

	b, err := Marshal(env)
	require.NoError(t, err)

	got, err := Decode[Envelope](b)
	require.NoError(t, err)
	assert.Equal(t, env, got)

	innerReq, err := Decode[Request](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, req, innerReq)
}

func TestDigestIsDeterministic(t *testing.T) {
	req := Request{Operation: []byte("PUT:a:b"), Timestamp: 1, ClientID: 2}

	d1, err := DigestRequest(req)
	require.NoError(t, err)
	d2, err := DigestRequest(req)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
}

func TestDigestDiffersOnDifferentOperations(t *testing.T) {
	a := Request{Operation: []byte("PUT:a:b"), Timestamp: 1, ClientID: 2}
	b := Request{Operation: []byte("PUT:a:c"), Timestamp: 1, ClientID: 2}

	da, err := DigestRequest(a)
	require.NoError(t, err)
	db, err := DigestRequest(b)
	require.NoError(t, err)

	assert.NotEqual(t, da, db)
}

func TestFrameRoundTrip(t *testing.T) {
	req := Request{Operation: []byte("PUT:x:y"), Timestamp: 3, ClientID: 4}
	payload, err := Marshal(req)
	require.NoError(t, err)
	env := Envelope{Kind: KindRequest, SignerID: 4, Signature: []byte("sig"), Payload: payload}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, env))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, env, got)
}
