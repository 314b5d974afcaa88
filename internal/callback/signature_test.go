package callback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	secret = []byte("test-secret")
	now    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestSignVerifyRoundTrip(t *testing.T) {
	body := []byte(`{"emailTrackingId":"intent_1","status":"sent","providerMessageId":"m-1"}`)
	ts := now.UnixMilli()

	sig, err := Sign(secret, ts, body)
	require.NoError(t, err)
	assert.NoError(t, Verify(secret, ts, body, sig, 5*time.Minute, now))
}

func TestSignIsCanonical(t *testing.T) {
	ts := now.UnixMilli()

	// Same document, different key order and whitespace
	a, err := Sign(secret, ts, []byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	b, err := Sign(secret, ts, []byte(`{ "a": 1, "b": 2 }`))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// The reformatted body verifies against the original signature
	assert.NoError(t, Verify(secret, ts, []byte(`{ "a": 1, "b": 2 }`), a, 5*time.Minute, now))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	ts := now.UnixMilli()
	sig, err := Sign(secret, ts, []byte(`{"status":"sent"}`))
	require.NoError(t, err)

	err = Verify(secret, ts, []byte(`{"status":"failed"}`), sig, 5*time.Minute, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"status":"sent"}`)
	ts := now.UnixMilli()
	sig, err := Sign([]byte("other-secret"), ts, body)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(secret, ts, body, sig, 5*time.Minute, now), ErrBadSignature)
}

func TestVerifyRejectsTamperedTimestamp(t *testing.T) {
	body := []byte(`{"status":"sent"}`)
	ts := now.UnixMilli()
	sig, err := Sign(secret, ts, body)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(secret, ts+1, body, sig, 5*time.Minute, now), ErrBadSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"status":"sent"}`)
	ts := now.Add(-10 * time.Minute).UnixMilli()
	sig, err := Sign(secret, ts, body)
	require.NoError(t, err)

	assert.ErrorIs(t, Verify(secret, ts, body, sig, 5*time.Minute, now), ErrStaleTimestamp)

	// Future timestamps beyond the skew are equally stale
	future := now.Add(10 * time.Minute).UnixMilli()
	sig, err = Sign(secret, future, body)
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(secret, future, body, sig, 5*time.Minute, now), ErrStaleTimestamp)
}

func TestSignRejectsNonJSONBody(t *testing.T) {
	_, err := Sign(secret, now.UnixMilli(), []byte("not json"))
	assert.Error(t, err)
}
