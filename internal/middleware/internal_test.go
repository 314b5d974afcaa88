package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dans3367/pigeonpost/internal/callback"
	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/logger"
)

func testMiddleware() *Middleware {
	return New(&config.Config{
		Callback: config.CallbackConfig{
			Secret:  "test-secret",
			MaxSkew: 5 * time.Minute,
		},
	}, logger.New("error", "text"), nil)
}

func signedRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	ts := time.Now().UnixMilli()
	sig, err := callback.Sign([]byte("test-secret"), ts, body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/internal/v1/emails/reconcile", bytes.NewReader(body))
	r.Header.Set(callback.HeaderService, "pigeonpost-worker")
	r.Header.Set(callback.HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(callback.HeaderSignature, sig)
	return r
}

func TestInternalSignatureAcceptsSignedRequest(t *testing.T) {
	body := []byte(`{"emailTrackingId":"intent_1","status":"sent"}`)

	var handlerBody []byte
	h := testMiddleware().InternalSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		handlerBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, signedRequest(t, body))
	assert.Equal(t, http.StatusOK, w.Code)
	// The body must be restored intact for the handler
	assert.Equal(t, body, handlerBody)
}

func TestInternalSignatureRejectsMissingHeaders(t *testing.T) {
	h := testMiddleware().InternalSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	r := httptest.NewRequest(http.MethodPost, "/internal/v1/emails/reconcile", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInternalSignatureRejectsTamperedBody(t *testing.T) {
	h := testMiddleware().InternalSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	r := signedRequest(t, []byte(`{"status":"sent"}`))
	r.Body = io.NopCloser(bytes.NewReader([]byte(`{"status":"failed"}`)))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInternalSignatureRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"status":"sent"}`)
	ts := time.Now().Add(-time.Hour).UnixMilli()
	sig, err := callback.Sign([]byte("test-secret"), ts, body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "/internal/v1/emails/reconcile", bytes.NewReader(body))
	r.Header.Set(callback.HeaderService, "pigeonpost-worker")
	r.Header.Set(callback.HeaderTimestamp, strconv.FormatInt(ts, 10))
	r.Header.Set(callback.HeaderSignature, sig)

	h := testMiddleware().InternalSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
