package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dans3367/pigeonpost/internal/callback"
)

// maxInternalBody caps the body size read for signature verification
const maxInternalBody = 1 << 20

// InternalSignature authenticates requests on the internal callback channel.
// The signature covers the timestamp and the canonical JSON body, so the body
// is read here and restored for the handler.
func (m *Middleware) InternalSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service := r.Header.Get(callback.HeaderService)
		tsHeader := r.Header.Get(callback.HeaderTimestamp)
		signature := r.Header.Get(callback.HeaderSignature)
		if service == "" || tsHeader == "" || signature == "" {
			http.Error(w, `{"error":"unauthorized","message":"Missing internal signature headers"}`, http.StatusUnauthorized)
			return
		}

		timestampMillis, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"unauthorized","message":"Malformed internal timestamp"}`, http.StatusUnauthorized)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxInternalBody))
		if err != nil {
			http.Error(w, `{"error":"bad_request","message":"Failed to read request body"}`, http.StatusBadRequest)
			return
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := callback.Verify([]byte(m.cfg.Callback.Secret), timestampMillis, body, signature, m.cfg.Callback.MaxSkew, time.Now()); err != nil {
			m.log.Warn().Err(err).
				Str("service", service).
				Str("path", r.URL.Path).
				Msg("rejected internal callback")
			http.Error(w, `{"error":"unauthorized","message":"Invalid internal signature"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
