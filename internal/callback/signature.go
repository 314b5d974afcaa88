package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Header names for the internal callback channel
const (
	HeaderService   = "x-internal-service"
	HeaderTimestamp = "x-internal-timestamp"
	HeaderSignature = "x-internal-signature"
)

// Verification errors
var (
	ErrBadSignature   = errors.New("callback signature mismatch")
	ErrStaleTimestamp = errors.New("callback timestamp outside accepted window")
)

// Sign computes the hex HMAC-SHA256 of "{timestampMillis}.{canonicalJSON(body)}".
// Signing over the canonical form makes the signature independent of key
// order and whitespace in the serialized body.
func Sign(secret []byte, timestampMillis int64, body []byte) (string, error) {
	canonical, err := canonicalJSON(body)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", timestampMillis)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature over the received body and timestamp and
// rejects on mismatch or a timestamp older than maxSkew.
func Verify(secret []byte, timestampMillis int64, body []byte, signature string, maxSkew time.Duration, now time.Time) error {
	ts := time.UnixMilli(timestampMillis)
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	if age > maxSkew {
		return ErrStaleTimestamp
	}

	expected, err := Sign(secret, timestampMillis, body)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}

// canonicalJSON re-serializes a JSON document with object keys sorted
// (encoding/json marshals maps in key order) and no insignificant whitespace.
func canonicalJSON(body []byte) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("callback body is not valid JSON: %w", err)
	}
	return json.Marshal(v)
}
