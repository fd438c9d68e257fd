// Package nonce implements the single-use anti-forgery state carried across
// the foreign-login redirect/callback round trip. A value is issued before the
// redirect and must be consumed exactly once at callback time; consumption
// always removes the stored value before comparing, so neither replay nor a
// forged callback can reuse it.
package nonce

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"
)

// DefaultTTL bounds how long an issued nonce stays valid. The redirect round
// trip normally completes in seconds.
const DefaultTTL = 5 * time.Minute

// ErrNonceMismatch is the hard authentication failure for a missing, expired
// or mismatched nonce. It is never retried.
var ErrNonceMismatch = errors.New("nonce missing or mismatched")

// Store issues and consumes single-use nonces keyed by a caller-chosen name
// (typically provider-scoped, one pending round trip per key).
type Store interface {
	// Issue generates a nonce, stores it under key and returns it. A second
	// Issue for the same key replaces the pending value.
	Issue(ctx context.Context, key string) (string, error)

	// Consume removes the stored value for key and compares it to the
	// presented one. Any failure, including presenting a value when none is
	// stored, is ErrNonceMismatch. The stored value is gone either way.
	Consume(ctx context.Context, key, presented string) error
}

// generate produces an unguessable nonce value.
func generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
