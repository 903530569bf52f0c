// Package signing creates and checks HMAC-signed upload URLs for the
// standalone object store.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrExpired reports a signature whose expiry is in the past.
	ErrExpired = errors.New("signed url expired")
	// ErrInvalid reports a missing, malformed or forged signature.
	ErrInvalid = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature binding key to expiresUnix.
func (s *Signer) Sign(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", key, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Query returns the expires/signature query parameters for key.
func (s *Signer) Query(key string, ttl time.Duration) url.Values {
	expiry := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expiry, 10))
	q.Set("signature", s.Sign(key, expiry))
	return q
}

// Verify checks query parameters produced by Query.
func (s *Signer) Verify(key string, q url.Values) error {
	expires, signature := q.Get("expires"), q.Get("signature")
	if expires == "" || signature == "" {
		return ErrInvalid
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalid
	}
	if !hmac.Equal([]byte(s.Sign(key, exp)), []byte(signature)) {
		return ErrInvalid
	}
	if time.Unix(exp, 0).Before(s.now()) {
		return ErrExpired
	}
	return nil
}
