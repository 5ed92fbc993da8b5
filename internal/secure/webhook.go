package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Webhook signature failures.
var (
	ErrSignatureMissing   = errors.New("signature header missing")
	ErrSignatureMalformed = errors.New("signature header malformed")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
)

// WebhookVerifier checks the signature of a webhook delivery against its raw
// body.
type WebhookVerifier interface {
	Verify(r *http.Request, body []byte) error
}

// DefaultStripeTolerance is the accepted age of a Stripe signature timestamp.
const DefaultStripeTolerance = 5 * time.Minute

// StripeVerifier validates the Stripe-Signature header, formatted as
// "t=<unix>,v1=<hex>[,v1=<hex>]". The signed payload is "<t>.<body>".
type StripeVerifier struct {
	Secret    []byte
	Tolerance time.Duration
	Now       func() time.Time
}

func (v *StripeVerifier) Verify(r *http.Request, body []byte) error {
	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return ErrSignatureMissing
	}

	var timestamp string
	var signatures [][]byte
	for part := range strings.SplitSeq(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrSignatureMalformed
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp: %w", ErrSignatureMalformed, err)
	}

	tolerance := v.Tolerance
	if tolerance == 0 {
		tolerance = DefaultStripeTolerance
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	age := now().Sub(time.Unix(unix, 0))
	if age < -tolerance || age > tolerance {
		return ErrSignatureExpired
	}

	expected := computeHMAC(v.Secret, []byte(timestamp+"."), body)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// DefaultSignatureHeader carries a hex HMAC-SHA256 of the body.
const DefaultSignatureHeader = "X-Signature"

// HMACVerifier validates a hex encoded HMAC-SHA256 of the raw body, with an
// optional "sha256=" prefix.
type HMACVerifier struct {
	Secret []byte
	Header string
}

func (v *HMACVerifier) Verify(r *http.Request, body []byte) error {
	header := v.Header
	if header == "" {
		header = DefaultSignatureHeader
	}

	value := r.Header.Get(header)
	if value == "" {
		return ErrSignatureMissing
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(value, "sha256="))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureMalformed, err)
	}

	if !hmac.Equal(sig, computeHMAC(v.Secret, body)) {
		return ErrSignatureMismatch
	}
	return nil
}

func computeHMAC(secret []byte, parts ...[]byte) []byte {
	h := hmac.New(sha256.New, secret)
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// SignStripe produces a Stripe-Signature header value, used by tests and
// local tooling.
func SignStripe(secret, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeHMAC(secret, []byte(ts+"."), body))
}

// SignHMAC produces an X-Signature header value.
func SignHMAC(secret, body []byte) string {
	return hex.EncodeToString(computeHMAC(secret, body))
}
