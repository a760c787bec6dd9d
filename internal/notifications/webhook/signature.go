package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the payload signature.
//
// Format: X-CareWatch-Signature: t=<unix>,v1=<hex hmac-sha256 of "<t>.<body>">
const SignatureHeader = "X-CareWatch-Signature"

// DefaultSignatureTolerance bounds the accepted clock skew on verification.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrSignatureMissingSecret = errors.New("webhook signature: secret is empty")
	ErrSignatureMalformed     = errors.New("webhook signature: malformed header")
	ErrSignatureExpired       = errors.New("webhook signature: timestamp outside tolerance")
	ErrSignatureMismatch      = errors.New("webhook signature: mismatch")
)

// Signer computes and checks payload signatures for one shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer. An empty secret is rejected.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrSignatureMissingSecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the header value for payload at now.
func (s *Signer) Sign(payload []byte, now time.Time) string {
	ts := now.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, s.mac(ts, payload))
}

// Verify checks header against payload. Receivers call it with their own
// clock; tolerance <= 0 uses DefaultSignatureTolerance.
func (s *Signer) Verify(payload []byte, header string, now time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}

	parts := parseSignatureHeader(header)
	if parts.timestamp == "" || len(parts.v1) == 0 {
		return ErrSignatureMalformed
	}
	ts, err := strconv.ParseInt(parts.timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrSignatureMalformed)
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return ErrSignatureExpired
	}

	expected := s.mac(ts, payload)
	for _, candidate := range parts.v1 {
		if hmac.Equal([]byte(candidate), []byte(expected)) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

func (s *Signer) mac(ts int64, payload []byte) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(strconv.FormatInt(ts, 10)))
	m.Write([]byte("."))
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

type signatureParts struct {
	timestamp string
	v1        []string
}

// parseSignatureHeader splits "t=<unix>,v1=<hex>[,v1=<hex>...]". Repeated v1
// entries are kept so a receiver can accept signatures across secret rotation.
func parseSignatureHeader(header string) signatureParts {
	var parts signatureParts
	for _, segment := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			parts.timestamp = strings.TrimSpace(value)
		case "v1":
			parts.v1 = append(parts.v1, strings.TrimSpace(value))
		}
	}
	return parts
}
