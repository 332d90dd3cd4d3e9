package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrInvalidSignature covers a malformed header, a missing timestamp,
	// and a digest mismatch alike; callers answer 400 for all of them.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNoWebhookSecret means the shared secret is absent from
	// configuration. This is a 500, not a 400: the request may be fine.
	ErrNoWebhookSecret = errors.New("webhook secret is not configured")
)

// Verifier validates the provider's timestamped HMAC signature header,
// of the form "t=<unix-seconds>,v1=<hex-hmac>".
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the signature header against the raw request body.
// The signed string is "<timestamp>.<body>" and digests are compared in
// constant time. The timestamp is returned for observability but no
// skew window is enforced on it.
func (v *Verifier) Verify(body []byte, header string) (int64, error) {
	if v.secret == "" {
		return 0, ErrNoWebhookSecret
	}

	var timestamp string
	var signature string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signature = kv[1]
		}
	}
	if timestamp == "" || signature == "" {
		return 0, ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return 0, ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return 0, ErrInvalidSignature
	}

	return ts, nil
}
