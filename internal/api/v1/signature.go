package v1

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

// Headers carrying the callback signature
const (
	SignatureTimestampHeader = "X-Pattern-Signal-Ts"
	SignatureHeader          = "X-Pattern-Signal-Sig"

	signaturePrefix = "sha256="
)

var errBadSignature = errors.New("invalid signal signature")

// Sign returns the signature of a callback body sent at the given unix time:
// hex(HMAC-SHA256(secret, "<timestamp>.<body>")), prefixed with "sha256="
func Sign(secret []byte, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks a callback signature and that its timestamp is within maxSkew of now
func verifySignature(secret []byte, maxSkew time.Duration, now time.Time, timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return fmt.Errorf("%w: missing %s or %s", errBadSignature, SignatureTimestampHeader, SignatureHeader)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", errBadSignature)
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("%w: timestamp is %s away from server time", errBadSignature, skew.Truncate(time.Second))
	}

	if !strings.HasPrefix(signature, signaturePrefix) {
		signature = signaturePrefix + signature
	}
	if !hmac.Equal([]byte(Sign(secret, ts, body)), []byte(strings.ToLower(signature))) {
		return fmt.Errorf("%w: signature mismatch", errBadSignature)
	}
	return nil
}
