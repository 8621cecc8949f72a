package webhookingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ProviderConfig is the verification configuration for one platform's
// webhook signing scheme.
type ProviderConfig struct {
	SigningSecret string
	// Timestamped providers sign "t" + "." + body and carry the timestamp
	// separately, so the replay window (§4.5 step 2) applies. Providers
	// that are not timestamped skip the replay check entirely — there is
	// nothing to check it against.
	Timestamped bool
}

// VerifyResult is the outcome of signature + replay verification.
type VerifyResult struct {
	Verified bool
	// Reason is set when Verified is false, for the security metric —
	// never surfaced to the caller (§4.5 response policy: silent 200).
	Reason string
}

// Verify checks an inbound request's signature against the provider's
// shared secret using constant-time comparison over the exact raw bytes
// received, and — for timestamped providers — enforces the replay window.
func Verify(cfg ProviderConfig, req InboundRequest, tolerance time.Duration, now time.Time) VerifyResult {
	if cfg.SigningSecret == "" {
		return VerifyResult{Verified: false, Reason: "no_signing_secret_configured"}
	}

	sig := req.SignatureHeader
	if sig == "" {
		return VerifyResult{Verified: false, Reason: "missing_signature_header"}
	}

	var signedPayload []byte
	if cfg.Timestamped {
		ts := req.TimestampHeader
		if ts == "" {
			return VerifyResult{Verified: false, Reason: "missing_timestamp_header"}
		}
		tsSeconds, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return VerifyResult{Verified: false, Reason: "malformed_timestamp"}
		}
		eventTime := time.Unix(tsSeconds, 0)
		delta := now.Sub(eventTime)
		if delta < 0 {
			delta = -delta
		}
		if delta > tolerance {
			return VerifyResult{Verified: false, Reason: "replay_window_exceeded"}
		}
		signedPayload = []byte(ts + "." + string(req.RawBody))
	} else {
		signedPayload = req.RawBody
	}

	expected := hmacHex(cfg.SigningSecret, signedPayload)
	provided := extractHexDigest(sig)

	if len(expected) != len(provided) || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return VerifyResult{Verified: false, Reason: "signature_mismatch"}
	}

	return VerifyResult{Verified: true}
}

func hmacHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// extractHexDigest strips common signature header prefixes
// ("sha256=...", "s=...") so verification works whether the provider
// sends a bare hex digest or a prefixed one.
func extractHexDigest(header string) string {
	if idx := strings.LastIndex(header, "="); idx >= 0 && looksLikePrefix(header[:idx]) {
		return header[idx+1:]
	}
	return header
}

func looksLikePrefix(s string) bool {
	switch s {
	case "sha256", "s", "v1", "v0":
		return true
	default:
		return false
	}
}

// DefaultTimestampTolerance is the ±5 minute replay window from §4.5.
const DefaultTimestampTolerance = 5 * time.Minute
