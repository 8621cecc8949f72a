package webhookingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyNonTimestamped(t *testing.T) {
	cfg := ProviderConfig{SigningSecret: "s3cret", Timestamped: false}
	body := []byte(`{"event_id":"1"}`)
	now := time.Now()

	req := InboundRequest{RawBody: body, SignatureHeader: sign("s3cret", body)}
	if res := Verify(cfg, req, DefaultTimestampTolerance, now); !res.Verified {
		t.Errorf("expected valid signature to verify, got reason %q", res.Reason)
	}

	tampered := InboundRequest{RawBody: []byte(`{"event_id":"2"}`), SignatureHeader: sign("s3cret", body)}
	if res := Verify(cfg, tampered, DefaultTimestampTolerance, now); res.Verified {
		t.Error("expected tampered body to fail verification")
	}

	wrongSecret := InboundRequest{RawBody: body, SignatureHeader: sign("wrong", body)}
	if res := Verify(cfg, wrongSecret, DefaultTimestampTolerance, now); res.Verified {
		t.Error("expected wrong secret to fail verification")
	}
}

func TestVerifyMissingSignature(t *testing.T) {
	cfg := ProviderConfig{SigningSecret: "s3cret"}
	req := InboundRequest{RawBody: []byte("{}")}
	res := Verify(cfg, req, DefaultTimestampTolerance, time.Now())
	if res.Verified {
		t.Error("expected missing signature header to fail verification")
	}
	if res.Reason != "missing_signature_header" {
		t.Errorf("reason = %q, want missing_signature_header", res.Reason)
	}
}

func TestVerifyNoSecretConfigured(t *testing.T) {
	cfg := ProviderConfig{}
	req := InboundRequest{RawBody: []byte("{}"), SignatureHeader: "sha256=abc"}
	res := Verify(cfg, req, DefaultTimestampTolerance, time.Now())
	if res.Verified {
		t.Error("expected unconfigured provider to fail verification")
	}
}

func TestVerifyTimestampedWithinWindow(t *testing.T) {
	cfg := ProviderConfig{SigningSecret: "s3cret", Timestamped: true}
	body := []byte(`{"event_id":"1"}`)
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	signedPayload := []byte(ts + "." + string(body))

	req := InboundRequest{RawBody: body, TimestampHeader: ts, SignatureHeader: sign("s3cret", signedPayload)}
	if res := Verify(cfg, req, DefaultTimestampTolerance, now); !res.Verified {
		t.Errorf("expected fresh timestamped request to verify, got reason %q", res.Reason)
	}
}

func TestVerifyTimestampedReplay(t *testing.T) {
	cfg := ProviderConfig{SigningSecret: "s3cret", Timestamped: true}
	body := []byte(`{"event_id":"1"}`)
	now := time.Now()
	stale := now.Add(-10 * time.Minute)
	ts := strconv.FormatInt(stale.Unix(), 10)
	signedPayload := []byte(ts + "." + string(body))

	req := InboundRequest{RawBody: body, TimestampHeader: ts, SignatureHeader: sign("s3cret", signedPayload)}
	res := Verify(cfg, req, DefaultTimestampTolerance, now)
	if res.Verified {
		t.Error("expected a timestamp outside the tolerance window to be rejected")
	}
	if res.Reason != "replay_window_exceeded" {
		t.Errorf("reason = %q, want replay_window_exceeded", res.Reason)
	}
}

func TestVerifyTimestampedMissingTimestamp(t *testing.T) {
	cfg := ProviderConfig{SigningSecret: "s3cret", Timestamped: true}
	req := InboundRequest{RawBody: []byte("{}"), SignatureHeader: "sha256=abc"}
	res := Verify(cfg, req, DefaultTimestampTolerance, time.Now())
	if res.Verified {
		t.Error("expected missing timestamp header to fail verification for a timestamped provider")
	}
	if res.Reason != "missing_timestamp_header" {
		t.Errorf("reason = %q, want missing_timestamp_header", res.Reason)
	}
}

func TestExtractHexDigestPrefixes(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"sha256=abcdef", "abcdef"},
		{"v1=abcdef", "abcdef"},
		{"abcdef", "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := extractHexDigest(tt.header); got != tt.want {
				t.Errorf("extractHexDigest(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
