package relayerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRateLimited, true},
		{KindTransient, true},
		{KindAuthExpired, true},
		{KindAuthRevoked, false},
		{KindPermanentPlatform, false},
		{KindValidation, false},
		{KindBudgetDenied, false},
		{KindIntegrity, false},
		{KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.Retryable(); got != tt.want {
				t.Errorf("%s.Retryable() = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindTransient, "calling adapter", cause)

	if !errors.Is(err, cause) {
		t.Error("Wrap should preserve the cause for errors.Is")
	}
}

func TestAs(t *testing.T) {
	err := New(KindValidation, "bad input")
	wrapped := fmt.Errorf("submitting post: %w", err)

	got, ok := As(wrapped)
	if !ok {
		t.Fatal("As should find the wrapped *Error")
	}
	if got.Kind != KindValidation {
		t.Errorf("As(...).Kind = %v, want %v", got.Kind, KindValidation)
	}
}

func TestAsMissesPlainError(t *testing.T) {
	_, ok := As(errors.New("plain"))
	if ok {
		t.Error("As should not match a plain error")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(KindTransient, "decoding response", errors.New("unexpected EOF"))
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() should not be empty")
	}
	if !strings.Contains(msg, "unexpected EOF") {
		t.Errorf("Error() = %q, want it to include the cause %q", msg, "unexpected EOF")
	}
}
