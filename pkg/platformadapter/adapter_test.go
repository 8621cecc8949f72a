package platformadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaypost/relaypost/internal/relayerr"
)

func newTestServer(t *testing.T, status int, resp any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if resp != nil {
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCreatePostSuccess(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, createPostResponse{RemoteID: "abc123"})
	adapter := NewHTTPAdapter("instagram", srv.URL)

	remoteID, err := adapter.CreatePost(context.Background(), "token", "media.jpg", "caption")
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if remoteID != "abc123" {
		t.Errorf("CreatePost() remoteID = %q, want abc123", remoteID)
	}
}

func TestCreatePostClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   relayerr.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, relayerr.KindAuthRevoked},
		{"forbidden", http.StatusForbidden, relayerr.KindAuthRevoked},
		{"rate limited", http.StatusTooManyRequests, relayerr.KindRateLimited},
		{"unprocessable", http.StatusUnprocessableEntity, relayerr.KindPermanentPlatform},
		{"server error", http.StatusInternalServerError, relayerr.KindTransient},
		{"bad request", http.StatusBadRequest, relayerr.KindPermanentPlatform},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.status, nil)
			adapter := NewHTTPAdapter("instagram", srv.URL)

			_, err := adapter.CreatePost(context.Background(), "token", "media.jpg", "caption")
			if err == nil {
				t.Fatal("expected an error")
			}
			relErr, ok := relayerr.As(err)
			if !ok {
				t.Fatalf("expected a *relayerr.Error, got %T", err)
			}
			if relErr.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", relErr.Kind, tt.want)
			}
		})
	}
}

func TestProbeStatuses(t *testing.T) {
	tests := []struct {
		name       string
		respStatus string
		want       ProbeStatus
	}{
		{"published", "published", ProbePublished},
		{"failed", "failed", ProbeFailed},
		{"pending", "pending", ProbePending},
		{"unrecognized defaults to pending", "something_else", ProbePending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, http.StatusOK, probeResponse{Status: tt.respStatus})
			adapter := NewHTTPAdapter("tiktok", srv.URL)

			status, _, err := adapter.Probe(context.Background(), "token", "remote-1")
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if status != tt.want {
				t.Errorf("Probe() status = %v, want %v", status, tt.want)
			}
		})
	}
}

func TestRegistryGetUnknownPlatform(t *testing.T) {
	reg := NewRegistry("a", "b", "c", "d")
	if _, err := reg.Get("myspace"); err == nil {
		t.Error("expected an error for an unregistered platform")
	}
	if _, err := reg.Get("instagram"); err != nil {
		t.Errorf("Get(instagram) error = %v", err)
	}
}
