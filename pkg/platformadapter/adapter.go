// Package platformadapter translates a normalized publish request into
// platform-specific API calls and translates platform errors into the
// taxonomy the core understands (§7). Each platform's adapter is a thin
// collaborator — all the retry, backoff, and rate-limit policy lives in
// the Workflow Engine and Scheduler, not here.
package platformadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaypost/relaypost/internal/relayerr"
)

// ProbeStatus is the outcome of a probe(account, remote_id) call.
type ProbeStatus string

const (
	ProbePublished ProbeStatus = "published"
	ProbePending   ProbeStatus = "pending"
	ProbeFailed    ProbeStatus = "failed"
)

// Adapter is the platform adapter contract (§6).
type Adapter interface {
	// CreatePost returns the platform's remote id on success. A
	// non-nil error is always a *relayerr.Error so the workflow engine
	// can branch on Kind.Retryable().
	CreatePost(ctx context.Context, accessToken, mediaRef, caption string) (remoteID string, err error)
	Probe(ctx context.Context, accessToken, remoteID string) (ProbeStatus, string, error)
}

// HTTPAdapter is a generic REST-based adapter shared by all four
// platforms; only the base URL and request/response shape differ.
type HTTPAdapter struct {
	Platform   string
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPAdapter(platform, baseURL string) *HTTPAdapter {
	return &HTTPAdapter{
		Platform:   platform,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type createPostRequest struct {
	MediaRef string `json:"media_ref"`
	Caption  string `json:"caption"`
}

type createPostResponse struct {
	RemoteID string `json:"remote_id"`
}

func (a *HTTPAdapter) CreatePost(ctx context.Context, accessToken, mediaRef, caption string) (string, error) {
	body, err := json.Marshal(createPostRequest{MediaRef: mediaRef, Caption: caption})
	if err != nil {
		return "", relayerr.Wrap(relayerr.KindValidation, "encoding create_post request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/posts", bytes.NewReader(body))
	if err != nil {
		return "", relayerr.Wrap(relayerr.KindTransient, "building create_post request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", relayerr.Wrap(relayerr.KindTransient, "calling "+a.Platform+" create_post", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", classifyStatus(a.Platform, resp.StatusCode)
	}

	var out createPostResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", relayerr.Wrap(relayerr.KindTransient, "decoding create_post response", err)
	}
	return out.RemoteID, nil
}

type probeResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (a *HTTPAdapter) Probe(ctx context.Context, accessToken, remoteID string) (ProbeStatus, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/posts/"+remoteID, nil)
	if err != nil {
		return "", "", relayerr.Wrap(relayerr.KindTransient, "building probe request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", "", relayerr.Wrap(relayerr.KindTransient, "calling "+a.Platform+" probe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", "", classifyStatus(a.Platform, resp.StatusCode)
	}

	var out probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", relayerr.Wrap(relayerr.KindTransient, "decoding probe response", err)
	}

	switch out.Status {
	case "published":
		return ProbePublished, out.Reason, nil
	case "failed":
		return ProbeFailed, out.Reason, nil
	default:
		return ProbePending, out.Reason, nil
	}
}

// classifyStatus maps an HTTP status from a platform API into the error
// taxonomy of §7.
func classifyStatus(platform string, status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return relayerr.New(relayerr.KindAuthRevoked, fmt.Sprintf("%s rejected credentials (status %d)", platform, status))
	case status == http.StatusTooManyRequests:
		return relayerr.New(relayerr.KindRateLimited, fmt.Sprintf("%s rate limited (status %d)", platform, status))
	case status == http.StatusUnprocessableEntity || status == http.StatusForbidden:
		return relayerr.New(relayerr.KindPermanentPlatform, fmt.Sprintf("%s rejected content (status %d)", platform, status))
	case status >= 500:
		return relayerr.New(relayerr.KindTransient, fmt.Sprintf("%s server error (status %d)", platform, status))
	case status >= 400:
		return relayerr.New(relayerr.KindPermanentPlatform, fmt.Sprintf("%s client error (status %d)", platform, status))
	default:
		return relayerr.New(relayerr.KindTransient, fmt.Sprintf("%s unexpected status %d", platform, status))
	}
}
