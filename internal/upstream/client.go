// Package upstream implements the Upstream Client (C7): constructing and
// retrying the CodeWhisperer generateAssistantResponse call against a
// credential chosen by C6, handing the raw streaming response to C8
// unbuffered.
package upstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
	"github.com/jwadow/kiro-gateway/internal/metrics"
	"github.com/jwadow/kiro-gateway/internal/util"
	log "github.com/sirupsen/logrus"
)

const (
	kiroContentType = "application/x-amz-json-1.0"
	kiroTarget      = "AmazonCodeWhispererStreamingService.GenerateAssistantResponse"

	retryBase       = 1 * time.Second
	retryMaxAttempt = 3
)

// Refresher is the subset of kiro.Refresher the client depends on for
// force_refresh-before-retry on a 401 (§4.7's retry contract).
type Refresher interface {
	Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error)
}

// Client issues CodeWhisperer generateAssistantResponse calls.
type Client struct {
	httpClient  *http.Client
	refresher   Refresher
	fingerprint string
	userAgent   string
}

// New builds a Client. fingerprintSeed is any per-instance stable value
// (e.g. a machine id or process-start nonce); it is hashed so the raw seed
// never appears on the wire.
func New(httpClient *http.Client, refresher Refresher, fingerprintSeed, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if userAgent == "" {
		userAgent = "kiro-gateway/1.0"
	}
	sum := sha256.Sum256([]byte(fingerprintSeed))
	return &Client{
		httpClient:  httpClient,
		refresher:   refresher,
		fingerprint: hex.EncodeToString(sum[:]),
		userAgent:   userAgent,
	}
}

// applyTokenUpdate mirrors resolver.refreshInPlace: Refresh returns a value
// the caller must apply, it never mutates rec itself. Without this, a
// successful force_refresh on a 401 still leaves rec.AccessToken stale for
// the retry that follows.
func applyTokenUpdate(rec *credential.Record, update credential.TokenUpdate) {
	rec.AccessToken = update.AccessToken
	if update.ExpiresAt != nil {
		rec.ExpiresAt = *update.ExpiresAt
	}
	if update.RefreshToken != nil {
		rec.RefreshToken = *update.RefreshToken
	}
	if update.ProfileARN != nil {
		rec.ProfileARN = *update.ProfileARN
	}
}

func endpoint(region string) string {
	if region == "" {
		region = credential.DefaultRegion
	}
	return "https://codewhisperer." + region + ".amazonaws.com/generateAssistantResponse"
}

// buildBody embeds profile_arn only for Kiro Desktop credentials, per
// §4.7: device-code credentials must omit it or upstream returns 403.
func buildBody(conversation []byte, rec *credential.Record) []byte {
	if rec.Source != credential.SourceKiroDesktop || rec.ProfileARN == "" {
		return conversation
	}
	body := make([]byte, 0, len(conversation)+len(rec.ProfileARN)+20)
	if len(conversation) >= 2 && conversation[len(conversation)-1] == '}' {
		body = append(body, conversation[:len(conversation)-1]...)
		body = append(body, []byte(fmt.Sprintf(`,"profileArn":%q}`, rec.ProfileARN))...)
		return body
	}
	return conversation
}

func (c *Client) newRequest(ctx context.Context, url string, rec *credential.Record, conversation []byte) (*http.Request, error) {
	body := buildBody(conversation, rec)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", kiroContentType)
	req.Header.Set("x-amz-target", kiroTarget)
	req.Header.Set("Authorization", "Bearer "+rec.AccessToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("x-kiro-gateway-fingerprint", c.fingerprint)
	return req, nil
}

// Generate issues the request with §4.7's exponential backoff retry
// policy and returns the live, unbuffered response handle on the first
// non-retryable outcome. The caller (C8) owns the response body.
func (c *Client) Generate(ctx context.Context, rec *credential.Record, conversation []byte) (*http.Response, error) {
	return c.generateAgainst(ctx, endpoint(rec.RegionOrDefault()), rec, conversation)
}

// generateAgainst is Generate parameterized by URL, split out so tests can
// point it at an httptest.Server instead of the real CodeWhisperer endpoint.
func (c *Client) generateAgainst(ctx context.Context, url string, rec *credential.Record, conversation []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempt; attempt++ {
		if attempt > 1 {
			delay := retryBase * time.Duration(1<<uint(attempt-2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := c.newRequest(ctx, url, rec, conversation)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			log.Debugf("upstream: attempt %d transport error: %v", attempt, err)
			metrics.UpstreamRetriesTotal.WithLabelValues("transport_error").Inc()
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			lastErr = apperrors.UpstreamHTTPError(resp.StatusCode, "unauthorized")
			metrics.UpstreamRetriesTotal.WithLabelValues("unauthorized").Inc()
			if c.refresher != nil {
				if update, refreshErr := c.refresher.Refresh(ctx, rec); refreshErr != nil {
					log.Warnf("upstream: force_refresh after 401 failed: %v", refreshErr)
				} else {
					applyTokenUpdate(rec, update)
				}
			}
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = apperrors.UpstreamHTTPError(resp.StatusCode, "upstream server error")
			metrics.UpstreamRetriesTotal.WithLabelValues("server_error").Inc()
			continue
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			if log.IsLevelEnabled(log.DebugLevel) {
				log.Debugf("upstream: rejected request body: %s", util.RedactSensitiveJSON(buildBody(conversation, rec)))
			}
			metrics.UpstreamRequestsTotal.WithLabelValues("rejected").Inc()
			return nil, apperrors.UpstreamHTTPError(resp.StatusCode, "upstream rejected the request")
		}

		metrics.UpstreamRequestsTotal.WithLabelValues("success").Inc()
		return resp, nil
	}
	metrics.UpstreamRequestsTotal.WithLabelValues("exhausted").Inc()
	return nil, lastErr
}
