package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Refresher implements C3: given a record, obtain a fresh access token (and
// optionally a new refresh token / expiry) and report it back as a
// credential.TokenUpdate for the caller to persist via the store.
//
// Per-record mutual exclusion (invariant 5) is a singleflight.Group keyed
// by record id — the same shape as the teacher's markRefreshPending
// pattern in conductor_token.go, generalized from a single in-flight
// marker into a real request-coalescing primitive: concurrent Refresh
// calls on the same id share one upstream round trip and one result
// instead of merely taking turns, while distinct ids proceed in parallel.
// Records that have no id yet (zero, e.g. per-request bearer records) are
// refreshed without coalescing, since distinct such records share that id.
type Refresher struct {
	httpClient *http.Client
	inflight   singleflight.Group
}

// NewRefresher builds a Refresher using httpClient for upstream calls. A
// zero-value httpClient defaults to http.DefaultClient's behaviour with a
// 30s timeout.
func NewRefresher(httpClient *http.Client) *Refresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Refresher{httpClient: httpClient}
}

// Refresh dispatches on the record's credentials (§4.2's precedence order)
// and returns the token update to persist. The record itself is never
// mutated; callers persist the result through the store.
func (r *Refresher) Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error) {
	if rec.RefreshToken == "" {
		return credential.TokenUpdate{}, apperrors.MissingRefreshToken(rec.ID)
	}

	if !rec.UsesDeviceCodeCredentials() && rec.AuthKind != credential.AuthKindSocial {
		return credential.TokenUpdate{}, apperrors.MissingCredentials(rec.ID)
	}

	run := func() (any, error) {
		if rec.UsesDeviceCodeCredentials() {
			return r.refreshDeviceCode(ctx, rec)
		}
		return r.refreshSocial(ctx, rec)
	}
	var v any
	var err error
	if rec.ID == 0 {
		v, err = run()
	} else {
		v, err, _ = r.inflight.Do(strconv.FormatInt(rec.ID, 10), run)
	}
	if err != nil {
		return credential.TokenUpdate{}, err
	}
	return v.(credential.TokenUpdate), nil
}

type ssoTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// refreshDeviceCode implements §4.2 rule 1: a regional AWS SSO-OIDC
// refresh_token grant, used for both builder_id and idc records whenever
// client credentials are present.
func (r *Refresher) refreshDeviceCode(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error) {
	payload := map[string]string{
		"clientId":     rec.ClientID,
		"clientSecret": rec.ClientSecret,
		"grantType":    "refresh_token",
		"refreshToken": rec.RefreshToken,
	}
	endpoint := ssoOIDCEndpoint(rec.RegionOrDefault()) + "/token"

	var resp ssoTokenResponse
	if err := r.postJSON(ctx, endpoint, payload, &resp); err != nil {
		return credential.TokenUpdate{}, err
	}
	if resp.AccessToken == "" {
		return credential.TokenUpdate{}, apperrors.MalformedUpstreamResponse("accessToken")
	}

	exp := expiresAt(resp.ExpiresIn)
	update := credential.TokenUpdate{AccessToken: resp.AccessToken, ExpiresAt: &exp}
	if resp.RefreshToken != "" {
		update.RefreshToken = &resp.RefreshToken
	}
	return update, nil
}

type socialTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ProfileArn   string `json:"profileArn"`
	ExpiresIn    int    `json:"expiresIn"`
}

// refreshSocial implements §4.2 rule 2: Kiro's own auth-service
// /refreshToken endpoint, used for social records with no client
// credentials.
func (r *Refresher) refreshSocial(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error) {
	payload := map[string]string{"refreshToken": rec.RefreshToken}
	endpoint := authServiceEndpoint(rec.RegionOrDefault()) + "/refreshToken"

	var resp socialTokenResponse
	if err := r.postJSON(ctx, endpoint, payload, &resp); err != nil {
		return credential.TokenUpdate{}, err
	}
	if resp.AccessToken == "" {
		return credential.TokenUpdate{}, apperrors.MalformedUpstreamResponse("accessToken")
	}

	exp := expiresAt(resp.ExpiresIn)
	update := credential.TokenUpdate{AccessToken: resp.AccessToken, ExpiresAt: &exp}
	if resp.RefreshToken != "" {
		update.RefreshToken = &resp.RefreshToken
	}
	if resp.ProfileArn != "" {
		update.ProfileARN = &resp.ProfileArn
	}
	return update, nil
}

// postJSON issues the POST and classifies failures per §4.2: 401 becomes
// refresh_token_expired, any other non-2xx becomes refresh_transport_error,
// success is decoded into out.
func (r *Refresher) postJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kiro: marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("kiro: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", kiroUserAgent)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return apperrors.RefreshTransportError(0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.RefreshTransportError(resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.RefreshTokenExpired(fmt.Errorf("refresh rejected: %s", respBody))
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.RefreshTransportError(resp.StatusCode, fmt.Errorf("%s", respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		log.Debugf("kiro: refresh response decode failed: %v, body=%s", err, respBody)
		return apperrors.MalformedUpstreamResponse(err.Error())
	}
	return nil
}
