package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
)

// deviceAuthResult carries the user-facing verification details returned by
// StartDeviceAuthorization (§4.3 step 3).
type deviceAuthResult struct {
	VerificationURI         string
	VerificationURIComplete string
	UserCode                string
	DeviceCode              string
	Interval                time.Duration
	ExpiresAt               time.Time
	ClientID                string
	ClientSecret            string
}

type registerClientResponse struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type startDeviceAuthResponse struct {
	DeviceCode              string `json:"deviceCode"`
	UserCode                string `json:"userCode"`
	VerificationURI         string `json:"verificationUri"`
	VerificationURIComplete string `json:"verificationUriComplete"`
	ExpiresIn               int    `json:"expiresIn"`
	Interval                int    `json:"interval"`
}

type createTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

const builderIDStartURL = "https://view.awsapps.com/start"

// startDeviceAuthorization runs §4.3's device-code steps 1-3: register a
// client, start device authorization, and return what the caller needs to
// show the user plus what the poll loop needs to continue.
func (a *Acquirer) startDeviceAuthorization(ctx context.Context, region string) (*deviceAuthResult, error) {
	endpoint := ssoOIDCEndpoint(region)

	var reg registerClientResponse
	registerPayload := map[string]any{
		"clientName": "kiro-gateway",
		"clientType": "public",
		"scopes":     deviceScopes,
	}
	if err := postJSONTo(ctx, a.httpClient, endpoint+"/client/register", registerPayload, &reg); err != nil {
		return nil, err
	}
	if reg.ClientID == "" || reg.ClientSecret == "" {
		return nil, apperrors.MalformedUpstreamResponse("clientId/clientSecret")
	}

	var auth startDeviceAuthResponse
	authPayload := map[string]string{
		"clientId":     reg.ClientID,
		"clientSecret": reg.ClientSecret,
		"startUrl":     builderIDStartURL,
	}
	if err := postJSONTo(ctx, a.httpClient, endpoint+"/device_authorization", authPayload, &auth); err != nil {
		return nil, err
	}
	if auth.DeviceCode == "" {
		return nil, apperrors.MalformedUpstreamResponse("deviceCode")
	}

	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	expiresIn := auth.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 600
	}

	return &deviceAuthResult{
		VerificationURI:         auth.VerificationURI,
		VerificationURIComplete: auth.VerificationURIComplete,
		UserCode:                auth.UserCode,
		DeviceCode:              auth.DeviceCode,
		Interval:                interval,
		ExpiresAt:               time.Now().Add(time.Duration(expiresIn) * time.Second),
		ClientID:                reg.ClientID,
		ClientSecret:            reg.ClientSecret,
	}, nil
}

// pollDeviceToken implements §4.3 step 4: poll /token at the given cadence
// until success, denial, or expiry, classifying each response exactly as
// the spec's error table requires.
func (a *Acquirer) pollDeviceToken(ctx context.Context, region string, auth *deviceAuthResult) (*credential.Record, error) {
	endpoint := ssoOIDCEndpoint(region) + "/token"
	payload := map[string]string{
		"clientId":     auth.ClientID,
		"clientSecret": auth.ClientSecret,
		"deviceCode":   auth.DeviceCode,
		"grantType":    "urn:ietf:params:oauth:grant-type:device_code",
	}

	ticker := time.NewTicker(auth.Interval)
	defer ticker.Stop()

	for {
		if time.Now().After(auth.ExpiresAt) {
			return nil, apperrors.DeviceCodeExpired()
		}

		var resp createTokenResponse
		errCode, err := postJSONPollAware(ctx, a.httpClient, endpoint, payload, &resp)
		if err == nil {
			if resp.AccessToken == "" {
				return nil, apperrors.MalformedUpstreamResponse("accessToken")
			}
			return &credential.Record{
				AuthKind:     credential.AuthKindIdC,
				RefreshToken: resp.RefreshToken,
				AccessToken:  resp.AccessToken,
				ExpiresAt:    expiresAt(resp.ExpiresIn),
				ClientID:     auth.ClientID,
				ClientSecret: auth.ClientSecret,
				Region:       region,
				Source:       credential.SourceDeviceCode,
				IsActive:     true,
			}, nil
		}

		switch errCode {
		case "authorization_pending":
			// wait one interval and retry
		case "slow_down":
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
			}
		case "expired_token":
			return nil, apperrors.DeviceCodeExpired()
		case "access_denied":
			return nil, apperrors.UserDenied()
		case "":
			return nil, err
		default:
			return nil, apperrors.OAuthProviderError(errCode)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// postJSONTo is a standalone POST/decode helper shared by the device-code
// flow (which, unlike Refresher.postJSON, has no record id to key its
// errors on and needs the raw clientId/clientSecret registration shape).
func postJSONTo(ctx context.Context, client *http.Client, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("kiro: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("kiro: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", kiroUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return apperrors.RefreshTransportError(0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.RefreshTransportError(resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.RefreshTransportError(resp.StatusCode, fmt.Errorf("%s", respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperrors.MalformedUpstreamResponse(err.Error())
	}
	return nil
}

// postJSONPollAware behaves like postJSONTo but recognizes the device-code
// poll's error= body shape on a 4xx response instead of treating it as a
// transport failure.
func postJSONPollAware(ctx context.Context, client *http.Client, url string, payload, out any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("kiro: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("kiro: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", kiroUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", apperrors.RefreshTransportError(0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.RefreshTransportError(resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(respBody, out); err != nil {
			return "", apperrors.MalformedUpstreamResponse(err.Error())
		}
		return "", nil
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
		return errResp.Error, fmt.Errorf("device token poll: %s", errResp.Error)
	}
	return "", apperrors.RefreshTransportError(resp.StatusCode, fmt.Errorf("%s", respBody))
}
