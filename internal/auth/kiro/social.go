package kiro

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jwadow/kiro-gateway/internal/credential"
	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
)

// SocialProvider identifies one of Kiro's auth-service identity providers.
type SocialProvider string

const (
	ProviderGoogle SocialProvider = "Google"
	ProviderGitHub SocialProvider = "Github"
)

type createTokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

func buildLoginURL(provider SocialProvider, region, redirectURI, codeChallenge, state string) string {
	return fmt.Sprintf("%s/login?idp=%s&redirect_uri=%s&code_challenge=%s&code_challenge_method=S256&state=%s&prompt=select_account",
		authServiceEndpoint(region), provider, url.QueryEscape(redirectURI), codeChallenge, state)
}

// exchangeCode implements §4.3 step 7: exchange the authorization code for
// tokens via Kiro's own auth-service /oauth/token endpoint.
func (a *Acquirer) exchangeCode(ctx context.Context, region, code, verifier, redirectURI string) (*credential.Record, error) {
	req := createTokenRequest{Code: code, CodeVerifier: verifier, RedirectURI: redirectURI}

	var resp socialTokenResponse
	if err := postJSONTo(ctx, a.httpClient, authServiceEndpoint(region)+"/oauth/token", req, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, apperrors.MalformedUpstreamResponse("accessToken")
	}

	return &credential.Record{
		AuthKind:     credential.AuthKindSocial,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ProfileARN:   resp.ProfileArn,
		Region:       region,
		ExpiresAt:    expiresAt(resp.ExpiresIn),
		Source:       credential.SourceKiroDesktop,
		IsActive:     true,
	}, nil
}
