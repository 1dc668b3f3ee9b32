// Package kiro implements the OAuth acquisition (C4) and token refresh (C3)
// protocols against AWS CodeWhisperer / Kiro: the AWS SSO-OIDC device-code
// flow for builder-id/idc credentials, and Kiro's own auth-service PKCE
// flow for social credentials.
package kiro

import "time"

// ssoOIDCEndpoint is the regional AWS SSO-OIDC service used by the
// device-code flow and by refresh for any record with client credentials.
func ssoOIDCEndpoint(region string) string {
	if region == "" {
		region = "us-east-1"
	}
	return "https://oidc." + region + ".amazonaws.com"
}

// authServiceEndpoint is Kiro's own auth service, used by the PKCE social
// login flow and by refresh for social records with no client credentials.
// Regional like ssoOIDCEndpoint above: §6.1 specifies
// https://prod.{region}.auth.desktop.kiro.dev.
func authServiceEndpoint(region string) string {
	if region == "" {
		region = "us-east-1"
	}
	return "https://prod." + region + ".auth.desktop.kiro.dev"
}

const kiroUserAgent = "KiroIDE-kiro-gateway"

// PKCECodes holds one PKCE verifier/challenge pair generated for a single
// authorization attempt.
type PKCECodes struct {
	CodeVerifier  string
	CodeChallenge string
}

// deviceScopes are requested on client registration for the device-code
// flow (§4.3 step 1).
var deviceScopes = []string{
	"codewhisperer:completions",
	"codewhisperer:analysis",
	"codewhisperer:conversations",
	"codewhisperer:transformations",
	"codewhisperer:taskassist",
}

func expiresAt(expiresIn int) time.Time {
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
