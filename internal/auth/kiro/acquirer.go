package kiro

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
	"github.com/pkg/browser"
)

// Acquirer implements C4: the two mutually exclusive credential-acquisition
// flows (PKCE social login, AWS SSO-OIDC device-code login). Starting a new
// flow cancels any in-progress flow via context.CancelFunc — the same
// pattern as the teacher's StartAutoRefresh/StopAutoRefresh in
// conductor_token.go, applied here to OAuth flows instead of the refresh
// ticker. At most one flow is active per Acquirer.
type Acquirer struct {
	httpClient *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAcquirer builds an Acquirer using httpClient for upstream calls.
func NewAcquirer(httpClient *http.Client) *Acquirer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Acquirer{httpClient: httpClient}
}

// Cancel stops any in-progress flow. Any HTTP call already in flight is
// allowed to complete; its result is discarded.
func (a *Acquirer) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

func (a *Acquirer) beginFlow(parent context.Context) context.Context {
	a.Cancel()
	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return ctx
}

// SocialLoginOptions configures a PKCE social login attempt.
type SocialLoginOptions struct {
	Provider      SocialProvider
	Region        string
	PortRangeFrom int
	PortRangeTo   int
	OpenBrowser   bool
}

// StartSocialLogin runs the full PKCE redirect flow (§4.3): generate PKCE
// codes and state, bind a callback port, print/open the authorization URL,
// wait for the single callback, and exchange the code for tokens.
func (a *Acquirer) StartSocialLogin(parent context.Context, opts SocialLoginOptions) (*credential.Record, error) {
	ctx := a.beginFlow(parent)
	defer a.Cancel()

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, fmt.Errorf("kiro: generate pkce: %w", err)
	}
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("kiro: generate state: %w", err)
	}

	portFrom, portTo := opts.PortRangeFrom, opts.PortRangeTo
	if portFrom == 0 {
		portFrom, portTo = 51455, 51465
	}
	listener, err := listenOnFreePort(portFrom, portTo)
	if err != nil {
		return nil, err
	}

	authURL := buildLoginURL(opts.Provider, opts.Region, listener.redirectURI(), pkce.CodeChallenge, state)

	go listener.serve(ctx, state)

	fmt.Printf("Open this URL to sign in: %s\n", authURL)
	if opts.OpenBrowser {
		_ = browser.OpenURL(authURL)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-listener.results:
		if result.Error == "state_mismatch" {
			return nil, apperrors.OAuthStateMismatch()
		}
		if result.Error != "" {
			return nil, apperrors.OAuthProviderError(result.Error)
		}
		return a.exchangeCode(ctx, opts.Region, result.Code, pkce.CodeVerifier, listener.redirectURI())
	}
}

// DeviceLoginOptions configures the AWS SSO-OIDC device-code flow.
type DeviceLoginOptions struct {
	Region      string
	AuthTimeout time.Duration
	// OnVerification is invoked once the verification URL and user code are
	// known, so the caller can display them before polling begins.
	OnVerification func(verificationURI, verificationURIComplete, userCode string)
}

// StartDeviceLogin runs §4.3's device-code flow end to end: register a
// client, start device authorization, report the verification URL to the
// caller, and poll until success, denial, or expiry.
func (a *Acquirer) StartDeviceLogin(parent context.Context, opts DeviceLoginOptions) (*credential.Record, error) {
	timeout := opts.AuthTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(a.beginFlow(parent), timeout)
	defer cancel()
	defer a.Cancel()

	region := opts.Region
	if region == "" {
		region = credential.DefaultRegion
	}

	auth, err := a.startDeviceAuthorization(ctx, region)
	if err != nil {
		return nil, err
	}
	if opts.OnVerification != nil {
		opts.OnVerification(auth.VerificationURI, auth.VerificationURIComplete, auth.UserCode)
	}

	return a.pollDeviceToken(ctx, region, auth)
}
