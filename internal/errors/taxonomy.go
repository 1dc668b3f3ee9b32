package errors

import "net/http"

// Taxonomy codes raised by the credential lifecycle and streaming core.
const (
	CodeMissingRefreshToken     = "missing_refresh_token"
	CodeMissingClientCredentials = "missing_client_credentials"
	CodeMissingCredentials      = "missing_credentials"
	CodeRefreshTokenExpired     = "refresh_token_expired"
	CodeRefreshTransportError   = "refresh_transport_error"
	CodeMalformedUpstreamResponse = "malformed_upstream_response"
	CodeOAuthStateMismatch      = "oauth_state_mismatch"
	CodeOAuthProviderError      = "oauth_provider_error"
	CodeDeviceCodeExpired       = "device_code_expired"
	CodeUserDenied              = "user_denied"
	CodeAuthenticationError     = "authentication_error"
	CodeUpstreamHTTPError       = "upstream_http_error"
	CodeFirstTokenTimeout       = "first_token_timeout"
)

// MissingRefreshToken is raised by the refresher pre-flight when a record
// has no refresh_token to present upstream (invariant 1 violation).
func MissingRefreshToken(recordID int64) *AppError {
	return New(http.StatusUnprocessableEntity, CodeMissingRefreshToken, "record has no refresh token", nil)
}

// MissingClientCredentials is raised when device-code refresh is selected
// but client_id/client_secret are incomplete.
func MissingClientCredentials(recordID int64) *AppError {
	return New(http.StatusUnprocessableEntity, CodeMissingClientCredentials, "record is missing client_id/client_secret for device-code refresh", nil)
}

// MissingCredentials is raised when neither refresh protocol applies
// (§4.2 dispatch rule, fallthrough case).
func MissingCredentials(recordID int64) *AppError {
	return New(http.StatusUnprocessableEntity, CodeMissingCredentials, "record has no usable refresh protocol", nil)
}

// RefreshTokenExpired wraps an upstream 401 on refresh.
func RefreshTokenExpired(err error) *AppError {
	return New(http.StatusUnauthorized, CodeRefreshTokenExpired, "refresh token is no longer valid", err)
}

// RefreshTransportError wraps a non-401 HTTP failure during refresh.
func RefreshTransportError(status int, err error) *AppError {
	return New(status, CodeRefreshTransportError, "refresh request failed", err)
}

// MalformedUpstreamResponse is raised when a 200 response is missing a
// mandatory field (accessToken, clientId, deviceCode, ...).
func MalformedUpstreamResponse(detail string) *AppError {
	return New(http.StatusBadGateway, CodeMalformedUpstreamResponse, "upstream response missing required fields: "+detail, nil)
}

// OAuthStateMismatch is raised by the PKCE callback listener when the
// returned state does not match the one generated for the flow.
func OAuthStateMismatch() *AppError {
	return New(http.StatusBadRequest, CodeOAuthStateMismatch, "oauth state mismatch", nil)
}

// OAuthProviderError wraps an `error=` query parameter on the callback.
func OAuthProviderError(providerMessage string) *AppError {
	return New(http.StatusBadRequest, CodeOAuthProviderError, "oauth provider returned an error: "+providerMessage, nil)
}

// DeviceCodeExpired is raised when the device-code poll loop receives
// error=expired_token.
func DeviceCodeExpired() *AppError {
	return New(http.StatusGatewayTimeout, CodeDeviceCodeExpired, "device code expired before authorization completed", nil)
}

// UserDenied is raised when the device-code poll loop receives
// error=access_denied.
func UserDenied() *AppError {
	return New(http.StatusForbidden, CodeUserDenied, "user denied the authorization request", nil)
}

// AuthenticationError is the uniform 401 surfaced by the request auth
// resolver on any validation failure.
func AuthenticationError(err error) *AppError {
	return New(http.StatusUnauthorized, CodeAuthenticationError, "authentication failed", err)
}

// UpstreamHTTPError passes a non-retryable upstream status and message
// through to the downstream client.
func UpstreamHTTPError(status int, message string) *AppError {
	return New(status, CodeUpstreamHTTPError, message, nil)
}

// FirstTokenTimeout is raised when the watchdog exhausts its retry budget
// without receiving a first byte.
func FirstTokenTimeout(attempts int) *AppError {
	return New(http.StatusInternalServerError, CodeFirstTokenTimeout, "upstream did not send a first byte within the configured timeout", nil)
}
