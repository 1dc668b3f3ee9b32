// Package credential defines the central Credential Record entity shared by
// the store, the refresher, the account pool, and the upstream client.
package credential

import "time"

// AuthKind is the closed set of upstream authentication variants a record
// may carry. It is a pure tag: the refresh protocol actually used for a
// given record is a function of (AuthKind, ClientID/ClientSecret presence),
// not of AuthKind alone — see UsesDeviceCodeCredentials.
type AuthKind string

const (
	AuthKindSocial     AuthKind = "social"
	AuthKindBuilderID  AuthKind = "builder_id"
	AuthKindIdC        AuthKind = "idc"
)

// Source records where a credential was acquired. It drives whether the
// upstream client embeds profile_arn in outbound request bodies.
type Source string

const (
	SourceKiroDesktop Source = "kiro-desktop"
	SourceDeviceCode  Source = "device-code"
	SourceImport      Source = "import"
)

// Record is one upstream identity. It is immutable-after-commit from the
// point of view of every component but the store itself: callers receive
// copies (see Clone) and mutate through store/refresher operations, never
// in place.
type Record struct {
	ID           int64
	Name         string
	AuthKind     AuthKind
	Provider     string
	AccessToken  string
	RefreshToken string
	ProfileARN   string
	Region       string
	ExpiresAt    time.Time
	ClientID     string
	ClientSecret string
	IsActive     bool
	Source       Source
	RequestCount int64
	LastUsedAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Clone returns a deep copy safe to hand to a caller outside any lock.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// UsesDeviceCodeCredentials reports whether client_id/client_secret are both
// present, which per invariant 2 and the §4.2 dispatch rule forces the
// device-code (SSO-OIDC) refresh protocol regardless of AuthKind.
func (r *Record) UsesDeviceCodeCredentials() bool {
	return r.ClientID != "" && r.ClientSecret != ""
}

// DefaultRegion is applied whenever a record or request omits a region.
const DefaultRegion = "us-east-1"

// RegionOrDefault returns r.Region, falling back to DefaultRegion.
func (r *Record) RegionOrDefault() string {
	if r.Region == "" {
		return DefaultRegion
	}
	return r.Region
}

// HealthStatus is derived, never stored.
type HealthStatus string

const (
	HealthInactive     HealthStatus = "inactive"
	HealthNoToken      HealthStatus = "no_token"
	HealthExpired      HealthStatus = "expired"
	HealthExpiringSoon HealthStatus = "expiring_soon"
	HealthHealthy      HealthStatus = "healthy"
)

// RefreshThreshold is the "expiring soon" boundary used throughout the
// lifecycle: §3 Health status and §4.5 scheduling both key off it.
const RefreshThreshold = 600 * time.Second

// Health computes the derived health status of r as of now.
func (r *Record) Health(now time.Time) HealthStatus {
	if !r.IsActive {
		return HealthInactive
	}
	if r.AccessToken == "" {
		return HealthNoToken
	}
	if !now.Before(r.ExpiresAt) {
		return HealthExpired
	}
	if r.ExpiresAt.Sub(now) <= RefreshThreshold {
		return HealthExpiringSoon
	}
	return HealthHealthy
}

// ExpiringSoon reports whether r needs a refresh per the shared threshold.
func (r *Record) ExpiringSoon(now time.Time) bool {
	h := r.Health(now)
	return h == HealthExpiringSoon || h == HealthExpired
}
