package credential

import "time"

// Patch describes a partial update to a Record. Nil fields are left
// untouched; this mirrors C2's update(id, patch) contract, which only
// touches the fields the caller supplies plus UpdatedAt.
type Patch struct {
	Name         *string
	IsActive     *bool
	ProfileARN   *string
	Region       *string
	RequestCount *int64
	LastUsedAt   *time.Time
}

// Apply mutates r in place according to p, and always bumps UpdatedAt.
func (p *Patch) Apply(r *Record, now time.Time) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.ProfileARN != nil {
		r.ProfileARN = *p.ProfileARN
	}
	if p.Region != nil {
		r.Region = *p.Region
	}
	if p.RequestCount != nil {
		r.RequestCount = *p.RequestCount
	}
	if p.LastUsedAt != nil {
		r.LastUsedAt = *p.LastUsedAt
	}
	r.UpdatedAt = now
}

// TokenUpdate is the specialised atomic update used by the refresher
// (update_tokens in §4.1). RefreshToken and ExpiresAt are optional: an
// absent RefreshToken means "keep the previous value" (§4.2).
type TokenUpdate struct {
	AccessToken  string
	RefreshToken *string
	ExpiresAt    *time.Time
	ProfileARN   *string
}
