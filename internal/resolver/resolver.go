// Package resolver implements the Request Auth Resolver (C6): per-request
// selection among a pool account, a single process-wide credential, or a
// client-presented bearer token, unified behind one Resolve call.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
	log "github.com/sirupsen/logrus"
)

// Mode selects which of the three resolution strategies is active.
type Mode string

const (
	ModePool       Mode = "pool"
	ModeSingle     Mode = "single"
	ModePerRequest Mode = "per_request"
)

const (
	bearerCacheIdleTTL  = 300 * time.Second
	bearerSweepInterval = 600 * time.Second
)

// Pool is the subset of pool.Pool the resolver depends on.
type Pool interface {
	Next() *credential.Record
	Len() int
}

// Refresher is the subset of kiro.Refresher the resolver depends on, used
// both for the single-credential mode and for per-request bearer
// validation.
type Refresher interface {
	Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error)
}

// bearerEntry is one row of the per-request cache (§4.6's Session Token).
type bearerEntry struct {
	record     *credential.Record
	createdAt  time.Time
	lastUsedAt time.Time
}

// Resolver implements C6. It is safe for concurrent use.
type Resolver struct {
	mode      Mode
	pool      Pool
	refresher Refresher
	single    *credential.Record

	mu    sync.Mutex
	cache map[string]*bearerEntry

	now func() time.Time
}

// Options configures a Resolver.
type Options struct {
	Mode      Mode
	Pool      Pool
	Refresher Refresher
	// Single is the process-wide credential used in ModeSingle, and as the
	// ModePool fallback when the pool is empty (§4.6 step 1).
	Single *credential.Record
}

// New builds a Resolver. The caller is responsible for starting the
// background bearer-cache sweep via StartSweep if ModePerRequest is used.
func New(opts Options) *Resolver {
	return &Resolver{
		mode:      opts.Mode,
		pool:      opts.Pool,
		refresher: opts.Refresher,
		single:    opts.Single,
		cache:     make(map[string]*bearerEntry),
		now:       time.Now,
	}
}

// Resolve picks a credential for one inbound request. bearerToken is the
// raw value of the inbound Authorization header's bearer token, used only
// in ModePerRequest; it may be empty in the other two modes.
func (r *Resolver) Resolve(ctx context.Context, bearerToken string) (*credential.Record, error) {
	switch r.mode {
	case ModePool:
		if r.pool != nil {
			if rec := r.pool.Next(); rec != nil {
				return rec, nil
			}
		}
		return r.resolveSingle(ctx)
	case ModeSingle:
		return r.resolveSingle(ctx)
	case ModePerRequest:
		return r.resolveBearer(ctx, bearerToken)
	default:
		return nil, apperrors.AuthenticationError(nil)
	}
}

func (r *Resolver) resolveSingle(ctx context.Context) (*credential.Record, error) {
	if r.single == nil {
		return nil, apperrors.AuthenticationError(nil)
	}
	// The single credential is always in use, so its IsActive flag is not
	// consulted: refresh whenever it has no access token or is within
	// RefreshThreshold of expiry.
	if r.single.AccessToken == "" || r.single.ExpiresAt.Sub(r.now()) <= credential.RefreshThreshold {
		if err := r.refreshInPlace(ctx, r.single); err != nil {
			return nil, apperrors.AuthenticationError(err)
		}
	}
	return r.single, nil
}

// hashToken derives the Session Token (§3's Derived Types): the first 16
// hex characters of the SHA-256 digest of the raw bearer value. The raw
// token is never used as a cache key.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:16]
}

func (r *Resolver) resolveBearer(ctx context.Context, token string) (*credential.Record, error) {
	if token == "" {
		return nil, apperrors.AuthenticationError(nil)
	}
	key := hashToken(token)
	now := r.now()

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()

	if ok {
		if rec := entry.record; rec.ExpiringSoon(now) {
			if err := r.refreshInPlace(ctx, rec); err != nil {
				r.evict(key)
				return nil, apperrors.AuthenticationError(err)
			}
		}
		r.mu.Lock()
		entry.lastUsedAt = now
		r.mu.Unlock()
		return entry.record, nil
	}

	rec := &credential.Record{AuthKind: credential.AuthKindSocial, RefreshToken: token, IsActive: true}
	if err := r.refreshInPlace(ctx, rec); err != nil {
		return nil, apperrors.AuthenticationError(err)
	}

	r.mu.Lock()
	r.cache[key] = &bearerEntry{record: rec, createdAt: now, lastUsedAt: now}
	r.mu.Unlock()
	return rec, nil
}

func (r *Resolver) refreshInPlace(ctx context.Context, rec *credential.Record) error {
	if r.refresher == nil {
		return nil
	}
	update, err := r.refresher.Refresh(ctx, rec)
	if err != nil {
		return err
	}
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
	return nil
}

func (r *Resolver) evict(key string) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}

// sweep removes cache entries idle for more than bearerCacheIdleTTL
// (§4.6's background sweep, run every bearerSweepInterval).
func (r *Resolver) sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, entry := range r.cache {
		if now.Sub(entry.lastUsedAt) > bearerCacheIdleTTL {
			delete(r.cache, key)
			removed++
		}
	}
	return removed
}

// CacheLen reports the current number of cached bearer entries.
func (r *Resolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// StartSweep starts the background bearer-cache sweep loop, stopped when
// ctx is canceled. It is a no-op when the resolver isn't in ModePerRequest.
func (r *Resolver) StartSweep(ctx context.Context) {
	if r.mode != ModePerRequest {
		return
	}
	go func() {
		ticker := time.NewTicker(bearerSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.sweep(r.now()); n > 0 {
					log.Debugf("resolver: bearer cache sweep evicted %d idle entries", n)
				}
			}
		}
	}()
}
