package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
)

type fakePool struct {
	records []*credential.Record
	idx     int
}

func (p *fakePool) Next() *credential.Record {
	if len(p.records) == 0 {
		return nil
	}
	rec := p.records[p.idx%len(p.records)]
	p.idx++
	return rec
}

func (p *fakePool) Len() int { return len(p.records) }

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error) {
	f.calls++
	if f.err != nil {
		return credential.TokenUpdate{}, f.err
	}
	exp := time.Now().Add(time.Hour)
	return credential.TokenUpdate{AccessToken: "refreshed-" + rec.RefreshToken, ExpiresAt: &exp}, nil
}

func TestResolvePoolMode(t *testing.T) {
	pool := &fakePool{records: []*credential.Record{{ID: 1, AccessToken: "a"}}}
	r := New(Options{Mode: ModePool, Pool: pool})
	rec, err := r.Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != 1 {
		t.Fatalf("expected pool record, got %+v", rec)
	}
}

func TestResolvePoolModeFallsBackToSingleWhenEmpty(t *testing.T) {
	pool := &fakePool{}
	single := &credential.Record{ID: 9, AccessToken: "s", ExpiresAt: time.Now().Add(time.Hour)}
	r := New(Options{Mode: ModePool, Pool: pool, Single: single})
	rec, err := r.Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != 9 {
		t.Fatalf("expected fallback to single credential, got %+v", rec)
	}
}

func TestResolveSingleModeRefreshesWhenExpiringSoon(t *testing.T) {
	single := &credential.Record{ID: 1, AccessToken: "old", ExpiresAt: time.Now().Add(time.Minute)}
	refresher := &fakeRefresher{}
	r := New(Options{Mode: ModeSingle, Single: single, Refresher: refresher})
	rec, err := r.Resolve(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one refresh call, got %d", refresher.calls)
	}
	if rec.AccessToken != "refreshed-" {
		t.Fatalf("unexpected access token: %s", rec.AccessToken)
	}
}

func TestResolveBearerModeFirstSightValidates(t *testing.T) {
	refresher := &fakeRefresher{}
	r := New(Options{Mode: ModePerRequest, Refresher: refresher})
	rec, err := r.Resolve(context.Background(), "client-token")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessToken != "refreshed-client-token" {
		t.Fatalf("unexpected access token: %s", rec.AccessToken)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected first-sight validation to refresh once, got %d", refresher.calls)
	}
	if r.CacheLen() != 1 {
		t.Fatalf("expected one cache entry, got %d", r.CacheLen())
	}
}

func TestResolveBearerModeConstructsActiveRecord(t *testing.T) {
	refresher := &fakeRefresher{}
	r := New(Options{Mode: ModePerRequest, Refresher: refresher})
	rec, err := r.Resolve(context.Background(), "client-token")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.IsActive {
		t.Fatal("expected a freshly-minted bearer record to be marked active, otherwise Health/ExpiringSoon never fire for it")
	}
}

func TestResolveBearerModeReuseSkipsRefreshWhenFresh(t *testing.T) {
	refresher := &fakeRefresher{}
	r := New(Options{Mode: ModePerRequest, Refresher: refresher})
	if _, err := r.Resolve(context.Background(), "client-token"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), "client-token"); err != nil {
		t.Fatal(err)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected reuse of a fresh cached credential to skip refresh, got %d calls", refresher.calls)
	}
}

func TestResolveBearerModeEmptyTokenFails(t *testing.T) {
	r := New(Options{Mode: ModePerRequest})
	_, err := r.Resolve(context.Background(), "")
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Code != apperrors.CodeAuthenticationError {
		t.Fatalf("expected authentication_error, got %v", err)
	}
}

func TestResolveBearerModeRefreshFailureEvicts(t *testing.T) {
	refresher := &fakeRefresher{}
	r := New(Options{Mode: ModePerRequest, Refresher: refresher})
	if _, err := r.Resolve(context.Background(), "client-token"); err != nil {
		t.Fatal(err)
	}

	refresher.err = apperrors.RefreshTokenExpired(nil)

	// Force the cached entry to look expiring-soon so reuse re-validates.
	r.mu.Lock()
	for _, entry := range r.cache {
		if entry != nil {
			entry.record.ExpiresAt = time.Now().Add(-time.Second)
		}
	}
	r.mu.Unlock()

	_, err := r.Resolve(context.Background(), "client-token")
	if err == nil {
		t.Fatal("expected refresh failure to surface as an error")
	}
	if r.CacheLen() != 0 {
		t.Fatalf("expected stale entry to be evicted, got %d entries", r.CacheLen())
	}
}

func TestBearerCacheSweepEvictsIdleEntries(t *testing.T) {
	r := New(Options{Mode: ModePerRequest, Refresher: &fakeRefresher{}})
	if _, err := r.Resolve(context.Background(), "client-token"); err != nil {
		t.Fatal(err)
	}
	removed := r.sweep(time.Now().Add(bearerCacheIdleTTL + time.Second))
	if removed != 1 {
		t.Fatalf("expected sweep to evict 1 idle entry, got %d", removed)
	}
	if r.CacheLen() != 0 {
		t.Fatalf("expected empty cache after sweep, got %d", r.CacheLen())
	}
}
