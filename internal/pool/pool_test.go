package pool

import (
	"context"
	"testing"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
)

// fakeStore is an in-memory credstore.Store for pool tests.
type fakeStore struct {
	records map[int64]*credential.Record
}

func newFakeStore(records ...*credential.Record) *fakeStore {
	s := &fakeStore{records: make(map[int64]*credential.Record)}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

func (s *fakeStore) ListActive(ctx context.Context) ([]*credential.Record, error) {
	var out []*credential.Record
	for _, r := range s.records {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id int64) (*credential.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	return r, nil
}

func (s *fakeStore) Insert(ctx context.Context, fields credstore.Fields) (*credential.Record, error) {
	return nil, nil
}

func (s *fakeStore) Update(ctx context.Context, id int64, patch credential.Patch) (*credential.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	patch.Apply(r, time.Now())
	return r, nil
}

func (s *fakeStore) UpdateTokens(ctx context.Context, id int64, update credential.TokenUpdate) (*credential.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	r.AccessToken = update.AccessToken
	if update.ExpiresAt != nil {
		r.ExpiresAt = *update.ExpiresAt
	}
	if update.RefreshToken != nil {
		r.RefreshToken = *update.RefreshToken
	}
	return r, nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64) error {
	delete(s.records, id)
	return nil
}

func (s *fakeStore) TotalRequestCount(ctx context.Context) (int64, error) {
	var total int64
	for _, r := range s.records {
		total += r.RequestCount
	}
	return total, nil
}

func (s *fakeStore) Close() error { return nil }

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error) {
	f.calls++
	exp := time.Now().Add(time.Hour)
	return credential.TokenUpdate{AccessToken: "refreshed", ExpiresAt: &exp}, nil
}

func TestPoolRoundRobin(t *testing.T) {
	store := newFakeStore(
		&credential.Record{ID: 1, IsActive: true, AccessToken: "a"},
		&credential.Record{ID: 2, IsActive: true, AccessToken: "b"},
		&credential.Record{ID: 3, IsActive: true, AccessToken: "c"},
	)
	p := New(store, &fakeRefresher{})
	if err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	seen := make(map[int64]int)
	for i := 0; i < 6; i++ {
		rec := p.Next()
		if rec == nil {
			t.Fatal("expected a record")
		}
		seen[rec.ID]++
	}
	for id, count := range seen {
		if count != 2 {
			t.Fatalf("record %d seen %d times, expected 2", id, count)
		}
	}
}

func TestPoolNextEmpty(t *testing.T) {
	p := New(newFakeStore(), &fakeRefresher{})
	if err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec := p.Next(); rec != nil {
		t.Fatalf("expected nil from empty pool, got %+v", rec)
	}
}

func TestPoolDeactivateResetsCursor(t *testing.T) {
	store := newFakeStore(
		&credential.Record{ID: 1, IsActive: true},
		&credential.Record{ID: 2, IsActive: true},
	)
	p := New(store, &fakeRefresher{})
	if err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	p.Next()
	p.Next()
	if p.cursor != 0 {
		t.Fatalf("expected cursor to wrap to 0, got %d", p.cursor)
	}

	if err := p.Deactivate(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if p.Len() != 1 {
		t.Fatalf("expected 1 record left, got %d", p.Len())
	}
	rec := p.Next()
	if rec == nil || rec.ID != 1 {
		t.Fatalf("expected remaining record 1, got %+v", rec)
	}
}

func TestPoolRefreshAllSkipsHealthy(t *testing.T) {
	store := newFakeStore(
		&credential.Record{ID: 1, IsActive: true, AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)},
		&credential.Record{ID: 2, IsActive: true, AccessToken: "b", ExpiresAt: time.Now().Add(time.Minute)},
	)
	refresher := &fakeRefresher{}
	p := New(store, refresher)
	if err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	count := p.RefreshAll(context.Background(), false)
	if count != 1 {
		t.Fatalf("expected 1 refresh (expiring-soon record only), got %d", count)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected refresher called once, got %d", refresher.calls)
	}
}

func TestPoolRefreshAllForce(t *testing.T) {
	store := newFakeStore(
		&credential.Record{ID: 1, IsActive: true, AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)},
		&credential.Record{ID: 2, IsActive: true, AccessToken: "b", ExpiresAt: time.Now().Add(time.Hour)},
	)
	refresher := &fakeRefresher{}
	p := New(store, refresher)
	if err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	count := p.RefreshAll(context.Background(), true)
	if count != 2 {
		t.Fatalf("expected force refresh of both records, got %d", count)
	}
}

func TestNextCheckDelayClamping(t *testing.T) {
	if d := NextCheckDelay(0, false); d != fallbackTickUnknown {
		t.Fatalf("expected fallback delay for unknown ttl, got %v", d)
	}
	if d := NextCheckDelay(5*time.Minute, true); d != minRefreshInterval {
		t.Fatalf("expected MIN_REFRESH_INTERVAL at/under threshold, got %v", d)
	}
	if d := NextCheckDelay(2*time.Hour, true); d != maxCheckInterval {
		t.Fatalf("expected clamp to MAX_CHECK_INTERVAL for distant ttl, got %v", d)
	}
}
