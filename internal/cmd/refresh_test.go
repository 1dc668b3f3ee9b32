package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
)

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
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id int64) (*credential.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *fakeStore) Insert(ctx context.Context, f credstore.Fields) (*credential.Record, error) {
	id := int64(len(s.records) + 1)
	rec := &credential.Record{ID: id, Name: f.Name, AuthKind: f.AuthKind, AccessToken: f.AccessToken,
		RefreshToken: f.RefreshToken, ProfileARN: f.ProfileARN, Region: f.Region, ExpiresAt: f.ExpiresAt,
		ClientID: f.ClientID, ClientSecret: f.ClientSecret, IsActive: f.IsActive, Source: f.Source}
	s.records[id] = rec
	return rec.Clone(), nil
}

func (s *fakeStore) Update(ctx context.Context, id int64, patch credential.Patch) (*credential.Record, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, credstore.ErrNotFound
	}
	patch.Apply(r, time.Now())
	return r.Clone(), nil
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
	return r.Clone(), nil
}

func (s *fakeStore) Delete(ctx context.Context, id int64) error {
	if _, ok := s.records[id]; !ok {
		return credstore.ErrNotFound
	}
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
	failFor map[int64]bool
}

func (f *fakeRefresher) Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error) {
	if f.failFor != nil && f.failFor[rec.ID] {
		return credential.TokenUpdate{}, errors.New("refresh failed")
	}
	expires := time.Now().Add(time.Hour)
	return credential.TokenUpdate{AccessToken: "new-token", ExpiresAt: &expires}, nil
}

func TestRefreshTokensAll(t *testing.T) {
	store := newFakeStore(
		&credential.Record{ID: 1, Name: "alpha", IsActive: true},
		&credential.Record{ID: 2, Name: "beta", IsActive: true},
	)
	err := RefreshTokens(context.Background(), store, &fakeRefresher{}, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if store.records[1].AccessToken != "new-token" || store.records[2].AccessToken != "new-token" {
		t.Fatal("expected both records to be refreshed")
	}
}

func TestRefreshTokensFiltersByIdentifier(t *testing.T) {
	store := newFakeStore(
		&credential.Record{ID: 1, Name: "alpha", IsActive: true},
		&credential.Record{ID: 2, Name: "beta", IsActive: true},
	)
	err := RefreshTokens(context.Background(), store, &fakeRefresher{}, "alpha", true)
	if err != nil {
		t.Fatal(err)
	}
	if store.records[1].AccessToken != "new-token" {
		t.Fatal("expected alpha to be refreshed")
	}
	if store.records[2].AccessToken != "" {
		t.Fatal("expected beta to be untouched")
	}
}

func TestRefreshTokensNoMatchErrors(t *testing.T) {
	store := newFakeStore(&credential.Record{ID: 1, Name: "alpha", IsActive: true})
	err := RefreshTokens(context.Background(), store, &fakeRefresher{}, "nonexistent", true)
	if err == nil {
		t.Fatal("expected error for unmatched identifier")
	}
}

func TestRefreshTokensRecordsFailure(t *testing.T) {
	store := newFakeStore(&credential.Record{ID: 1, Name: "alpha", IsActive: true})
	err := RefreshTokens(context.Background(), store, &fakeRefresher{failFor: map[int64]bool{1: true}}, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if store.records[1].AccessToken == "new-token" {
		t.Fatal("expected failed refresh to leave the record untouched")
	}
}
