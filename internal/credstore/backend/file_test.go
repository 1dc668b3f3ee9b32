package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
)

func TestFileBackendInsertGetList(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accounts.json")
	b, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}

	r, err := b.Insert(ctx, credstore.Fields{
		Name: "acct-1", AuthKind: credential.AuthKindSocial, Region: "us-east-1",
		AccessToken: "tok", IsActive: true, Source: credential.SourceKiroDesktop,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.ID != 1 {
		t.Fatalf("expected id 1, got %d", r.ID)
	}

	got, err := b.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "acct-1" || got.AccessToken != "tok" {
		t.Fatalf("unexpected record: %+v", got)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	active, err := reopened.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Name != "acct-1" {
		t.Fatalf("expected reloaded record to survive persist, got %+v", active)
	}
}

func TestFileBackendGetMissing(t *testing.T) {
	b, err := OpenFile(filepath.Join(t.TempDir(), "accounts.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(context.Background(), 99); err != credstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileBackendUpdateTokens(t *testing.T) {
	ctx := context.Background()
	b, err := OpenFile(filepath.Join(t.TempDir(), "accounts.json"))
	if err != nil {
		t.Fatal(err)
	}
	r, err := b.Insert(ctx, credstore.Fields{Name: "a", AccessToken: "old", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}

	newRefresh := "new-refresh"
	exp := time.Now().Add(time.Hour)
	updated, err := b.UpdateTokens(ctx, r.ID, credential.TokenUpdate{
		AccessToken: "new", RefreshToken: &newRefresh, ExpiresAt: &exp,
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.AccessToken != "new" || updated.RefreshToken != "new-refresh" {
		t.Fatalf("unexpected update result: %+v", updated)
	}
}

func TestFileBackendDelete(t *testing.T) {
	ctx := context.Background()
	b, err := OpenFile(filepath.Join(t.TempDir(), "accounts.json"))
	if err != nil {
		t.Fatal(err)
	}
	r, err := b.Insert(ctx, credstore.Fields{Name: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Delete(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, r.ID); err != credstore.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileBackendTotalRequestCount(t *testing.T) {
	ctx := context.Background()
	b, err := OpenFile(filepath.Join(t.TempDir(), "accounts.json"))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := b.Insert(ctx, credstore.Fields{Name: "a"})
	c, _ := b.Insert(ctx, credstore.Fields{Name: "b"})
	_, _ = b.Update(ctx, a.ID, credential.Patch{RequestCount: intPtr(5)})
	_, _ = b.Update(ctx, c.ID, credential.Patch{RequestCount: intPtr(3)})

	total, err := b.TotalRequestCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if total != 8 {
		t.Fatalf("expected total 8, got %d", total)
	}
}

func intPtr(v int64) *int64 { return &v }
