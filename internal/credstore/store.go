// Package credstore implements the Credential Store contract (C2): two
// interchangeable backends — a relational table and a JSON document file —
// behind one interface, selected by the presence of DATABASE_URL.
package credstore

import (
	"context"
	"errors"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
)

// ErrNotFound is returned by Get when no record with the given id exists.
var ErrNotFound = errors.New("credstore: record not found")

// Fields describes the input to Insert. Unlike Patch, every field here is
// meaningful on creation; zero values are accepted (e.g. empty ProfileARN).
type Fields struct {
	Name         string
	AuthKind     credential.AuthKind
	Provider     string
	AccessToken  string
	RefreshToken string
	ProfileARN   string
	Region       string
	ExpiresAt    time.Time
	ClientID     string
	ClientSecret string
	IsActive     bool
	Source       credential.Source
}

// Store is the contract both backends satisfy. Backend-specific errors
// never leak through it: callers only ever see ErrNotFound or a wrapped
// transport/IO error.
type Store interface {
	ListActive(ctx context.Context) ([]*credential.Record, error)
	Get(ctx context.Context, id int64) (*credential.Record, error)
	Insert(ctx context.Context, fields Fields) (*credential.Record, error)
	Update(ctx context.Context, id int64, patch credential.Patch) (*credential.Record, error)
	UpdateTokens(ctx context.Context, id int64, update credential.TokenUpdate) (*credential.Record, error)
	Delete(ctx context.Context, id int64) error
	TotalRequestCount(ctx context.Context) (int64, error)
	Close() error
}
