package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
	log "github.com/sirupsen/logrus"
)

// fileRecord is the on-disk shape of one account in the JSON document
// (§6.5): every record field plus extra_data, times as RFC3339 with a
// trailing Z normalised on read.
type fileRecord struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	AuthMethod   string            `json:"auth_method"`
	Provider     string            `json:"provider,omitempty"`
	AccessToken  string            `json:"access_token,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	ProfileARN   string            `json:"profile_arn,omitempty"`
	Region       string            `json:"region"`
	ExpiresAt    string            `json:"expires_at,omitempty"`
	CreatedAt    string            `json:"created_at,omitempty"`
	UpdatedAt    string            `json:"updated_at,omitempty"`
	LastUsedAt   string            `json:"last_used_at,omitempty"`
	IsActive     bool              `json:"is_active"`
	RequestCount int64             `json:"request_count"`
	Source       string            `json:"source,omitempty"`
	ExtraData    map[string]string `json:"extra_data,omitempty"`
}

type fileDocument struct {
	NextID   int64        `json:"next_id"`
	Accounts []fileRecord `json:"accounts"`
}

// FileBackend is Backend B (§4.1): a single JSON document, full-document
// rewrites on every write, guarded by an in-process mutex. In-memory state
// is authoritative once loaded; disk is only re-read on construction,
// which resolves the divergence question in §10's open-questions list.
type FileBackend struct {
	mu   sync.Mutex
	path string
	doc  fileDocument
}

// OpenFile loads path (creating an empty document if it doesn't exist yet).
func OpenFile(path string) (*FileBackend, error) {
	b := &FileBackend{path: path, doc: fileDocument{NextID: 1}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("credstore: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return b, nil
	}
	if err := json.Unmarshal(raw, &b.doc); err != nil {
		return nil, fmt.Errorf("credstore: parse %s: %w", path, err)
	}
	if b.doc.NextID == 0 {
		b.doc.NextID = 1
	}
	return b, nil
}

func (b *FileBackend) Close() error { return nil }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toRecord(fr fileRecord) *credential.Record {
	return &credential.Record{
		ID:           fr.ID,
		Name:         fr.Name,
		AuthKind:     credential.AuthKind(fr.AuthMethod),
		Provider:     fr.Provider,
		AccessToken:  fr.AccessToken,
		RefreshToken: fr.RefreshToken,
		ProfileARN:   fr.ProfileARN,
		Region:       fr.Region,
		ExpiresAt:    parseTime(fr.ExpiresAt),
		ClientID:     fr.ExtraData["clientId"],
		ClientSecret: fr.ExtraData["clientSecret"],
		IsActive:     fr.IsActive,
		Source:       credential.Source(fr.Source),
		RequestCount: fr.RequestCount,
		LastUsedAt:   parseTime(fr.LastUsedAt),
		CreatedAt:    parseTime(fr.CreatedAt),
		UpdatedAt:    parseTime(fr.UpdatedAt),
	}
}

func fromRecord(r *credential.Record) fileRecord {
	fr := fileRecord{
		ID:           r.ID,
		Name:         r.Name,
		AuthMethod:   string(r.AuthKind),
		Provider:     r.Provider,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ProfileARN:   r.ProfileARN,
		Region:       r.Region,
		ExpiresAt:    formatTime(r.ExpiresAt),
		CreatedAt:    formatTime(r.CreatedAt),
		UpdatedAt:    formatTime(r.UpdatedAt),
		LastUsedAt:   formatTime(r.LastUsedAt),
		IsActive:     r.IsActive,
		RequestCount: r.RequestCount,
		Source:       string(r.Source),
	}
	if r.ClientID != "" || r.ClientSecret != "" {
		fr.ExtraData = map[string]string{"clientId": r.ClientID, "clientSecret": r.ClientSecret}
	}
	return fr
}

// persist rewrites the whole document to disk. Write failures are logged
// and not returned to the caller; they never invalidate the in-memory
// state, which remains authoritative per §4.1's failure semantics.
func (b *FileBackend) persist() error {
	if err := b.writeDocument(); err != nil {
		log.WithError(err).WithField("path", b.path).Warn("credential file write failed; in-memory state kept")
	}
	return nil
}

func (b *FileBackend) writeDocument() error {
	tmp := b.path + ".tmp"
	raw, err := json.MarshalIndent(b.doc, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(b.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, b.path)
}

func (b *FileBackend) indexOf(id int64) int {
	for i, a := range b.doc.Accounts {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (b *FileBackend) ListActive(ctx context.Context) ([]*credential.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*credential.Record
	for _, a := range b.doc.Accounts {
		if a.IsActive {
			out = append(out, toRecord(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *FileBackend) Get(ctx context.Context, id int64) (*credential.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return nil, credstore.ErrNotFound
	}
	return toRecord(b.doc.Accounts[i]), nil
}

func (b *FileBackend) Insert(ctx context.Context, f credstore.Fields) (*credential.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	r := &credential.Record{
		ID:           b.doc.NextID,
		Name:         f.Name,
		AuthKind:     f.AuthKind,
		Provider:     f.Provider,
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		ProfileARN:   f.ProfileARN,
		Region:       f.Region,
		ExpiresAt:    f.ExpiresAt,
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		IsActive:     f.IsActive,
		Source:       f.Source,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.doc.NextID++
	b.doc.Accounts = append(b.doc.Accounts, fromRecord(r))
	if err := b.persist(); err != nil {
		return r, err
	}
	return r, nil
}

func (b *FileBackend) Update(ctx context.Context, id int64, patch credential.Patch) (*credential.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return nil, credstore.ErrNotFound
	}
	r := toRecord(b.doc.Accounts[i])
	patch.Apply(r, time.Now().UTC())
	b.doc.Accounts[i] = fromRecord(r)
	if err := b.persist(); err != nil {
		return r, err
	}
	return r, nil
}

func (b *FileBackend) UpdateTokens(ctx context.Context, id int64, u credential.TokenUpdate) (*credential.Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return nil, credstore.ErrNotFound
	}
	r := toRecord(b.doc.Accounts[i])
	r.AccessToken = u.AccessToken
	if u.RefreshToken != nil {
		r.RefreshToken = *u.RefreshToken
	}
	if u.ExpiresAt != nil {
		r.ExpiresAt = *u.ExpiresAt
	}
	if u.ProfileARN != nil {
		r.ProfileARN = *u.ProfileARN
	}
	r.UpdatedAt = time.Now().UTC()
	b.doc.Accounts[i] = fromRecord(r)
	if err := b.persist(); err != nil {
		return r, err
	}
	return r, nil
}

func (b *FileBackend) Delete(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return credstore.ErrNotFound
	}
	b.doc.Accounts = append(b.doc.Accounts[:i], b.doc.Accounts[i+1:]...)
	return b.persist()
}

func (b *FileBackend) TotalRequestCount(ctx context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total int64
	for _, a := range b.doc.Accounts {
		total += a.RequestCount
	}
	return total, nil
}
