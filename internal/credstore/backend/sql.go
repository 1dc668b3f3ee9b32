// Package backend implements the two Credential Store backends behind the
// credstore.Store interface: a relational table (Postgres via pgx, or a
// local SQLite file) and a JSON document file.
package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
)

// SQLBackend is Backend A (§4.1): a relational table reachable through
// database/sql. The driver is selected by DSN shape: a postgres:// URL
// opens through the pgx stdlib driver, anything else is treated as a
// SQLite file path opened through modernc.org/sqlite (pure Go, no cgo) —
// the same driver the credential-import path in the teacher used for
// reading a local SQLite database, here used for a first-class read/write
// store instead of read-only peeking.
type SQLBackend struct {
	db     *sql.DB
	driver string
}

const createTableSQLite = `
CREATE TABLE IF NOT EXISTS kiro_accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	auth_method TEXT,
	provider TEXT,
	access_token TEXT,
	refresh_token TEXT,
	profile_arn TEXT,
	region TEXT,
	expires_at TEXT,
	created_at TEXT,
	updated_at TEXT,
	last_used_at TEXT,
	is_active INTEGER DEFAULT 1,
	request_count INTEGER DEFAULT 0,
	source TEXT,
	extra_data TEXT
)`

const createTablePostgres = `
CREATE TABLE IF NOT EXISTS kiro_accounts (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	auth_method TEXT,
	provider TEXT,
	access_token TEXT,
	refresh_token TEXT,
	profile_arn TEXT,
	region TEXT,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ,
	last_used_at TIMESTAMPTZ,
	is_active BOOLEAN DEFAULT true,
	request_count BIGINT DEFAULT 0,
	source TEXT,
	extra_data JSONB
)`

// OpenSQL opens dsn, picking the driver by scheme, creates the table if
// absent, and returns a ready Store.
func OpenSQL(ctx context.Context, dsn string) (*SQLBackend, error) {
	driver := "sqlite"
	createStmt := createTableSQLite
	openDSN := dsn
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
		createStmt = createTablePostgres
	}

	db, err := sql.Open(driver, openDSN)
	if err != nil {
		return nil, fmt.Errorf("credstore: open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: ping %s: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		db.Close()
		return nil, fmt.Errorf("credstore: create table: %w", err)
	}
	return &SQLBackend{db: db, driver: driver}, nil
}

func (b *SQLBackend) Close() error { return b.db.Close() }

type extraData struct {
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

func (b *SQLBackend) placeholder(n int) string {
	if b.driver == "pgx" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

const selectColumns = `id, name, auth_method, provider, access_token, refresh_token, profile_arn, region,
	expires_at, created_at, updated_at, last_used_at, is_active, request_count, source, extra_data`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner) (*credential.Record, error) {
	var (
		r            credential.Record
		authMethod   sql.NullString
		provider     sql.NullString
		accessToken  sql.NullString
		refreshToken sql.NullString
		profileArn   sql.NullString
		region       sql.NullString
		expiresAt    sql.NullTime
		createdAt    sql.NullTime
		updatedAt    sql.NullTime
		lastUsedAt   sql.NullTime
		isActive     sql.NullBool
		requestCount sql.NullInt64
		source       sql.NullString
		extraRaw     sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Name, &authMethod, &provider, &accessToken, &refreshToken,
		&profileArn, &region, &expiresAt, &createdAt, &updatedAt, &lastUsedAt,
		&isActive, &requestCount, &source, &extraRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, credstore.ErrNotFound
		}
		return nil, err
	}
	r.AuthKind = credential.AuthKind(authMethod.String)
	r.Provider = provider.String
	r.AccessToken = accessToken.String
	r.RefreshToken = refreshToken.String
	r.ProfileARN = profileArn.String
	r.Region = region.String
	r.ExpiresAt = expiresAt.Time
	r.CreatedAt = createdAt.Time
	r.UpdatedAt = updatedAt.Time
	r.LastUsedAt = lastUsedAt.Time
	r.IsActive = isActive.Bool
	r.RequestCount = requestCount.Int64
	r.Source = credential.Source(source.String)
	if extraRaw.Valid && extraRaw.String != "" {
		var ex extraData
		if err := json.Unmarshal([]byte(extraRaw.String), &ex); err == nil {
			r.ClientID = ex.ClientID
			r.ClientSecret = ex.ClientSecret
		}
	}
	return &r, nil
}

func (b *SQLBackend) ListActive(ctx context.Context) ([]*credential.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM kiro_accounts WHERE is_active = %s ORDER BY id", selectColumns, b.activeLiteral())
	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*credential.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *SQLBackend) activeLiteral() string {
	if b.driver == "pgx" {
		return "true"
	}
	return "1"
}

func (b *SQLBackend) Get(ctx context.Context, id int64) (*credential.Record, error) {
	query := fmt.Sprintf("SELECT %s FROM kiro_accounts WHERE id = %s", selectColumns, b.placeholder(1))
	row := b.db.QueryRowContext(ctx, query, id)
	return scanRecord(row)
}

func (b *SQLBackend) Insert(ctx context.Context, f credstore.Fields) (*credential.Record, error) {
	now := time.Now().UTC()
	extra, _ := json.Marshal(extraData{ClientID: f.ClientID, ClientSecret: f.ClientSecret})

	var id int64
	if b.driver == "pgx" {
		query := `INSERT INTO kiro_accounts
			(name, auth_method, provider, access_token, refresh_token, profile_arn, region,
			 expires_at, created_at, updated_at, is_active, request_count, source, extra_data)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13) RETURNING id`
		err := b.db.QueryRowContext(ctx, query, f.Name, string(f.AuthKind), f.Provider, f.AccessToken,
			f.RefreshToken, f.ProfileARN, f.Region, f.ExpiresAt, now, now, f.IsActive, string(f.Source), extra).Scan(&id)
		if err != nil {
			return nil, err
		}
	} else {
		query := `INSERT INTO kiro_accounts
			(name, auth_method, provider, access_token, refresh_token, profile_arn, region,
			 expires_at, created_at, updated_at, is_active, request_count, source, extra_data)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,0,?,?)`
		res, err := b.db.ExecContext(ctx, query, f.Name, string(f.AuthKind), f.Provider, f.AccessToken,
			f.RefreshToken, f.ProfileARN, f.Region, f.ExpiresAt, now, now, f.IsActive, string(f.Source), extra)
		if err != nil {
			return nil, err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	}
	return b.Get(ctx, id)
}

func (b *SQLBackend) Update(ctx context.Context, id int64, patch credential.Patch) (*credential.Record, error) {
	r, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	patch.Apply(r, now)

	query := fmt.Sprintf(`UPDATE kiro_accounts SET name=%s, is_active=%s, profile_arn=%s, region=%s,
		request_count=%s, last_used_at=%s, updated_at=%s WHERE id=%s`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4),
		b.placeholder(5), b.placeholder(6), b.placeholder(7), b.placeholder(8))
	_, err = b.db.ExecContext(ctx, query, r.Name, r.IsActive, r.ProfileARN, r.Region,
		r.RequestCount, r.LastUsedAt, r.UpdatedAt, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (b *SQLBackend) UpdateTokens(ctx context.Context, id int64, u credential.TokenUpdate) (*credential.Record, error) {
	r, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
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
	r.UpdatedAt = now

	query := fmt.Sprintf(`UPDATE kiro_accounts SET access_token=%s, refresh_token=%s, profile_arn=%s,
		expires_at=%s, updated_at=%s WHERE id=%s`,
		b.placeholder(1), b.placeholder(2), b.placeholder(3), b.placeholder(4), b.placeholder(5), b.placeholder(6))
	_, err = b.db.ExecContext(ctx, query, r.AccessToken, r.RefreshToken, r.ProfileARN, r.ExpiresAt, r.UpdatedAt, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (b *SQLBackend) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM kiro_accounts WHERE id = %s", b.placeholder(1))
	_, err := b.db.ExecContext(ctx, query, id)
	return err
}

func (b *SQLBackend) TotalRequestCount(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := b.db.QueryRowContext(ctx, "SELECT SUM(request_count) FROM kiro_accounts").Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}
