// Package cmd provides CLI command implementations for the gateway's
// login/refresh/logs/account surface (§7.4).
package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jwadow/kiro-gateway/internal/config"
	"github.com/jwadow/kiro-gateway/internal/credstore"
	"github.com/jwadow/kiro-gateway/internal/credstore/backend"
	log "github.com/sirupsen/logrus"
)

// defaultCredentialsPath is where the file-backed store lives when no
// DATABASE_URL selects the relational backend (§4.1).
func defaultCredentialsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "kiro-gateway", "credentials.json")
}

// OpenStoreForCLI selects the relational backend when cfg.DatabaseURL is
// set, otherwise the file-backed backend, per Open Question 2's
// resolution. If the relational backend fails to open, it falls back to
// the file-backed backend rather than failing the command outright
// (§4.1's "automatic fallback to Backend B on connection failure").
// Exported for use by the cmd/kiro-gateway entrypoint.
func OpenStoreForCLI(ctx context.Context, cfg *config.Config) (credstore.Store, error) {
	if cfg != nil && cfg.DatabaseURL != "" {
		store, err := backend.OpenSQL(ctx, cfg.DatabaseURL)
		if err == nil {
			return store, nil
		}
		log.WithError(err).Warn("store: failed to open relational backend, falling back to file-backed store")
	}

	path := defaultCredentialsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return backend.OpenFile(path)
}
