package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
)

// Refresher is the C3 contract required by RefreshTokens; internal/auth/kiro.Refresher
// satisfies it directly.
type Refresher interface {
	Refresh(ctx context.Context, rec *credential.Record) (credential.TokenUpdate, error)
}

// RefreshResult holds the result of one record's refresh attempt.
type RefreshResult struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// RefreshTokens refreshes every active record matching identifier (by id
// or name substring); an empty identifier refreshes every active record,
// driving C3 directly rather than through the pool's tick (§7.4's `refresh`
// subcommand is an on-demand sweep, distinct from the pool's background loop).
func RefreshTokens(ctx context.Context, store credstore.Store, refresher Refresher, identifier string, jsonOutput bool) error {
	records, err := store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	identifier = strings.TrimSpace(strings.ToLower(identifier))

	var toRefresh []*credential.Record
	for _, rec := range records {
		if identifier == "" {
			toRefresh = append(toRefresh, rec)
			continue
		}
		idStr := strconv.FormatInt(rec.ID, 10)
		name := strings.ToLower(rec.Name)
		if idStr == identifier || name == identifier || strings.Contains(name, identifier) {
			toRefresh = append(toRefresh, rec)
		}
	}

	if len(toRefresh) == 0 {
		if identifier != "" {
			return fmt.Errorf("no matching accounts found for: %s", identifier)
		}
		if jsonOutput {
			return outputJSON([]RefreshResult{})
		}
		fmt.Printf("%sNo accounts found to refresh%s\n", colorYellow, colorReset)
		return nil
	}

	results := make([]RefreshResult, 0, len(toRefresh))

	if !jsonOutput {
		fmt.Printf("\n%s%sRefreshing tokens...%s\n", colorBold, colorCyan, colorReset)
		fmt.Printf("%s─────────────────────────────%s\n\n", colorDim, colorReset)
	}

	for _, rec := range toRefresh {
		result := refreshOne(ctx, store, refresher, rec)
		results = append(results, result)
		if !jsonOutput {
			printRefreshResult(result)
		}
	}

	if jsonOutput {
		return outputJSON(results)
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}

	fmt.Printf("\n%s─────────────────────────────%s\n", colorDim, colorReset)
	fmt.Printf("Refreshed: %s%d succeeded%s", colorGreen, succeeded, colorReset)
	if failed > 0 {
		fmt.Printf(", %s%d failed%s", colorRed, failed, colorReset)
	}
	fmt.Printf("\n\n")

	return nil
}

func refreshOne(ctx context.Context, store credstore.Store, refresher Refresher, rec *credential.Record) RefreshResult {
	result := RefreshResult{ID: rec.ID, Name: rec.Name}

	update, err := refresher.Refresh(ctx, rec)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	updated, err := store.UpdateTokens(ctx, rec.ID, update)
	if err != nil {
		result.Error = fmt.Sprintf("refresh succeeded but save failed: %v", err)
		return result
	}

	result.Success = true
	if !updated.ExpiresAt.IsZero() {
		result.ExpiresAt = updated.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return result
}

func printRefreshResult(result RefreshResult) {
	name := result.Name
	if name == "" {
		name = strconv.FormatInt(result.ID, 10)
	}
	if len(name) > 35 {
		name = name[:32] + "..."
	}

	if result.Success {
		fmt.Printf("  %s+%s %-35s %srefreshed%s\n", colorGreen, colorReset, name, colorGreen, colorReset)
		return
	}

	errMsg := result.Error
	if len(errMsg) > 40 {
		errMsg = errMsg[:37] + "..."
	}
	fmt.Printf("  %sx%s %-35s %sfailed%s: %s\n", colorRed, colorReset, name, colorRed, colorReset, errMsg)
}
