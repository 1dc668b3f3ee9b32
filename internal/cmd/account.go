package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// AccountInfo holds parsed account information for display.
type AccountInfo struct {
	ID        int64
	Name      string
	Source    string
	Health    string
	ExpiresAt time.Time
	IsExpired bool
}

// ListAccounts lists the active credential records with their derived
// health; inactive records are not listed.
func ListAccounts(ctx context.Context, store credstore.Store, jsonOutput bool) error {
	records, err := store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := parseAccounts(records)

	if jsonOutput {
		return outputJSON(accounts)
	}
	return outputTable(accounts)
}

// ShowStatus shows a summary of account health grouped by source.
func ShowStatus(ctx context.Context, store credstore.Store, jsonOutput bool) error {
	records, err := store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := parseAccounts(records)

	stats := make(map[string]struct{ active, expired int })
	for _, acc := range accounts {
		s := stats[acc.Source]
		if acc.IsExpired {
			s.expired++
		} else {
			s.active++
		}
		stats[acc.Source] = s
	}

	if jsonOutput {
		result := map[string]any{
			"total_accounts": len(accounts),
			"by_source":      stats,
		}
		return outputJSON(result)
	}

	fmt.Printf("\n%s%sKiro Gateway Account Status%s\n", colorBold, colorCyan, colorReset)
	fmt.Printf("%s─────────────────────────────%s\n\n", colorDim, colorReset)

	totalActive, totalExpired := 0, 0
	for source, s := range stats {
		totalActive += s.active
		totalExpired += s.expired

		status := fmt.Sprintf("%s%d active%s", colorGreen, s.active, colorReset)
		if s.expired > 0 {
			status += fmt.Sprintf(", %s%d expired%s", colorRed, s.expired, colorReset)
		}
		fmt.Printf("  %-15s %s\n", source+":", status)
	}

	fmt.Printf("\n%s─────────────────────────────%s\n", colorDim, colorReset)
	fmt.Printf("  %-15s %s%d active%s", "Total:", colorBold+colorGreen, totalActive, colorReset)
	if totalExpired > 0 {
		fmt.Printf(", %s%d expired%s", colorRed, totalExpired, colorReset)
	}
	fmt.Printf(" (%d accounts)\n\n", len(accounts))

	return nil
}

// CleanupExpired deactivates every record whose health is expired.
func CleanupExpired(ctx context.Context, store credstore.Store, dryRun bool) error {
	records, err := store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	now := time.Now()
	var expired []*credential.Record
	for _, rec := range records {
		if rec.Health(now) == credential.HealthExpired {
			expired = append(expired, rec)
		}
	}

	if len(expired) == 0 {
		fmt.Printf("%sNo expired accounts found%s\n", colorGreen, colorReset)
		return nil
	}

	fmt.Printf("\n%sExpired accounts:%s\n", colorYellow, colorReset)
	for _, rec := range expired {
		fmt.Printf("  - %s (id=%d) - expired %s\n", rec.Name, rec.ID, rec.ExpiresAt.Format("2006-01-02"))
	}

	if dryRun {
		fmt.Printf("\n%s[dry-run] Would deactivate %d expired account(s)%s\n", colorCyan, len(expired), colorReset)
		return nil
	}

	fmt.Printf("\nDeactivating %d expired account(s)...\n", len(expired))
	inactive := false
	for _, rec := range expired {
		if _, err := store.Update(ctx, rec.ID, credential.Patch{IsActive: &inactive}); err != nil {
			fmt.Printf("  %sx%s Failed to deactivate %d: %v%s\n", colorRed, colorReset, rec.ID, err, colorReset)
		} else {
			fmt.Printf("  %s+%s Deactivated %d%s\n", colorGreen, colorReset, rec.ID, colorReset)
		}
	}

	return nil
}

// RemoveAccount deletes a specific account by id or name.
func RemoveAccount(ctx context.Context, store credstore.Store, identifier string) error {
	records, err := store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	identifier = strings.TrimSpace(strings.ToLower(identifier))

	var toRemove *credential.Record
	for _, rec := range records {
		idStr := strconv.FormatInt(rec.ID, 10)
		name := strings.ToLower(rec.Name)
		if idStr == identifier || name == identifier || strings.Contains(name, identifier) {
			toRemove = rec
			break
		}
	}

	if toRemove == nil {
		return fmt.Errorf("account not found: %s", identifier)
	}

	if err := store.Delete(ctx, toRemove.ID); err != nil {
		return fmt.Errorf("failed to remove %d: %w", toRemove.ID, err)
	}

	fmt.Printf("%s+%s Removed account: %s (id=%d)%s\n", colorGreen, colorReset, toRemove.Name, toRemove.ID, colorReset)
	return nil
}

// parseAccounts converts Records to AccountInfo for display.
func parseAccounts(records []*credential.Record) []AccountInfo {
	now := time.Now()
	accounts := make([]AccountInfo, 0, len(records))
	for _, rec := range records {
		health := rec.Health(now)
		accounts = append(accounts, AccountInfo{
			ID:        rec.ID,
			Name:      rec.Name,
			Source:    string(rec.Source),
			Health:    string(health),
			ExpiresAt: rec.ExpiresAt,
			IsExpired: health == credential.HealthExpired,
		})
	}
	return accounts
}

// outputJSON outputs data as JSON.
func outputJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// outputTable outputs accounts as a formatted table.
func outputTable(accounts []AccountInfo) error {
	if len(accounts) == 0 {
		fmt.Printf("%sNo accounts found%s\n", colorYellow, colorReset)
		return nil
	}

	fmt.Printf("\n%s%s%-6s %-25s %-14s %s%s\n",
		colorBold, colorCyan,
		"ID", "NAME", "SOURCE", "STATUS",
		colorReset)
	fmt.Printf("%s────────────────────────────────────────────────────────%s\n", colorDim, colorReset)

	for _, acc := range accounts {
		name := acc.Name
		if len(name) > 23 {
			name = name[:20] + "..."
		}

		status := colorGreen + acc.Health + colorReset
		if acc.IsExpired {
			status = colorRed + acc.Health + colorReset
		}

		fmt.Printf("%-6d %-25s %-14s %s\n", acc.ID, name, acc.Source, status)
	}

	fmt.Printf("%s────────────────────────────────────────────────────────%s\n", colorDim, colorReset)
	fmt.Printf("Total: %d account(s)\n\n", len(accounts))

	return nil
}
