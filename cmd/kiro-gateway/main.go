// Command kiro-gateway exercises the credential lifecycle and streaming
// core end-to-end: login, refresh, logs, and account inspection, plus a
// `relay` subcommand that drives one request through the account pool,
// request auth resolver, upstream client, and stream transcoder, without
// pulling in the HTTP proxy surface that would front it in production.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jwadow/kiro-gateway/internal/auth/kiro"
	"github.com/jwadow/kiro-gateway/internal/cmd"
	"github.com/jwadow/kiro-gateway/internal/config"
	"github.com/jwadow/kiro-gateway/internal/logging"
	"github.com/jwadow/kiro-gateway/internal/upstream"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := strings.ToLower(strings.TrimSpace(os.Args[1]))

	fs := flag.NewFlagSet("kiro-gateway "+command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config.yaml")
	jsonOut := fs.Bool("json", false, "Output JSON when applicable")
	identifier := fs.String("account", "", "Account id or name filter")
	device := fs.Bool("device", false, "Use the device-code login flow instead of the browser/PKCE flow")
	browserOut := fs.Bool("browser", true, "Open the default browser during the PKCE login flow")
	tail := fs.Int("tail", cmd.DefaultLogLines, "Number of log lines to show")
	dryRun := fs.Bool("dry-run", false, "Preview cleanup without deactivating accounts")
	conversationFile := fs.String("conversation", "", "Path to a JSON conversation body for relay (defaults to stdin)")
	_ = fs.Parse(os.Args[2:])

	logging.Configure(logging.FormatText, os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()

	switch command {
	case "login":
		store, err := cmd.OpenStoreForCLI(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		if err := cmd.DoKiroLogin(ctx, store, cfg, &cmd.LoginOptions{UseDevice: *device, OpenBrowser: *browserOut}); err != nil {
			fatal(err)
		}
	case "refresh":
		store, err := cmd.OpenStoreForCLI(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		refresher := kiro.NewRefresher(nil)
		if err := cmd.RefreshTokens(ctx, store, refresher, *identifier, *jsonOut); err != nil {
			fatal(err)
		}
	case "logs":
		if err := cmd.ShowLogs(*tail, *jsonOut); err != nil {
			fatal(err)
		}
	case "accounts":
		store, err := cmd.OpenStoreForCLI(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		if err := cmd.ListAccounts(ctx, store, *jsonOut); err != nil {
			fatal(err)
		}
	case "status":
		store, err := cmd.OpenStoreForCLI(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		if err := cmd.ShowStatus(ctx, store, *jsonOut); err != nil {
			fatal(err)
		}
	case "cleanup":
		store, err := cmd.OpenStoreForCLI(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		if err := cmd.CleanupExpired(ctx, store, *dryRun); err != nil {
			fatal(err)
		}
	case "remove":
		store, err := cmd.OpenStoreForCLI(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		if err := cmd.RemoveAccount(ctx, store, *identifier); err != nil {
			fatal(err)
		}
	case "relay":
		store, err := cmd.OpenStoreForCLI(ctx, cfg)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		conversation, err := readConversation(*conversationFile)
		if err != nil {
			fatal(err)
		}
		refresher := kiro.NewRefresher(nil)
		client := upstream.New(nil, refresher, fingerprintSeed(), "")
		if err := cmd.RunRelay(ctx, store, cfg, client, conversation, *jsonOut); err != nil {
			fatal(err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func readConversation(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func fingerprintSeed() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "kiro-gateway"
	}
	return host
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: kiro-gateway <login|refresh|logs|accounts|status|cleanup|remove|relay> [flags]")
	fmt.Fprintln(os.Stderr, "Flags: -config <path> -json -account <id|name> -device -browser -tail <n> -dry-run -conversation <path>")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
