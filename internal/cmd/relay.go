package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jwadow/kiro-gateway/internal/auth/kiro"
	"github.com/jwadow/kiro-gateway/internal/config"
	"github.com/jwadow/kiro-gateway/internal/credential"
	"github.com/jwadow/kiro-gateway/internal/credstore"
	"github.com/jwadow/kiro-gateway/internal/pool"
	"github.com/jwadow/kiro-gateway/internal/resolver"
	"github.com/jwadow/kiro-gateway/internal/transcode"
	log "github.com/sirupsen/logrus"
)

// Upstream is the subset of upstream.Client RunRelay depends on, kept as an
// interface so the full C5-C8 pipeline can be driven end to end against a
// fake upstream response in tests instead of a live CodeWhisperer endpoint.
type Upstream interface {
	Generate(ctx context.Context, rec *credential.Record, conversation []byte) (*http.Response, error)
}

// RunRelay drives one request through the whole credential-to-response
// pipeline described in §2: the account pool (C5) supplies candidates to
// the request auth resolver (C6), the upstream client (C7) issues the call
// against the chosen credential, and the watchdog/parser (C8) decode the
// streamed response into events as they arrive. It is the gateway's
// `relay` subcommand (§7.4) — a minimal demonstration/integration harness
// for the pipeline, standing in for the HTTP proxy surface that consumes
// it in a full deployment.
func RunRelay(ctx context.Context, store credstore.Store, cfg *config.Config, client Upstream, conversation []byte, jsonOut bool) error {
	refresher := kiro.NewRefresher(nil)

	p := pool.New(store, refresher)
	if err := p.Load(ctx); err != nil {
		return fmt.Errorf("failed to load account pool: %w", err)
	}

	res := resolver.New(resolver.Options{Mode: resolver.ModePool, Pool: p, Refresher: refresher})
	rec, err := res.Resolve(ctx, "")
	if err != nil {
		return fmt.Errorf("no usable credential: %w", err)
	}

	watchdogCfg := transcode.WatchdogConfig{
		FirstTokenTimeout:    cfg.FirstTokenTimeout,
		FirstTokenMaxRetries: cfg.FirstTokenMaxRetries,
		StreamingReadTimeout: cfg.StreamingReadTimeout,
	}
	if err := watchdogCfg.Validate(); err != nil {
		return err
	}

	attempt := func(attemptCtx context.Context) (<-chan []byte, error) {
		resp, err := client.Generate(attemptCtx, rec, conversation)
		if err != nil {
			return nil, err
		}
		ch := make(chan []byte)
		go func() {
			defer close(ch)
			defer resp.Body.Close()
			for {
				frame, err := transcode.ReadFrame(resp.Body)
				if err != nil {
					return
				}
				select {
				case ch <- frame.Payload:
				case <-attemptCtx.Done():
					return
				}
			}
		}()
		return ch, nil
	}

	ch, first, err := transcode.RunWithWatchdog(ctx, watchdogCfg, attempt)
	if err != nil {
		return fmt.Errorf("upstream streaming failed: %w", err)
	}

	parser := transcode.NewParser()
	for _, ev := range parser.Feed(first) {
		printRelayEvent(ev, jsonOut)
	}
	for payload := range ch {
		for _, ev := range parser.Feed(payload) {
			printRelayEvent(ev, jsonOut)
		}
	}
	for _, tc := range parser.ToolCalls() {
		printRelayToolCall(tc, jsonOut)
	}

	log.Debugf("relay: served one request via account id=%d", rec.ID)
	return nil
}

func printRelayEvent(ev transcode.Event, jsonOut bool) {
	if jsonOut {
		_ = outputJSON(map[string]any{
			"kind":              ev.Kind,
			"text":              ev.Text,
			"usage":             ev.Usage,
			"context_usage_pct": ev.ContextUsagePct,
		})
		return
	}
	switch ev.Kind {
	case "content":
		fmt.Print(ev.Text)
	case "usage":
		fmt.Printf("\n%s[usage: %.0f]%s\n", colorDim, ev.Usage, colorReset)
	case "context_usage":
		fmt.Printf("%s[context usage: %.1f%%]%s\n", colorDim, ev.ContextUsagePct, colorReset)
	}
}

func printRelayToolCall(tc transcode.ToolCall, jsonOut bool) {
	if jsonOut {
		_ = outputJSON(map[string]any{"tool_call": tc.Name, "arguments": tc.Arguments})
		return
	}
	fmt.Printf("\n%s[tool call: %s(%s)]%s\n", colorCyan, tc.Name, tc.Arguments, colorReset)
}
