package transcode

import (
	"context"
	"testing"
	"time"
)

func TestWatchdogConfigValidate(t *testing.T) {
	cfg := WatchdogConfig{FirstTokenTimeout: 15 * time.Second, StreamingReadTimeout: 10 * time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when streaming_read_timeout does not exceed first_token_timeout")
	}

	cfg.StreamingReadTimeout = 300 * time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestDefaultWatchdogConfigIsValid(t *testing.T) {
	if err := DefaultWatchdogConfig().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestRunWithWatchdogSucceedsFirstAttempt(t *testing.T) {
	cfg := WatchdogConfig{FirstTokenTimeout: 50 * time.Millisecond, FirstTokenMaxRetries: 2, StreamingReadTimeout: time.Second}

	attempt := func(ctx context.Context) (<-chan []byte, error) {
		ch := make(chan []byte, 1)
		ch <- []byte("hello")
		return ch, nil
	}

	ch, first, err := RunWithWatchdog(context.Background(), cfg, attempt)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != "hello" {
		t.Fatalf("unexpected first byte payload: %s", first)
	}
	if ch == nil {
		t.Fatal("expected non-nil channel returned")
	}
}

func TestRunWithWatchdogRetriesAfterTimeout(t *testing.T) {
	cfg := WatchdogConfig{FirstTokenTimeout: 20 * time.Millisecond, FirstTokenMaxRetries: 2, StreamingReadTimeout: time.Second}

	tries := 0
	attempt := func(ctx context.Context) (<-chan []byte, error) {
		tries++
		ch := make(chan []byte, 1)
		if tries < 2 {
			// never send: forces a first-token timeout on this attempt
			return ch, nil
		}
		ch <- []byte("ok")
		return ch, nil
	}

	_, first, err := RunWithWatchdog(context.Background(), cfg, attempt)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != "ok" {
		t.Fatalf("unexpected payload: %s", first)
	}
	if tries != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", tries)
	}
}

func TestRunWithWatchdogExhaustsRetryBudget(t *testing.T) {
	cfg := WatchdogConfig{FirstTokenTimeout: 10 * time.Millisecond, FirstTokenMaxRetries: 2, StreamingReadTimeout: time.Second}

	tries := 0
	attempt := func(ctx context.Context) (<-chan []byte, error) {
		tries++
		return make(chan []byte), nil
	}

	_, _, err := RunWithWatchdog(context.Background(), cfg, attempt)
	if err == nil {
		t.Fatal("expected error after exhausting retry budget")
	}
	if tries != cfg.FirstTokenMaxRetries {
		t.Fatalf("expected exactly %d attempts, got %d", cfg.FirstTokenMaxRetries, tries)
	}
}

func TestRunWithWatchdogRespectsContextCancellation(t *testing.T) {
	cfg := WatchdogConfig{FirstTokenTimeout: time.Second, FirstTokenMaxRetries: 2, StreamingReadTimeout: 2 * time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt := func(ctx context.Context) (<-chan []byte, error) {
		return make(chan []byte), nil
	}

	_, _, err := RunWithWatchdog(ctx, cfg, attempt)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
