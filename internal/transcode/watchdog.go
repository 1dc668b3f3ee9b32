package transcode

import (
	"context"
	"net/http"
	"time"

	apperrors "github.com/jwadow/kiro-gateway/internal/errors"
)

// WatchdogConfig holds the first-token timeout/retry budget and the
// per-read timeout applied once streaming begins (§4.8).
type WatchdogConfig struct {
	FirstTokenTimeout    time.Duration
	FirstTokenMaxRetries int
	StreamingReadTimeout time.Duration
}

// DefaultWatchdogConfig matches §4.8's stated defaults.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		FirstTokenTimeout:    15 * time.Second,
		FirstTokenMaxRetries: 3,
		StreamingReadTimeout: 300 * time.Second,
	}
}

// Validate enforces that StreamingReadTimeout strictly exceeds
// FirstTokenTimeout, per §4.8.
func (c WatchdogConfig) Validate() error {
	if c.StreamingReadTimeout <= c.FirstTokenTimeout {
		return apperrors.New(http.StatusInternalServerError, "invalid_watchdog_config", "streaming_read_timeout must exceed first_token_timeout", nil)
	}
	return nil
}

// Attempt is one upstream call attempt, returning the response handle to
// race against the watchdog's timer.
type Attempt func(ctx context.Context) (<-chan []byte, error)

// RunWithWatchdog races Attempt's first byte against FirstTokenTimeout, up
// to FirstTokenMaxRetries total attempts. On success it returns the
// channel that yielded a first byte and that first byte. It does not apply
// StreamingReadTimeout: per-read timing beyond the first byte is left to
// the caller, and the watchdog itself only guards arrival of that byte.
func RunWithWatchdog(ctx context.Context, cfg WatchdogConfig, attempt Attempt) (<-chan []byte, []byte, error) {
	var lastErr error
	for try := 0; try < cfg.FirstTokenMaxRetries; try++ {
		attemptCtx, cancel := context.WithCancel(ctx)
		ch, err := attempt(attemptCtx)
		if err != nil {
			cancel()
			lastErr = err
			continue
		}

		timer := time.NewTimer(cfg.FirstTokenTimeout)
		select {
		case first, ok := <-ch:
			timer.Stop()
			if !ok {
				cancel()
				lastErr = apperrors.FirstTokenTimeout(try + 1)
				continue
			}
			return ch, first, nil
		case <-timer.C:
			cancel()
			lastErr = apperrors.FirstTokenTimeout(try + 1)
			continue
		case <-ctx.Done():
			timer.Stop()
			cancel()
			return nil, nil, ctx.Err()
		}
	}
	return nil, nil, lastErr
}
