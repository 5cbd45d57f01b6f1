package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ConnectWithRetry calls Connect and, on failure, waits delay before trying again, up to
// maxAttempts additional times. maxAttempts of 0 means a single attempt. The wait between
// attempts ends early when ctx is done.
func (s *Session) ConnectWithRetry(ctx context.Context, maxAttempts int, delay time.Duration) error {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	total := maxAttempts + 1

	var err error
	for attempt := 1; attempt <= total; attempt++ {
		if err = s.Connect(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrSessionClosed) {
			return err
		}
		if attempt == total {
			break
		}

		slog.Warn("Connection attempt failed, retrying", "attempt", attempt, "max_attempts", total, "delay", delay, "error", err.Error())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("connect to rosbridge cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}

	slog.Error("Max connection attempts reached. Giving up.", "attempts", total, "url", s.url, "error", err.Error())
	return fmt.Errorf("connect to rosbridge failed after %d attempts: %w", total, err)
}
