package diary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	syncerr "github.com/alexjbarnes/diary-sync/internal/errors"
	"github.com/sethvargo/go-retry"
)

const (
	pushTokenAttempts  = 3
	pushTokenBaseDelay = 500 * time.Millisecond
)

// tokenStore remembers the last push token the backend accepted.
type tokenStore interface {
	PushToken() string
	SetPushToken(token string) error
}

// RegisterPushToken registers token for device, retrying network and
// server failures up to three attempts with exponential delay. A token the
// store already recorded as registered is not sent again.
func RegisterPushToken(ctx context.Context, backend Backend, store tokenStore, token, device string, logger *slog.Logger) error {
	if token == "" {
		return nil
	}
	logger = orDiscard(logger)
	if store != nil && store.PushToken() == token {
		logger.Debug("push token already registered")
		return nil
	}

	return registerWithBackoff(ctx, backend, store, token, device, retry.NewExponential(pushTokenBaseDelay), logger)
}

func registerWithBackoff(ctx context.Context, backend Backend, store tokenStore, token, device string, base retry.Backoff, logger *slog.Logger) error {
	attempt := 0
	backoff := retry.WithMaxRetries(pushTokenAttempts-1, base)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := backend.RegisterPushToken(ctx, token, device)
		if err == nil {
			return nil
		}

		logger.Warn("push token registration failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if errors.Is(err, syncerr.ErrNetworkUnreachable) || errors.Is(err, syncerr.ErrServerRejected) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("registering push token after %d attempts: %w", attempt, err)
	}

	if store != nil {
		if err := store.SetPushToken(token); err != nil {
			logger.Warn("recording push token", slog.String("error", err.Error()))
		}
	}

	logger.Info("push token registered", slog.String("device", device))

	return nil
}
