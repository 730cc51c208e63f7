package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"scoreledger/internal/domain"
	"scoreledger/internal/logging"
)

// RetryPolicy re-runs an extraction after network failures only. Malformed
// output and cancellation are returned immediately.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   logrus.FieldLogger
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 2 * time.Second}
}

// Wrap returns an Extractor that applies the policy to every call.
func (p RetryPolicy) Wrap(next Extractor) Extractor {
	return ExtractorFunc(func(ctx context.Context, rawText string) (string, error) {
		return p.Do(ctx, func(ctx context.Context) (string, error) {
			return next.Extract(ctx, rawText)
		})
	})
}

func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	log := logging.Component(p.Logger, "llm.retry")

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var netErr *domain.NetworkError
		if !errors.As(err, &netErr) || attempt == attempts {
			break
		}
		log.WithFields(logrus.Fields{"attempt": attempt, "of": attempts}).WithError(err).Warn("llm extract failed, retrying")
		if err := sleep(ctx, p.Backoff); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
