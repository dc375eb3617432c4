package app

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"

	"live-quiz-service/internal/domain"
)

// withRetry reruns op while it fails with a transaction conflict, up to the
// configured attempt count. Any other error stops immediately.
func (s *GameService) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 20 * s.retryInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.submitAttempts-1)), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTransactionConflict) {
			glog.V(2).Infof("transaction conflict on attempt %d", attempt)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}
