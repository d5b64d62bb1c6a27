package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/sethvargo/go-retry"
)

// retry runs fn, retrying common.ErrTransient failures with exponential
// backoff. Any other error, including integrity failures, ends it at once.
func (s *FileService) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(s.retryAttempts, retry.NewExponential(s.retryBaseDelay))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, common.ErrTransient) {
			return retry.RetryableError(err)
		}
		return err
	})
}
