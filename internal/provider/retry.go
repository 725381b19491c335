package provider

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultRetryBase = 500 * time.Millisecond

// WithRetry wraps p so transient failures (throttling, 5xx, refused
// connections) are retried up to maxRetries times with exponential backoff
// starting at base (500ms when unset). Retries share the caller's context, so they never extend
// an invocation past its timeout.
func WithRetry(p Provider, maxRetries uint64, base time.Duration) Provider {
	if maxRetries == 0 {
		return p
	}
	if base <= 0 {
		base = defaultRetryBase
	}
	return ProviderFunc(func(ctx context.Context, req Request) (Response, error) {
		b := retry.WithMaxRetries(maxRetries, retry.NewExponential(base))

		var resp Response
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			r, err := p.Query(ctx, req)
			if err != nil {
				if IsTransient(err) {
					return retry.RetryableError(err)
				}
				return err
			}
			resp = r
			return nil
		})
		return resp, err
	})
}
