package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// RetryPolicy bounds retries of item-level store calls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval * 20
	}
	return p
}

// Do runs op until it succeeds, returns a domain error, the attempts are
// spent or ctx ends. Domain errors are never retried.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	p = p.normalized()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && apperrors.ToDomainError(err).Code != apperrors.CodeInternal {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
