package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/d1249/maildigest/internal/apperr"
	"github.com/d1249/maildigest/internal/domain"
)

// Driver wraps a domain.MailboxDriver with a circuit breaker and bounded
// exponential backoff retry, so a flaky or wedged mailbox backend degrades
// the Fetch stage instead of hanging the whole run (spec §4.1 "Fetch").
type Driver struct {
	inner      domain.MailboxDriver
	breaker    *Breaker
	maxRetries uint64
}

// NewDriver wraps inner. maxRetries is the number of retry attempts after
// the first try; 0 disables retry and leaves only the breaker.
func NewDriver(inner domain.MailboxDriver, breaker *Breaker, maxRetries uint64) *Driver {
	return &Driver{inner: inner, breaker: breaker, maxRetries: maxRetries}
}

// Fetch implements domain.MailboxDriver, retrying transient failures inside
// the breaker and translating a tripped breaker or a final transport
// failure into a *apperr.Error carrying KindMailboxTransport.
func (d *Driver) Fetch(ctx context.Context, windowStart, windowEnd time.Time, folders []string) ([]domain.RawRecord, error) {
	var records []domain.RawRecord

	err := d.breaker.Execute(func() error {
		operation := func() error {
			var innerErr error
			records, innerErr = d.inner.Fetch(ctx, windowStart, windowEnd, folders)
			return innerErr
		}

		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries), ctx)
		return backoff.Retry(operation, bo)
	})

	if err == nil {
		return records, nil
	}

	if err == ErrOpen || err == ErrTooManyRequest {
		return nil, apperr.Wrap(apperr.KindMailboxTransport, "mailbox circuit breaker is open", err)
	}
	if ctxErr(ctx) != nil {
		return nil, apperr.Wrap(apperr.KindMailboxTransport, "mailbox fetch cancelled", err)
	}
	return nil, apperr.Wrap(apperr.KindMailboxTransport, "mailbox fetch failed", err)
}
