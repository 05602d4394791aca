package replication

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/shmstore/utils/log"
)

// ErrRetryable marks an error after which the Retryer tries again, e.g. a
// dropped stream connection.
var ErrRetryable = errors.New("retryable replication error")

// maxRetryInterval caps the backoff.
const maxRetryInterval = time.Minute

type Retryer struct {
	retryFunc    func(ctx context.Context) error
	interval     time.Duration
	backoffCoeff int
}

func NewRetryer(retryFunc func(ctx context.Context) error, interval time.Duration, backoffCoeff int) *Retryer {
	return &Retryer{
		retryFunc:    retryFunc,
		interval:     interval,
		backoffCoeff: backoffCoeff,
	}
}

// Run tries the Retryer until it succeeds, it returns unretriable error, or the context is canceled.
func (r *Retryer) Run(ctx context.Context) error {
	for cnt := 0; ; cnt++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "retry aborted")
		}
		err := r.retryFunc(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRetryable) {
			log.Warn("caught a non-retryable error: %v", err)
			return err
		}
		interval := retryInterval(r.interval, r.backoffCoeff, cnt)
		log.Warn("caught a retryable error, retrying in %dms: %v", interval.Milliseconds(), err)
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Wrap(ctx.Err(), "retry aborted")
		case <-t.C:
		}
	}
}

func retryInterval(interval time.Duration, backoffCoeff, retryCount int) time.Duration {
	coeff := math.Pow(float64(backoffCoeff), float64(retryCount))
	d := time.Duration(float64(interval) * coeff)
	if d <= 0 || d > maxRetryInterval {
		return maxRetryInterval
	}
	return d
}
