package replication

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// flakyDial fails with a wrapped retryable error until the given attempt.
type flakyDial struct {
	attempts  int
	succeedAt int
}

func (d *flakyDial) dial(_ context.Context) error {
	d.attempts++
	if d.attempts == d.succeedAt {
		return nil
	}
	return errors.Wrap(ErrRetryable, "dial ws://127.0.0.1:5995/stream: connection refused")
}

func TestRetryerRun(t *testing.T) {
	t.Parallel()
	errBadBatch := errors.New("decode batch: unexpected EOF")

	tests := map[string]struct {
		run      func(ctx context.Context) error
		ctx      func() (context.Context, context.CancelFunc)
		wantErr  error
		attempts int
	}{
		"first try": {
			run:      func(context.Context) error { return nil },
			attempts: 1,
		},
		"fatal error is returned as is": {
			run:      func(context.Context) error { return errBadBatch },
			wantErr:  errBadBatch,
			attempts: 1,
		},
		"reconnects until the dial succeeds": {
			run:      (&flakyDial{succeedAt: 3}).dial,
			attempts: 3,
		},
		"gives up at the deadline": {
			run: func(context.Context) error { return ErrRetryable },
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
			wantErr: context.DeadlineExceeded,
		},
		"canceled before the first try": {
			run: func(context.Context) error { return ErrRetryable },
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
			wantErr: context.Canceled,
		},
	}
	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// --- given ---
			ctx, cancel := context.WithCancel(context.Background())
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()
			calls := 0
			r := NewRetryer(func(ctx context.Context) error {
				calls++
				return tt.run(ctx)
			}, 5*time.Millisecond, 2)

			// --- when ---
			err := r.Run(ctx)

			// --- then ---
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.attempts > 0 {
				assert.Equal(t, tt.attempts, calls)
			}
		})
	}
}

func TestRetryInterval(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 100*time.Millisecond, retryInterval(100*time.Millisecond, 2, 0))
	assert.Equal(t, 800*time.Millisecond, retryInterval(100*time.Millisecond, 2, 3))
	assert.Equal(t, maxRetryInterval, retryInterval(time.Second, 2, 10))
	// overflow
	assert.Equal(t, maxRetryInterval, retryInterval(time.Second, 10, 100))
}
